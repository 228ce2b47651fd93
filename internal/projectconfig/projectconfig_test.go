package projectconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/starford/devpulse/internal/llm"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	if err := os.MkdirAll(Dir(root), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(root), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "ai_provider: groq\nmodel: llama-3.1-70b\n")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != llm.Groq || cfg.Model != "llama-3.1-70b" {
		t.Errorf("provider/model = %s/%s", cfg.Provider, cfg.Model)
	}
	if cfg.QuietWindow != DefaultQuietWindow {
		t.Errorf("quiet window = %v", cfg.QuietWindow)
	}
	if !reflect.DeepEqual(cfg.IgnorePatterns, DefaultIgnorePatterns) {
		t.Errorf("ignore patterns = %v", cfg.IgnorePatterns)
	}
	if cfg.Project.Name != filepath.Base(root) {
		t.Errorf("project name = %q", cfg.Project.Name)
	}
}

func TestLoad_Missing(t *testing.T) {
	if Exists(t.TempDir()) {
		t.Error("Exists on empty dir")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for uninitialised project")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown provider", func(c *Config) { c.Provider = "ollama" }, true},
		{"missing model", func(c *Config) { c.Model = "" }, true},
		{"window too short", func(c *Config) { c.QuietWindow = time.Second }, true},
		{"window too long", func(c *Config) { c.QuietWindow = time.Minute }, true},
		{"window lower bound", func(c *Config) { c.QuietWindow = 5 * time.Second }, false},
		{"bedrock without region", func(c *Config) { c.Provider = llm.Bedrock }, true},
		{"bedrock with region", func(c *Config) { c.Provider = llm.Bedrock; c.Region = "us-west-2" }, false},
		{"empty ignore pattern", func(c *Config) { c.IgnorePatterns = []string{""} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("app")
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default("shop")
	cfg.Provider = llm.Bedrock
	cfg.Region = "eu-central-1"
	cfg.QuietWindow = 7 * time.Second
	cfg.Project.TechStack = []string{"go", "postgres"}
	cfg.Features.TechnicalDebt = false

	if err := Save(root, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(root) {
		t.Fatal("config not written")
	}
	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	root := t.TempDir()
	cfg := Default("x")
	cfg.Model = ""
	if err := Save(root, cfg); err == nil {
		t.Fatal("expected validation error")
	}
	if Exists(root) {
		t.Error("invalid config should not be written")
	}
}

// Package credentials resolves backend API keys for a project.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/starford/devpulse/internal/apperr"
	"github.com/starford/devpulse/internal/llm"
	"github.com/starford/devpulse/internal/projectconfig"
	"github.com/starford/devpulse/internal/storage"
)

// FileName is the credentials file inside the project state directory.
const FileName = "credentials.env"

// Path returns the credentials file of the project rooted at root.
func Path(root string) string {
	return filepath.Join(projectconfig.Dir(root), FileName)
}

// EnvKey returns the variable holding the API key for provider, e.g. GROQ_API_KEY.
func EnvKey(provider llm.Provider) string {
	return strings.ToUpper(string(provider)) + "_API_KEY"
}

// Lookup returns the API key for provider. The project's credentials file
// wins over the process environment. ok is false when neither has a
// non-empty value.
func Lookup(root string, provider llm.Provider) (key string, ok bool) {
	name := EnvKey(provider)
	if vars, err := godotenv.Read(Path(root)); err == nil {
		if v := strings.TrimSpace(vars[name]); v != "" {
			return v, true
		}
	}
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, true
	}
	return "", false
}

// Require is Lookup returning apperr.ErrNotConfigured when no key exists.
func Require(root string, provider llm.Provider) (string, error) {
	key, ok := Lookup(root, provider)
	if !ok {
		return "", fmt.Errorf("credentials: %s: %w", EnvKey(provider), apperr.ErrNotConfigured)
	}
	return key, nil
}

// Store writes key for provider into the project's credentials file,
// keeping any other entries.
func Store(root string, provider llm.Provider, key string) error {
	vars, err := godotenv.Read(Path(root))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("credentials: read: %w", err)
		}
		vars = map[string]string{}
	}
	vars[EnvKey(provider)] = key
	content, err := godotenv.Marshal(vars)
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}
	if err := storage.WriteAtomic(Path(root), []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	return nil
}

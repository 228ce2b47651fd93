package mcpserver

// HistoryGuide explains how recorded changes are classified so that MCP
// clients can read the history tools' output correctly.
const HistoryGuide = `# devpulse Change History Guide

devpulse watches a project directory, groups bursts of file edits into one
**change** once the directory has been quiet for a few seconds, and asks a
language model to describe it.

## Change fields

- ` + "`summary`" + `: one-line human-readable description.
- ` + "`category`" + `: one of ` + "`feature`, `fix`, `refactor`, `docs`, `style`, `test`" + `.
  Anything the model answered outside this set is stored as ` + "`refactor`" + `.
- ` + "`impact`" + `: ` + "`low`, `medium` or `high`" + `; defaults to ` + "`medium`" + `.
- ` + "`affected_areas`" + `: components the model considered touched.
- ` + "`files_changed`, `lines_added`, `lines_removed`" + `: totals over the file details.
- ` + "`batch_id`" + `: identifier of the quiet-window batch that produced the change.

## Technical debt

A debt scan reports ` + "`large_file`" + ` (over 500 lines; ` + "`high`" + ` above 1000) and
` + "`todo_comment`" + ` items (TODO, FIXME and HACK markers, severity ` + "`low`" + `).
Each scan replaces the previous findings.

## Tools

- ` + "`list_changes`" + `: newest first, optional ` + "`since`" + ` (RFC 3339) and ` + "`limit`" + `.
- ` + "`get_change`" + `: one change with its file details.
- ` + "`change_summary`" + `: totals over the whole history.
- ` + "`file_hotspots`" + `: files ranked by the number of changes touching them.
- ` + "`technical_debt`" + `: findings of the latest scan.
- ` + "`velocity`, `activity_timeline`" + `: activity over the last ` + "`days`" + ` days.
`

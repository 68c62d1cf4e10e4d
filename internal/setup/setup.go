// Package setup installs and uninstalls the shadowdb MCP server entry for
// supported coding agents (Claude Code, Cursor, Codex, OpenCode).
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Result is the return value from all Setup/Uninstall functions.
type Result struct {
	Status  string // always "ok"
	Message string
}

func ok(msg string) Result          { return Result{Status: "ok", Message: msg} }
func okf(f string, a ...any) Result { return ok(fmt.Sprintf(f, a...)) }

// ---------------------------------------------------------------------------
// MCP config entries
// ---------------------------------------------------------------------------

var mcpConfig = map[string]any{
	"command": "shadowdb",
	"args":    []any{"mcp"},
	"type":    "stdio",
}

var opencodeMCPConfig = map[string]any{
	"type":    "local",
	"command": []any{"shadowdb", "mcp"},
}

// ---------------------------------------------------------------------------
// Default path helpers
// ---------------------------------------------------------------------------

// DefaultClaudeHome returns the default ~/.claude directory.
func DefaultClaudeHome() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// DefaultCursorHome returns the default ~/.cursor directory.
func DefaultCursorHome() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cursor")
}

// DefaultCodexHome returns the default ~/.codex directory.
func DefaultCodexHome() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codex")
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func readJSON(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return make(map[string]any)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return make(map[string]any)
	}
	return m
}

func writeJSON(path string, data map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644) // #nosec G306 -- agent config files (MCP server entries) do not contain secrets
}

// ---------------------------------------------------------------------------
// TOML helpers (text-based; only handles the [mcp_servers.shadowdb] table)
// ---------------------------------------------------------------------------

const tomlMCPSection = "\n[mcp_servers.shadowdb]\ncommand = \"shadowdb\"\nargs = [\"mcp\"]\n"

func hasTOMLMCPSection(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "mcp_servers.shadowdb")
}

func appendTOMLMCPSection(path string) (bool, error) {
	if hasTOMLMCPSection(path) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.WriteString(tomlMCPSection)
	return err == nil, err
}

func removeTOMLMCPSection(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	content := string(data)
	if !strings.Contains(content, "mcp_servers.shadowdb") {
		return false, nil
	}
	// Process line-by-line: skip the [mcp_servers.shadowdb] header and its
	// key-value pairs up to the next TOML table header or EOF.
	lines := strings.Split(content, "\n")
	result := make([]string, 0, len(lines))
	inSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "[mcp_servers.shadowdb]" {
			inSection = true
			continue
		}
		if inSection && strings.HasPrefix(trimmed, "[") {
			inSection = false
		}
		if !inSection {
			result = append(result, line)
		}
	}
	cleaned := strings.TrimRight(strings.Join(result, "\n"), "\n") + "\n"
	return true, os.WriteFile(path, []byte(cleaned), 0o644) // #nosec G306 -- agent TOML config is not a sensitive credential file
}

// ---------------------------------------------------------------------------
// JSON mcpServers helpers (Claude Code, Cursor)
// ---------------------------------------------------------------------------

func installMCPServers(path string) (bool, error) {
	data := readJSON(path)
	servers, _ := data["mcpServers"].(map[string]any)
	if servers == nil {
		servers = make(map[string]any)
		data["mcpServers"] = servers
	}
	if _, exists := servers["shadowdb"]; exists {
		return false, nil
	}
	servers["shadowdb"] = mcpConfig
	return true, writeJSON(path, data)
}

func uninstallMCPServers(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	data := readJSON(path)
	servers, _ := data["mcpServers"].(map[string]any)
	if _, exists := servers["shadowdb"]; !exists {
		return false, nil
	}
	delete(servers, "shadowdb")
	if len(servers) == 0 {
		delete(data, "mcpServers")
	}
	if len(data) == 0 {
		return true, os.Remove(path)
	}
	return true, writeJSON(path, data)
}

// ---------------------------------------------------------------------------
// JSON mcp helpers (OpenCode)
// ---------------------------------------------------------------------------

func installOpencodeMCP(path string) (bool, error) {
	data := readJSON(path)
	mcp, _ := data["mcp"].(map[string]any)
	if mcp == nil {
		mcp = make(map[string]any)
		data["mcp"] = mcp
	}
	if _, exists := mcp["shadowdb"]; exists {
		return false, nil
	}
	mcp["shadowdb"] = opencodeMCPConfig
	return true, writeJSON(path, data)
}

func uninstallOpencodeMCP(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	data := readJSON(path)
	mcp, _ := data["mcp"].(map[string]any)
	if _, exists := mcp["shadowdb"]; !exists {
		return false, nil
	}
	delete(mcp, "shadowdb")
	if len(mcp) == 0 {
		delete(data, "mcp")
	}
	if len(data) == 0 {
		return true, os.Remove(path)
	}
	return true, writeJSON(path, data)
}

// ---------------------------------------------------------------------------
// Claude Code path helper
// ---------------------------------------------------------------------------

//revive:disable:flag-parameter
func claudeMCPPath(claudeHome string, project bool) string {
	if project {
		return filepath.Join(filepath.Dir(claudeHome), ".mcp.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude.json")
}

//revive:enable:flag-parameter

// ---------------------------------------------------------------------------
// SetupClaudeCode
// ---------------------------------------------------------------------------

// SetupClaudeCode installs shadowdb into Claude Code.
// claudeHome defaults to ~/.claude when empty.
//
//revive:disable:flag-parameter
func SetupClaudeCode(claudeHome string, project bool) Result {
	if claudeHome == "" {
		claudeHome = DefaultClaudeHome()
	}
	mcpPath := claudeMCPPath(claudeHome, project)
	added, err := installMCPServers(mcpPath)
	if err != nil {
		return okf("Install failed: %v", err)
	}
	if !added {
		return ok("Already installed")
	}
	scope := ".mcp.json"
	if !project {
		scope = "~/.claude.json"
	}
	return okf("Installed: mcpServers in %s", scope)
}

//revive:enable:flag-parameter

// ---------------------------------------------------------------------------
// SetupCursor
// ---------------------------------------------------------------------------

// SetupCursor installs shadowdb into Cursor.
// cursorHome defaults to ~/.cursor when empty.
func SetupCursor(cursorHome string) Result {
	if cursorHome == "" {
		cursorHome = DefaultCursorHome()
	}
	mcpPath := filepath.Join(cursorHome, "mcp.json")
	added, err := installMCPServers(mcpPath)
	if err != nil {
		return okf("Install failed: %v", err)
	}
	if !added {
		return ok("Already installed")
	}
	return ok("Installed: mcpServers")
}

// ---------------------------------------------------------------------------
// SetupCodex
// ---------------------------------------------------------------------------

const codexAgentsMDSection = `
## shadowdb — Persistent Memory

You have persistent memory across sessions, backed by a real database. Use it.

### Session start — MANDATORY

Search for relevant records before doing any work:

` + "```bash\nshadowdb search \"<relevant terms>\"\n```" + `

Fetch one by id or virtual path when a search result needs the full text:

` + "```bash\nshadowdb get <id>\n```" + `

### Session end — MANDATORY

Before finishing any task that involved changes, debugging, decisions, or
learning, write a record:

` + "```bash" + `
shadowdb write "What happened, why, and what changed as a result." \
  --category decision \
  --title "Short descriptive title" \
  --tags "tag1,tag2,tag3"
` + "```" + `

### Rules

- Search before working. Write before finishing. No exceptions.
- Never include API keys, secrets, or credentials.
- Search before writing to avoid duplicates.
`

// SetupCodex installs shadowdb into Codex (AGENTS.md + config.toml MCP).
// codexHome defaults to ~/.codex when empty.
func SetupCodex(codexHome string) Result {
	if codexHome == "" {
		codexHome = DefaultCodexHome()
	}
	var installed []string

	agentsPath := filepath.Join(codexHome, "AGENTS.md")
	existing, _ := os.ReadFile(agentsPath)
	if !strings.Contains(string(existing), "## shadowdb") {
		if err := os.MkdirAll(filepath.Dir(agentsPath), 0o755); err == nil {
			content := strings.TrimRight(string(existing), "\n") + "\n" + codexAgentsMDSection
			if err := os.WriteFile(agentsPath, []byte(content), 0o644); err == nil { // #nosec G306 -- AGENTS.md does not contain secrets
				installed = append(installed, "AGENTS.md")
			}
		}
	}

	tomlPath := filepath.Join(codexHome, "config.toml")
	if added, err := appendTOMLMCPSection(tomlPath); err == nil && added {
		installed = append(installed, "config.toml")
	}

	if len(installed) == 0 {
		return ok("Already installed")
	}
	return okf("Installed: %s", strings.Join(installed, ", "))
}

// ---------------------------------------------------------------------------
// SetupOpencode
// ---------------------------------------------------------------------------

//revive:disable:flag-parameter
func opencodeMCPPath(project bool) string {
	if project {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, "opencode.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "opencode", "opencode.json")
}

//revive:enable:flag-parameter

// SetupOpencode installs shadowdb into OpenCode.
//
//revive:disable:flag-parameter
func SetupOpencode(project bool) Result {
	path := opencodeMCPPath(project)
	if added, err := installOpencodeMCP(path); err == nil && added {
		scope := "opencode.json"
		if !project {
			scope = "~/.config/opencode/opencode.json"
		}
		return okf("Installed: mcp in %s", scope)
	}
	return ok("Already installed")
}

//revive:enable:flag-parameter

// ---------------------------------------------------------------------------
// Uninstall functions
// ---------------------------------------------------------------------------

// UninstallClaudeCode removes shadowdb from Claude Code.
func UninstallClaudeCode(claudeHome string, project bool) Result {
	if claudeHome == "" {
		claudeHome = DefaultClaudeHome()
	}
	mcpPath := claudeMCPPath(claudeHome, project)
	if done, err := uninstallMCPServers(mcpPath); err == nil && done {
		return okf("Removed: mcpServers from %s", filepath.Base(mcpPath))
	}
	return ok("Nothing to remove")
}

// UninstallCursor removes shadowdb from Cursor.
func UninstallCursor(cursorHome string) Result {
	if cursorHome == "" {
		cursorHome = DefaultCursorHome()
	}
	mcpPath := filepath.Join(cursorHome, "mcp.json")
	if done, err := uninstallMCPServers(mcpPath); err == nil && done {
		return ok("Removed: mcpServers")
	}
	return ok("Nothing to remove")
}

// replaceShadowDBSection is the ReplaceAllStringFunc callback for
// removeCodexAgentsSection. It removes the matched shadowdb block,
// preserving any following ## heading.
func replaceShadowDBSection(m string) string {
	headingStart := strings.Index(m, "##")
	if headingStart < 0 {
		return ""
	}
	headingEnd := strings.Index(m[headingStart:], "\n")
	if headingEnd < 0 {
		return ""
	}
	body := m[headingStart+headingEnd+1:]
	if idx := strings.Index(body, "\n## "); idx >= 0 {
		return "\n" + body[idx+1:]
	}
	return ""
}

// removeCodexAgentsSection strips the ## shadowdb block from AGENTS.md content.
// Returns the cleaned content and true when a change was made.
func removeCodexAgentsSection(content string) (string, bool) {
	if !strings.Contains(content, "## shadowdb") {
		return content, false
	}
	re := regexp.MustCompile(`(?s)\n*## shadowdb[^\n]*\n.*?(?:\n## |\z)`)
	cleaned := re.ReplaceAllStringFunc(content, replaceShadowDBSection)
	return strings.TrimRight(cleaned, "\n") + "\n", true
}

// UninstallCodex removes shadowdb from Codex (AGENTS.md + config.toml).
func UninstallCodex(codexHome string) Result {
	if codexHome == "" {
		codexHome = DefaultCodexHome()
	}
	var removed []string

	agentsPath := filepath.Join(codexHome, "AGENTS.md")
	if data, err := os.ReadFile(agentsPath); err == nil {
		if cleaned, changed := removeCodexAgentsSection(string(data)); changed {
			_ = os.WriteFile(agentsPath, []byte(cleaned), 0o644) // #nosec G306 -- AGENTS.md does not contain secrets
			removed = append(removed, "AGENTS.md")
		}
	}

	tomlPath := filepath.Join(codexHome, "config.toml")
	if done, err := removeTOMLMCPSection(tomlPath); err == nil && done {
		removed = append(removed, "config.toml")
	}

	if len(removed) > 0 {
		return okf("Removed: %s", strings.Join(removed, ", "))
	}
	return ok("Nothing to remove")
}

// UninstallOpencode removes shadowdb from OpenCode.
//
//revive:disable:flag-parameter
func UninstallOpencode(project bool) Result {
	path := opencodeMCPPath(project)
	if done, err := uninstallOpencodeMCP(path); err == nil && done {
		scope := "opencode.json"
		if !project {
			scope = "~/.config/opencode/opencode.json"
		}
		return okf("Removed: mcp from %s", scope)
	}
	return ok("Nothing to remove")
}

//revive:enable:flag-parameter

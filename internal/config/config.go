// Package config resolves connection settings and the embedding/search/
// writes/primer sections a host supplies, following an env-over-file-over-
// default cascade throughout.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shadowdb/shadowdb/internal/backend"
	"github.com/shadowdb/shadowdb/internal/embeddings"
)

// ---------------------------------------------------------------------------
// Config types
// ---------------------------------------------------------------------------

// EmbeddingConfig mirrors embeddings.Config with yaml tags for the host's
// embedding.* keys.
type EmbeddingConfig struct {
	Provider         string            `yaml:"provider"`
	Model            string            `yaml:"model"`
	Dimensions       int               `yaml:"dimensions"`
	APIKey           string            `yaml:"apiKey"` // #nosec G117 -- intentional field name for the provider authentication token
	BaseURL          string            `yaml:"baseUrl"`
	OllamaURL        string            `yaml:"ollamaUrl"`
	Headers          map[string]string `yaml:"headers"`
	VoyageInputType  string            `yaml:"voyageInputType"`
	GeminiTaskType   string            `yaml:"geminiTaskType"`
	Command          string            `yaml:"command"`
	CommandArgs      []string          `yaml:"commandArgs"`
	CommandTimeoutMs int               `yaml:"commandTimeoutMs"`
}

// ToDispatcherConfig converts the yaml-shaped config into embeddings.Config.
func (e EmbeddingConfig) ToDispatcherConfig() embeddings.Config {
	return embeddings.Config{
		Provider:         e.Provider,
		Model:            e.Model,
		Dimensions:       e.Dimensions,
		APIKey:           e.APIKey,
		BaseURL:          e.BaseURL,
		OllamaURL:        e.OllamaURL,
		Headers:          e.Headers,
		VoyageInputType:  e.VoyageInputType,
		GeminiTaskType:   e.GeminiTaskType,
		Command:          e.Command,
		CommandArgs:      e.CommandArgs,
		CommandTimeoutMs: e.CommandTimeoutMs,
	}
}

// SearchConfig holds the host's search.* tuning keys.
type SearchConfig struct {
	MaxResults    int     `yaml:"maxResults"`
	MinScore      float64 `yaml:"minScore"`
	VectorWeight  float64 `yaml:"vectorWeight"`
	TextWeight    float64 `yaml:"textWeight"`
	RecencyWeight float64 `yaml:"recencyWeight"`
}

// RetentionConfig holds writes.retention.*.
type RetentionConfig struct {
	PurgeAfterDays int `yaml:"purgeAfterDays"`
}

// WritesConfig holds the host's writes.* keys.
type WritesConfig struct {
	Enabled   bool            `yaml:"enabled"`
	AutoEmbed bool            `yaml:"autoEmbed"`
	Retention RetentionConfig `yaml:"retention"`
}

// ModelBudget is one maxCharsByModel entry, matched in declared order.
type ModelBudget struct {
	Substring string `yaml:"substring"`
	MaxChars  int    `yaml:"maxChars"`
}

// PrimerConfig holds the host's primer.* keys.
type PrimerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Mode            string        `yaml:"mode"`
	MaxChars        int           `yaml:"maxChars"`
	MaxCharsByModel []ModelBudget `yaml:"maxCharsByModel"`
	CacheTTLMs      int           `yaml:"cacheTtlMs"`
}

// Config is the full host-supplied configuration for one shadowdb instance.
type Config struct {
	Backend   string          `yaml:"backend"` // "postgres" | "sqlite" | "mysql"
	Table     string          `yaml:"table"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Writes    WritesConfig    `yaml:"writes"`
	Primer    PrimerConfig    `yaml:"primer"`
}

// Default returns a Config populated with sensible defaults: sqlite backend,
// ollama embeddings, writes enabled with a 30-day retention window, primer
// enabled in first-run mode.
func Default() *Config {
	return &Config{
		Backend: "sqlite",
		Table:   backend.DefaultTable,
		Embedding: EmbeddingConfig{
			Provider: embeddings.Ollama,
			Model:    embeddings.DefaultModel(embeddings.Ollama),
		},
		Search: SearchConfig{
			MaxResults: 6,
			MinScore:   0.005,
		},
		Writes: WritesConfig{
			Enabled:   true,
			AutoEmbed: true,
			Retention: RetentionConfig{PurgeAfterDays: 30},
		},
		Primer: PrimerConfig{
			Enabled: true,
			Mode:    "first-run",
		},
	}
}

// Load reads a config.yaml from path. If the file does not exist it returns
// Default() with no error. Missing keys retain their default values; an
// unparseable file is ConfigMalformed territory, so the caller falls back
// to Default() rather than aborting and logs the returned error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	// Unmarshal into a plain map so only the keys actually present override
	// the defaults above.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, err
	}

	if v, ok := raw["backend"].(string); ok && v != "" {
		cfg.Backend = v
	}
	if v, ok := raw["table"].(string); ok && v != "" {
		cfg.Table = v
	}

	if emb, ok := raw["embedding"].(map[string]any); ok {
		applyEmbedding(&cfg.Embedding, emb)
	}
	if search, ok := raw["search"].(map[string]any); ok {
		applySearch(&cfg.Search, search)
	}
	if writes, ok := raw["writes"].(map[string]any); ok {
		applyWrites(&cfg.Writes, writes)
	}
	if primer, ok := raw["primer"].(map[string]any); ok {
		applyPrimer(&cfg.Primer, primer)
	}

	return cfg, nil
}

func applyEmbedding(e *EmbeddingConfig, raw map[string]any) {
	if v, ok := raw["provider"].(string); ok && v != "" {
		e.Provider = v
	}
	if v, ok := raw["model"].(string); ok && v != "" {
		e.Model = v
	}
	if v, ok := raw["dimensions"].(int); ok {
		e.Dimensions = v
	}
	if v, ok := raw["apiKey"].(string); ok {
		e.APIKey = v
	}
	if v, ok := raw["baseUrl"].(string); ok {
		e.BaseURL = v
	}
	if v, ok := raw["ollamaUrl"].(string); ok {
		e.OllamaURL = v
	}
	if v, ok := raw["headers"].(map[string]any); ok {
		e.Headers = make(map[string]string, len(v))
		for k, hv := range v {
			if s, ok := hv.(string); ok {
				e.Headers[k] = s
			}
		}
	}
	if v, ok := raw["voyageInputType"].(string); ok {
		e.VoyageInputType = v
	}
	if v, ok := raw["geminiTaskType"].(string); ok {
		e.GeminiTaskType = v
	}
	if v, ok := raw["command"].(string); ok {
		e.Command = v
	}
	if v, ok := raw["commandArgs"].([]any); ok {
		e.CommandArgs = nil
		for _, a := range v {
			if s, ok := a.(string); ok {
				e.CommandArgs = append(e.CommandArgs, s)
			}
		}
	}
	if v, ok := raw["commandTimeoutMs"].(int); ok {
		e.CommandTimeoutMs = v
	}
}

func applySearch(s *SearchConfig, raw map[string]any) {
	if v, ok := raw["maxResults"].(int); ok && v > 0 {
		s.MaxResults = v
	}
	if v, ok := raw["minScore"].(float64); ok {
		s.MinScore = v
	}
	if v, ok := raw["vectorWeight"].(float64); ok {
		s.VectorWeight = v
	}
	if v, ok := raw["textWeight"].(float64); ok {
		s.TextWeight = v
	}
	if v, ok := raw["recencyWeight"].(float64); ok {
		s.RecencyWeight = v
	}
}

func applyWrites(w *WritesConfig, raw map[string]any) {
	if v, ok := raw["enabled"].(bool); ok {
		w.Enabled = v
	}
	if v, ok := raw["autoEmbed"].(bool); ok {
		w.AutoEmbed = v
	}
	if ret, ok := raw["retention"].(map[string]any); ok {
		if v, ok := ret["purgeAfterDays"].(int); ok {
			w.Retention.PurgeAfterDays = v
		}
	}
}

func applyPrimer(p *PrimerConfig, raw map[string]any) {
	if v, ok := raw["enabled"].(bool); ok {
		p.Enabled = v
	}
	if v, ok := raw["mode"].(string); ok && v != "" {
		p.Mode = v
	}
	if v, ok := raw["maxChars"].(int); ok {
		p.MaxChars = v
	}
	if v, ok := raw["cacheTtlMs"].(int); ok {
		p.CacheTTLMs = v
	}
	if list, ok := raw["maxCharsByModel"].([]any); ok {
		p.MaxCharsByModel = nil
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			sub, _ := entry["substring"].(string)
			chars, _ := entry["maxChars"].(int)
			p.MaxCharsByModel = append(p.MaxCharsByModel, ModelBudget{Substring: sub, MaxChars: chars})
		}
	}
}

// ---------------------------------------------------------------------------
// Connection string cascade
// ---------------------------------------------------------------------------

// globalConfigPath returns the path to the global shadowdb config file: the
// same file carries the persisted connection string alongside the
// backend/table/embedding/search/writes/primer sections Load reads.
func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "shadowdb", "config.yaml"), nil
}

// DefaultConfigPath exposes globalConfigPath for callers (the CLI) that
// need to Load from or write a starter config at the conventional location.
func DefaultConfigPath() (string, error) {
	return globalConfigPath()
}

// normalizePath expands ~ and $VARS and makes the path absolute.
func normalizePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(os.ExpandEnv(path))
}

// defaultConnection is used when no tier of the cascade supplies a
// connection string: a locally socketed sqlite file under the user's home.
func defaultConnection() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "shadowdb.db"
	}
	return filepath.Join(home, ".shadowdb", "shadowdb.db")
}

// ResolveConnection implements the connection-string cascade: explicit
// (from host-supplied config) -> SHADOWDB_URL -> DATABASE_URL -> the
// persisted global config file -> the locally socketed default. source is
// one of "explicit", "env", "config", or "default". Callers must not log
// the returned string verbatim, since it may carry credentials.
func ResolveConnection(explicit string) (conn, source string) {
	if explicit != "" {
		return explicit, "explicit"
	}
	if v := os.Getenv("SHADOWDB_URL"); v != "" {
		return v, "env"
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, "env"
	}
	if persisted, ok, _ := GetPersistedConnection(); ok {
		return persisted, "config"
	}
	return defaultConnection(), "default"
}

// GetPersistedConnection reads the connection string from the global
// config. Returns ("", false, nil) if not set.
func GetPersistedConnection() (string, bool, error) {
	cfgPath, err := globalConfigPath()
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return "", false, nil
	}

	val, _ := raw["connection"].(string)
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false, nil
	}
	return val, true, nil
}

// SetPersistedConnection normalizes a sqlite file path argument (connection
// strings for postgres/mysql are stored verbatim) and persists it in the
// global config, preserving any other keys already present.
func SetPersistedConnection(conn string) (string, error) {
	stored := conn
	if !strings.Contains(conn, "://") {
		normalized, err := normalizePath(conn)
		if err != nil {
			return "", err
		}
		stored = normalized
	}

	cfgPath, err := globalConfigPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return "", err
	}

	var raw map[string]any
	if data, err := os.ReadFile(cfgPath); err == nil {
		_ = yaml.Unmarshal(data, &raw)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	raw["connection"] = stored

	out, err := yaml.Marshal(raw)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(cfgPath, out, 0o600); err != nil {
		return "", err
	}
	return stored, nil
}

// ClearPersistedConnection removes the connection key from the global
// config. Returns true if the key was present and removed. If the file
// becomes empty after removal it is deleted.
func ClearPersistedConnection() (bool, error) {
	cfgPath, err := globalConfigPath()
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return false, nil
	}

	if _, ok := raw["connection"]; !ok {
		return false, nil
	}
	delete(raw, "connection")

	if len(raw) == 0 {
		_ = os.Remove(cfgPath)
		return true, nil
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		return false, err
	}
	return true, os.WriteFile(cfgPath, out, 0o600)
}

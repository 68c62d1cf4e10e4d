// Package embeddings implements the multi-provider embedding dispatcher:
// a stateless mapping from text to a fixed-dimension numeric vector across
// six providers (ollama, openai, openai-compatible, voyage, gemini, command).
package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/shadowdb/shadowdb/internal/memerr"
)

// Provider names, after normalization.
const (
	Ollama           = "ollama"
	OpenAI           = "openai"
	OpenAICompatible = "openai-compatible"
	Voyage           = "voyage"
	Gemini           = "gemini"
	CommandProvider  = "command"
)

// DefaultDimensions is used when Config.Dimensions is unset.
const DefaultDimensions = 768

// MaxInputChars is the length text is truncated to before provider-specific
// formatting, per spec §4.1.
const MaxInputChars = 8_000

// Config configures a Dispatcher. It is a plain value; callers typically
// populate it from the host's embedding.* configuration keys.
type Config struct {
	Provider         string
	Model            string
	Dimensions       int
	APIKey           string // #nosec G117 -- intentional field name for the provider authentication token
	BaseURL          string
	OllamaURL        string
	Headers          map[string]string
	VoyageInputType  string
	GeminiTaskType   string
	Command          string
	CommandArgs      []string
	CommandTimeoutMs int
}

// NormalizeProvider maps aliases to their canonical provider name.
// Unknown values fall back to "ollama" (the safe local default). Matching
// is case-insensitive.
func NormalizeProvider(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return OpenAI
	case "openai_compatible", "openai-compatible", "openai-compatible-api":
		return OpenAICompatible
	case "voyage":
		return Voyage
	case "gemini", "google":
		return Gemini
	case "command", "external", "custom":
		return CommandProvider
	case "ollama":
		return Ollama
	default:
		return Ollama
	}
}

// DefaultModel returns the default model name for an already-normalized
// provider.
func DefaultModel(provider string) string {
	switch provider {
	case OpenAI, OpenAICompatible:
		return "text-embedding-3-small"
	case Voyage:
		return "voyage-3-lite"
	case Gemini:
		return "text-embedding-004"
	case CommandProvider:
		return "external-command"
	default:
		return "nomic-embed-text"
	}
}

// Dispatcher maps text to a fixed-dimension vector via a configured provider.
// It is stateless and safe to invoke concurrently.
type Dispatcher struct {
	provider   string
	model      string
	dimensions int
	cfg        Config
}

// New constructs a Dispatcher from cfg, normalizing the provider name and
// applying default model/dimensions where unset.
func New(cfg Config) *Dispatcher {
	provider := NormalizeProvider(cfg.Provider)
	model := cfg.Model
	if model == "" {
		model = DefaultModel(provider)
	}
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = DefaultDimensions
	}
	cfg.Provider = provider
	cfg.Model = model
	return &Dispatcher{provider: provider, model: model, dimensions: dim, cfg: cfg}
}

// Label returns the "provider:model" string used in dimension-mismatch errors.
func (d *Dispatcher) Label() string { return d.provider + ":" + d.model }

// Dimensions returns the dispatcher's configured dimension D.
func (d *Dispatcher) Dimensions() int { return d.dimensions }

func isCloudProvider(provider string) bool {
	switch provider {
	case OpenAI, OpenAICompatible, Voyage, Gemini:
		return true
	default:
		return false
	}
}

// Embed returns a fixed-dimension vector for text. Input is truncated to
// MaxInputChars runes before provider dispatch. Output length must equal
// d.Dimensions when d.Dimensions > 0; a mismatch returns a
// *memerr.DimensionMismatchError wrapping memerr.DimensionMismatch, and the
// caller must never store the result.
func (d *Dispatcher) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncateRunes(text, MaxInputChars)

	if isCloudProvider(d.provider) && d.cfg.APIKey == "" {
		return nil, memerr.Wrap(memerr.ProviderAuth, "embeddings.Embed", fmt.Errorf("%s: missing API key", d.provider))
	}

	vec, err := d.dispatch(ctx, text)
	if err != nil {
		return nil, memerr.Wrap(memerr.ProviderTransport, "embeddings.Embed", err)
	}

	if d.dimensions > 0 && len(vec) != d.dimensions {
		return nil, &memerr.DimensionMismatchError{
			Expected: d.dimensions,
			Observed: len(vec),
			Label:    d.Label(),
		}
	}
	return vec, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, text string) ([]float32, error) {
	switch d.provider {
	case Ollama:
		baseURL := d.cfg.OllamaURL
		if baseURL == "" {
			baseURL = d.cfg.BaseURL
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllama(d.model, baseURL).Embed(ctx, text)
	case OpenAI, OpenAICompatible:
		return NewOpenAI(d.model, d.cfg.APIKey, d.cfg.BaseURL).Embed(ctx, text)
	case Voyage:
		return NewVoyage(d.model, d.cfg.APIKey, d.cfg.BaseURL, d.cfg.VoyageInputType).Embed(ctx, text)
	case Gemini:
		return NewGemini(d.model, d.cfg.APIKey, d.cfg.BaseURL, d.cfg.GeminiTaskType).Embed(ctx, text)
	case CommandProvider:
		return NewCommand(d.cfg.Command, d.cfg.CommandArgs, d.model, d.cfg.CommandTimeoutMs).Embed(ctx, text, d.dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", d.provider)
	}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

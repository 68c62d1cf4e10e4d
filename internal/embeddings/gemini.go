package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com/v1beta"

// Gemini calls the Google Gemini embedContent API.
type Gemini struct {
	Model    string
	APIKey   string // #nosec G117 -- APIKey is an intentional field name for the Gemini authentication token
	BaseURL  string
	TaskType string // e.g. "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT"
	client   *http.Client
}

// NewGemini returns a Gemini provider. baseURL defaults to the Gemini endpoint.
func NewGemini(model, apiKey, baseURL, taskType string) *Gemini {
	if baseURL == "" {
		baseURL = defaultGeminiBase
	}
	return &Gemini{
		Model:    model,
		APIKey:   apiKey,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		TaskType: taskType,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed embeds a single text string via POST /models/{model}:embedContent.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"content": map[string]any{
			"parts": []map[string]any{{"text": text}},
		},
	}
	if g.TaskType != "" {
		reqBody["taskType"] = g.TaskType
	}

	endpoint := fmt.Sprintf("%s/models/%s:embedContent?key=%s", g.BaseURL, g.Model, url.QueryEscape(g.APIKey))

	var resp struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := doJSON(ctx, g.client, http.MethodPost, endpoint, nil, reqBody, &resp); err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding returned")
	}
	return resp.Embedding.Values, nil
}

package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultVoyageBase = "https://api.voyageai.com/v1"

// Voyage calls the Voyage AI embeddings API.
type Voyage struct {
	Model     string
	APIKey    string // #nosec G117 -- APIKey is an intentional field name for the Voyage authentication token
	BaseURL   string
	InputType string // "query", "document", or "" for unspecified
	client    *http.Client
}

// NewVoyage returns a Voyage provider. baseURL defaults to the Voyage endpoint.
func NewVoyage(model, apiKey, baseURL, inputType string) *Voyage {
	if baseURL == "" {
		baseURL = defaultVoyageBase
	}
	return &Voyage{
		Model:     model,
		APIKey:    apiKey,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		InputType: inputType,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed embeds a single text string.
func (v *Voyage) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"model": v.Model,
		"input": []string{text},
	}
	if v.InputType != "" {
		reqBody["input_type"] = v.InputType
	}
	headers := map[string]string{
		"Authorization": "Bearer " + v.APIKey,
	}

	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := doJSON(ctx, v.client, http.MethodPost, v.BaseURL+"/embeddings", headers, reqBody, &resp); err != nil {
		return nil, fmt.Errorf("voyage embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("voyage embed: empty data in response")
	}
	return resp.Data[0].Embedding, nil
}

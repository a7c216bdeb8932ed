package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"planwise/internal/apperr"
)

// Dimensions is the fixed embedding width for task vectors.
const Dimensions = 1536

// Embedder generates vector embeddings from text
type Embedder struct {
	apiURL string
	model  string
	client *http.Client
}

// NewEmbedder creates a new embedder client
func NewEmbedder(apiURL, model string) *Embedder {
	return &Embedder{
		apiURL: apiURL,
		model:  model,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Embed converts text to a fixed-width vector embedding
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]interface{}{
		"input": text,
		"model": e.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.Newf(apperr.KindUpstreamUnavailable, "embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, apperr.New(apperr.KindUpstreamUnavailable, "no embeddings returned")
	}
	vec := result.Data[0].Embedding
	if len(vec) != Dimensions {
		return nil, apperr.Newf(apperr.KindUpstreamUnavailable, "embedding has %d dims, expected %d", len(vec), Dimensions)
	}
	return vec, nil
}

package vector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/juchunko/site-worker/internal/fetch"
)

// Embedder turns text into vectors through an OpenAI compatible embeddings endpoint.
type Embedder struct {
	fetcher *fetch.Client
	url     string
	key     string
	model   string
}

// NewEmbedder creates an embedder posting to url, e.g. "https://api.openai.com/v1/embeddings".
func NewEmbedder(f *fetch.Client, url, key, model string) *Embedder {
	return &Embedder{
		fetcher: f,
		url:     url,
		key:     key,
		model:   model,
	}
}

type (
	embedRequest struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}

	embedResponse struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
)

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	header := http.Header{}
	if e.key != "" {
		header.Set("Authorization", "Bearer "+e.key)
	}

	var resp embedResponse
	if err := e.fetcher.PostJSON(ctx, "embeddings", e.url, header, embedRequest{
		Model: e.model,
		Input: []string{text},
	}, &resp); err != nil {
		return nil, fmt.Errorf("error embedding text: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("error embedding text: empty embedding")
	}

	return resp.Data[0].Embedding, nil
}

package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// RequestTimeout bounds one embed call to a remote provider.
const RequestTimeout = 30 * time.Second

// embedRequest is the OpenAI-compatible embeddings request shape, the
// lowest common denominator across the providers an EmbedderConfig names.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPEmbedClient calls a remote embedding provider's HTTP endpoint. It is
// the concrete EmbedClient the model cache's Loader builds per embedder
// config; the provider-agnostic JSON shape is intentional, since
// domain.EmbedderConfig models a remote HTTP endpoint rather than a
// locally-resident model.
type HTTPEmbedClient struct {
	httpClient *http.Client
	endpoint   string
	model      string
	apiKey     string
}

// NewHTTPEmbedClient builds a client for cfg, authenticating with the
// already-decrypted apiKey.
func NewHTTPEmbedClient(cfg domain.EmbedderConfig, apiKey string) *HTTPEmbedClient {
	return &HTTPEmbedClient{
		httpClient: &http.Client{Timeout: RequestTimeout},
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     apiKey,
	}
}

// Embed posts texts to the provider and returns one embedding per input,
// in order.
func (c *HTTPEmbedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, domain.NewError(domain.KindFatal, "inference.HTTPEmbedClient.Embed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.KindFatal, "inference.HTTPEmbedClient.Embed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "inference.HTTPEmbedClient.Embed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "inference.HTTPEmbedClient.Embed", err)
	}
	if resp.StatusCode >= 500 {
		return nil, domain.NewError(domain.KindTransient, "inference.HTTPEmbedClient.Embed",
			fmt.Errorf("provider returned %d: %s", resp.StatusCode, raw))
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewError(domain.KindValidation, "inference.HTTPEmbedClient.Embed",
			fmt.Errorf("provider returned %d: %s", resp.StatusCode, raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, domain.NewError(domain.KindFatal, "inference.HTTPEmbedClient.Embed", err)
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

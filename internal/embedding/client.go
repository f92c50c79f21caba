package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultModel          = "finetuned-bge-m3-v2"
	DefaultBatchSize      = 256
	DefaultMaxLength      = 64
	DefaultRequestTimeout = 45 * time.Second
)

type Options struct {
	Endpoint       string
	Model          string
	BatchSize      int
	MaxLength      int
	RequestTimeout time.Duration
}

// Client talks to an external embedding service. Two response shapes are
// accepted: {"embeddings": [[...]]} and the OpenAI-style {"data": [...]}.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     zerolog.Logger
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	ElapsedMS  *float64    `json:"elapsed_ms"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewClient(options Options, logger zerolog.Logger) *Client {
	return &Client{
		opts:       normalizeOptions(options),
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

func (c *Client) Options() Options {
	return c.opts
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	normalized.Endpoint = normalizeEndpoint(normalized.Endpoint)
	if strings.TrimSpace(normalized.Model) == "" {
		normalized.Model = DefaultModel
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = DefaultBatchSize
	}
	if normalized.MaxLength <= 0 {
		normalized.MaxLength = DefaultMaxLength
	}
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = DefaultRequestTimeout
	}
	return normalized
}

func normalizeEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}

// Embed returns one vector per text, in order, sending at most BatchSize
// texts per request.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c == nil {
		return nil, fmt.Errorf("embedding client is not initialized")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, len(texts))
		batch := texts[start:end]

		vectors, elapsed, err := c.request(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(batch), len(vectors))
		}
		for i, vector := range vectors {
			converted, err := toFloat32(vector)
			if err != nil {
				return nil, fmt.Errorf("text %d: %w", start+i, err)
			}
			out = append(out, converted)
		}

		event := c.logger.Debug().Int("batch_size", len(batch)).Int("offset", start)
		if elapsed != nil {
			event = event.Float64("elapsed_ms", *elapsed)
		}
		event.Msg("embedding batch completed")
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, texts []string) ([][]float64, *float64, error) {
	payload := embedRequest{
		Texts:     texts,
		MaxLength: c.opts.MaxLength,
	}

	parsedEndpoint, err := url.Parse(c.opts.Endpoint)
	if err == nil && strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings") {
		payload = embedRequest{
			Input: texts,
			Model: c.opts.Model,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, parsed.ElapsedMS, fmt.Errorf("embedding response missing vectors")
	}

	return vectors, parsed.ElapsedMS, nil
}

func toFloat32(values []float64) ([]float32, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("vector is empty")
	}
	out := make([]float32, len(values))
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("vector has non-finite value at index %d", i)
		}
		out[i] = float32(value)
	}
	return out, nil
}

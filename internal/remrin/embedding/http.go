package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/Remrin/common/retry"
)

// Protocol selects the request/response shape of the embedding service.
type Protocol string

const (
	// ProtocolVector posts {"text": ...} and expects {"vector": [...]}. Bare
	// arrays and the nested [[...]] shape of hosted feature-extraction
	// endpoints are accepted as well.
	ProtocolVector Protocol = "vector"
	// ProtocolOpenAI posts {"input": ..., "model": ...} to BaseURL+"/embeddings"
	// and reads data[0].embedding.
	ProtocolOpenAI Protocol = "openai"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 4 << 20
)

// Config configures HTTPClient.
type Config struct {
	// URL is the full endpoint for ProtocolVector and the API base for
	// ProtocolOpenAI (e.g. https://api.openai.com/v1).
	URL      string
	APIKey   string
	Model    string
	Protocol Protocol
	// Dimensions is the vector length every response must have.
	Dimensions int
	// Timeout bounds each HTTP attempt. Defaults to 10s.
	Timeout time.Duration
	Retry   retry.Config
}

// HTTPClient implements Embedder over HTTP. It is safe for concurrent use.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPClient applies defaults and returns a client.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolVector
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{MaxAttempts: 2, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second}
	}
	return &HTTPClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type vectorRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type openAIRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed returns the vector for text. Blank text yields ErrEmptyInput; every
// other failure wraps ErrUnavailable.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	var vec []float32
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		v, err := c.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return vec, nil
}

func (c *HTTPClient) embedOnce(ctx context.Context, text string) ([]float32, error) {
	url := c.cfg.URL
	var payload any = vectorRequest{Text: text, Model: c.cfg.Model}
	if c.cfg.Protocol == ProtocolOpenAI {
		url = strings.TrimRight(c.cfg.URL, "/") + "/embeddings"
		payload = openAIRequest{Input: text, Model: c.cfg.Model}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, retry.Permanent(statusErr)
	}

	var vec []float32
	if c.cfg.Protocol == ProtocolOpenAI {
		vec, err = decodeOpenAI(respBody)
	} else {
		vec, err = decodeVector(respBody)
	}
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if len(vec) != c.cfg.Dimensions {
		return nil, retry.Permanent(fmt.Errorf("vector has %d dimensions, want %d", len(vec), c.cfg.Dimensions))
	}
	return vec, nil
}

func decodeOpenAI(body []byte) ([]float32, error) {
	var r openAIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if r.Error != nil {
		return nil, fmt.Errorf("api error (%s): %s", r.Error.Type, r.Error.Message)
	}
	if len(r.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}
	return r.Data[0].Embedding, nil
}

// decodeVector accepts {"vector": [...]}, [...] and [[...]].
func decodeVector(body []byte) ([]float32, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}

	switch trimmed[0] {
	case '{':
		var obj struct {
			Vector []float32 `json:"vector"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if obj.Vector == nil {
			return nil, errors.New("response has no vector field")
		}
		return obj.Vector, nil
	case '[':
		var flat []float32
		if err := json.Unmarshal(trimmed, &flat); err == nil {
			return flat, nil
		}
		var nested [][]float32
		if err := json.Unmarshal(trimmed, &nested); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(nested) == 0 {
			return nil, errors.New("empty nested vector")
		}
		return nested[0], nil
	default:
		return nil, errors.New("response is not JSON")
	}
}

var _ Embedder = (*HTTPClient)(nil)

// Package images generates persona portraits through an OpenAI-compatible
// images endpoint.
package images

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

// ErrUnavailable wraps every generation failure.
var ErrUnavailable = errors.New("images: unavailable")

// Generator turns a prompt into a hosted image URL.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config configures Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Size defaults to 1024x1024.
	Size    string
	Timeout time.Duration
	Retry   retry.Config
}

// Client implements Generator.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient applies defaults and returns a Client.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{MaxAttempts: 2, InitialDelay: time.Second, MaxDelay: 2 * time.Second}
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type generateRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type generateResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Generate returns the URL of one generated image.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrUnavailable)
	}
	data, err := json.Marshal(generateRequest{Model: c.cfg.Model, Prompt: prompt, N: 1, Size: c.cfg.Size})
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %w", ErrUnavailable, err)
	}

	var url string
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		var attemptErr error
		url, attemptErr = c.do(ctx, data)
		return attemptErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return url, nil
}

func (c *Client) do(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/images/generations", bytes.NewReader(data))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", statusErr
		}
		return "", retry.Permanent(statusErr)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return "", retry.Permanent(errors.New("no image in response"))
	}
	return out.Data[0].URL, nil
}

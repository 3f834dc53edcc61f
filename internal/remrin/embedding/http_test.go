package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/Remrin/common/retry"
)

func vectorOf(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i) / float32(n)
	}
	return v
}

func testClient(url string, dims int) *HTTPClient {
	return NewHTTPClient(Config{
		URL:        url,
		APIKey:     "emb-key",
		Dimensions: dims,
		Retry:      retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})
}

func TestHTTPClient_VectorProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer emb-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req vectorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "my dog is named Max" {
			t.Errorf("text = %q", req.Text)
		}
		json.NewEncoder(w).Encode(map[string]any{"vector": vectorOf(384)})
	}))
	defer srv.Close()

	vec, err := testClient(srv.URL, 384).Embed(context.Background(), "my dog is named Max")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Fatalf("len = %d, want 384", len(vec))
	}
}

func TestHTTPClient_AcceptsNestedArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([][]float32{vectorOf(4)})
	}))
	defer srv.Close()

	vec, err := testClient(srv.URL, 4).Embed(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("len = %d, want 4", len(vec))
	}
}

func TestHTTPClient_OpenAIProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s, want /embeddings", r.URL.Path)
		}
		var req openAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "text-embedding-3-small" || req.Input != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": vectorOf(8), "index": 0}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{URL: srv.URL + "/", Model: "text-embedding-3-small", Protocol: ProtocolOpenAI, Dimensions: 8})
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("len = %d", len(vec))
	}
}

func TestHTTPClient_ServerErrorIsUnavailableAndRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 4).Embed(context.Background(), "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls.Load())
	}
}

func TestHTTPClient_WrongDimensionIsUnavailableNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"vector": vectorOf(3)})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 384).Embed(context.Background(), "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "3 dimensions") {
		t.Errorf("error should mention the dimension: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{URL: srv.URL, Dimensions: 4, Timeout: 20 * time.Millisecond, Retry: retry.Config{MaxAttempts: 1}})
	if _, err := c.Embed(context.Background(), "hi"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPClient_EmptyInput(t *testing.T) {
	c := testClient("http://127.0.0.1:1", 4)
	if _, err := c.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestPrepare(t *testing.T) {
	if _, ok := Prepare("  \n ", 10); ok {
		t.Error("blank text should not be embeddable")
	}
	got, ok := Prepare("  héllo world ", 5)
	if !ok || got != "héllo" {
		t.Errorf("Prepare = %q, %v", got, ok)
	}
}

func TestDisabled(t *testing.T) {
	if _, err := (Disabled{}).Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

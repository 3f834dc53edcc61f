// Package embedding turns text into fixed-length vectors through an HTTP
// embedding service.
//
// Retrieval is an enhancement, not a correctness requirement of a turn, so
// every provider failure (transport error, timeout, non-2xx status, malformed
// body, wrong dimension) is reported as ErrUnavailable and callers continue
// without memories.
package embedding

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// DefaultMaxInputRunes is the input length callers truncate to.
const DefaultMaxInputRunes = 2000

var (
	// ErrUnavailable wraps every provider-side failure.
	ErrUnavailable = errors.New("embedding: unavailable")
	// ErrEmptyInput is returned for blank text; it is a caller bug, not an
	// outage, and is never retried.
	ErrEmptyInput = errors.New("embedding: empty input")
)

// Embedder produces one vector per call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Truncate cuts text to at most n runes. n <= 0 leaves text unchanged.
func Truncate(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}

// Prepare trims and truncates text for Embed, reporting false when nothing
// is left to embed.
func Prepare(text string, maxRunes int) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return Truncate(text, maxRunes), true
}

// Disabled is the Embedder used when no embedding service is configured.
// Every call reports ErrUnavailable, which switches retrieval off.
type Disabled struct{}

func (Disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}

var _ Embedder = Disabled{}

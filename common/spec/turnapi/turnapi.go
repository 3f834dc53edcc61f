// Package turnapi defines the JSON envelope exchanged on POST /v1/turns.
package turnapi

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes caps a single inbound user message.
const MaxMessageRunes = 8000

// TurnRequest is one inbound user message addressed to a persona.
type TurnRequest struct {
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id"`
	Message   string `json:"message"`
}

// Validate checks that every field is present and the message is bounded.
func (r *TurnRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("request must not be nil")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("user_id must not be empty")
	}
	if strings.TrimSpace(r.PersonaID) == "" {
		return fmt.Errorf("persona_id must not be empty")
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message must not be empty")
	}
	if n := utf8.RuneCountInString(r.Message); n > MaxMessageRunes {
		return fmt.Errorf("message is %d characters, limit is %d", n, MaxMessageRunes)
	}
	return nil
}

// Relationship is the tier snapshot taken before the turn ran.
type Relationship struct {
	Tier         string `json:"tier"`
	MessageCount int    `json:"message_count"`
}

// TurnResponse is returned for a completed turn.
type TurnResponse struct {
	TurnID       string       `json:"turn_id"`
	Reply        string       `json:"reply"`
	Relationship Relationship `json:"relationship"`
	Iterations   int          `json:"iterations"`
	ToolCalls    int          `json:"tool_calls"`
	Saved        int          `json:"saved"`
	// Degraded names the context sources that were skipped, e.g. "embedding".
	Degraded []string `json:"degraded,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeBadRequest     = "bad_request"
	CodeNotFound       = "persona_not_found"
	CodeForbidden      = "access_denied"
	CodeQuotaExceeded  = "quota_exceeded"
	CodeLLMUnavailable = "llm_unavailable"
	CodePersistFailed  = "persist_failed"
	CodeCancelled      = "cancelled"
	CodeInternal       = "internal"
)

// ErrorResponse is the body of every non-200 turn response. Reply, when set,
// is safe to show to the end user.
type ErrorResponse struct {
	TurnID string `json:"turn_id,omitempty"`
	Code   string `json:"error"`
	Reply  string `json:"reply,omitempty"`
}

// Error is returned by turn handlers to select the HTTP status and body.
type Error struct {
	Status int
	Body   ErrorResponse
}

func (e *Error) Error() string {
	return fmt.Sprintf("turn %s (%d)", e.Body.Code, e.Status)
}

// NewError builds an Error with the status conventionally paired with code.
func NewError(code, reply string) *Error {
	return &Error{Status: StatusFor(code), Body: ErrorResponse{Code: code, Reply: reply}}
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeLLMUnavailable:
		return http.StatusBadGateway
	case CodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

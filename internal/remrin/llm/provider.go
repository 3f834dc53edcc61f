// Package llm is the chat-completion boundary of the turn pipeline.
//
// The orchestrator calls Complete in a loop until the model returns a plain
// text reply. Tool calls are surfaced exactly as the provider sent them
// (name plus raw JSON arguments); argument validation happens in the tool
// registry.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every failure to obtain a usable completion:
// transport errors, timeouts, non-2xx statuses and malformed bodies.
var ErrUnavailable = errors.New("llm: unavailable")

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolChoice is the tool_choice sent with a request.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Message is one entry of the conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // when Role == RoleTool
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the tool name and raw JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Type     string      `json:"type"` // "function"
	Function FunctionDef `json:"function"`
}

// FunctionDef is the schema of a callable function.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"` // JSON Schema object
}

// CompletionRequest is the input to one inference call.
type CompletionRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
	// ToolChoice is only sent when Tools is non-empty.
	ToolChoice ToolChoice
	// Temperature is omitted from the request when nil.
	Temperature *float64
	MaxTokens   int
}

// CompletionResponse is the model's next message.
type CompletionResponse struct {
	Message Message
	// FinishReason is "stop" for a natural end and "tool_calls" when tools
	// were requested.
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage reports token consumption.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completer is implemented by every LLM backend.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Float returns a pointer to v, for CompletionRequest.Temperature.
func Float(v float64) *float64 { return &v }

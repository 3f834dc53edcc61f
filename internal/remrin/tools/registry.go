// Package tools is the closed, typed tool registry offered to the model.
//
// Each tool is registered once with its name, description and JSON Schema.
// The schema is compiled at registration; at execution time the raw
// arguments emitted by the model are validated against it before the typed
// handler runs. Dispatch is a map lookup by exact name, and every outcome,
// including an unknown name, a schema violation, a handler error or a panic,
// is reported as a Result rather than an error so the tool loop can hand it
// back to the model.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/Remrin/internal/remrin/keylock"
	"github.com/bdobrica/Remrin/internal/remrin/llm"
)

const (
	// DefaultTimeout bounds one tool execution.
	DefaultTimeout = 30 * time.Second
	// UnknownToolMessage is the error reported for unregistered names.
	UnknownToolMessage = "Unknown tool"
)

var (
	ErrUnknownTool      = errors.New("tools: unknown tool")
	ErrInvalidArguments = errors.New("tools: invalid arguments")
	ErrDuplicate        = errors.New("tools: duplicate registration")
)

// Result is what the model sees after a tool call.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON encodes r for a tool-result message.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"result could not be encoded"}`
	}
	return string(b)
}

// Failure builds a failed Result.
func Failure(msg string) Result { return Result{Success: false, Error: msg} }

// Tool is one registered capability.
type Tool interface {
	Definition() llm.ToolDefinition
	// Schema is the JSON Schema document for the arguments object.
	Schema() string
	// Execute runs with arguments that already passed schema validation.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
	// Exclusive tools never run concurrently for the same user.
	Exclusive() bool
}

// Option customises a Typed tool.
type Option func(*typedTool)

// Exclusive serializes executions of the tool per user.
func Exclusive() Option { return func(t *typedTool) { t.exclusive = true } }

type typedTool struct {
	def       llm.ToolDefinition
	schema    string
	exclusive bool
	run       func(ctx context.Context, args json.RawMessage) (any, error)
}

func (t *typedTool) Definition() llm.ToolDefinition { return t.def }
func (t *typedTool) Schema() string                 { return t.schema }
func (t *typedTool) Exclusive() bool                { return t.exclusive }
func (t *typedTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	return t.run(ctx, args)
}

// Typed builds a Tool whose arguments decode into A.
func Typed[A any](name, description, schema string, fn func(ctx context.Context, args A) (any, error), opts ...Option) Tool {
	t := &typedTool{
		def: llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        name,
				Description: description,
				Parameters:  json.RawMessage(schema),
			},
		},
		schema: schema,
		run: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args A
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
			}
			return fn(ctx, args)
		},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps tool names to tools. Populate it at startup before serving;
// Execute is safe for concurrent use.
type Registry struct {
	tools   map[string]registered
	timeout time.Duration
	locks   keylock.Map
	logger  *slog.Logger
}

// New returns an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]registered), timeout: DefaultTimeout, logger: logger}
}

// SetTimeout overrides DefaultTimeout.
func (r *Registry) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Register compiles t's schema and adds it.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Function.Name
	if name == "" {
		return fmt.Errorf("tools: register: empty name")
	}
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "mem://tools/" + name + ".json"
	if err := c.AddResource(url, strings.NewReader(t.Schema())); err != nil {
		return fmt.Errorf("tools: register %s: load schema: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("tools: register %s: compile schema: %w", name, err)
	}
	r.tools[name] = registered{tool: t, schema: schema}
	return nil
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Len is the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Definitions returns tool definitions sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, n := range names {
		defs = append(defs, r.tools[n].tool.Definition())
	}
	return defs
}

// Validate checks raw arguments against the tool's schema. Empty arguments
// are treated as an empty object.
func (r *Registry) Validate(name, rawArgs string) (json.RawMessage, error) {
	reg, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if strings.TrimSpace(rawArgs) == "" {
		rawArgs = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(rawArgs), &v); err != nil {
		return nil, fmt.Errorf("%w: arguments are not valid JSON: %w", ErrInvalidArguments, err)
	}
	if err := reg.schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	return json.RawMessage(rawArgs), nil
}

// Execute validates and runs the named tool. It never returns an error;
// failures become Result{Success: false}.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) (res Result) {
	reg, ok := r.tools[name]
	if !ok {
		return Failure(UnknownToolMessage)
	}
	args, err := r.Validate(name, rawArgs)
	if err != nil {
		return Failure(err.Error())
	}

	if reg.tool.Exclusive() {
		key := name + "/" + ScopeFrom(ctx).UserID
		unlock := r.locks.Lock(key)
		defer unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			res = Failure("tool failed unexpectedly")
		}
	}()

	data, err := reg.tool.Execute(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "err", err)
		return Failure(err.Error())
	}
	return Result{Success: true, Data: data}
}

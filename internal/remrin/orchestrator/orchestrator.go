// Package orchestrator drives the bounded tool-calling loop of a turn.
//
//	AWAITING_MODEL -> text reply           -> DONE
//	AWAITING_MODEL -> tool calls -> execute -> AWAITING_MODEL
//
// The loop makes at most MaxIterations model calls. When the cap is reached
// without a text reply the fixed StallMessage is returned instead of an
// error.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Remrin/internal/remrin/llm"
	"github.com/bdobrica/Remrin/internal/remrin/observability"
	"github.com/bdobrica/Remrin/internal/remrin/tools"
)

const (
	DefaultMaxIterations = 5
	// DefaultParallelTools bounds concurrent tool executions per iteration.
	DefaultParallelTools = 4

	StallMessage = "The ritual requires more focus. Let us continue..."
)

// Executor runs tools by name. *tools.Registry implements it.
type Executor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name, rawArgs string) tools.Result
}

// Request is one turn's input to the loop.
type Request struct {
	Model        string
	SystemPrompt string
	UserMessage  string
	// Tools may be nil, in which case no tools are offered.
	Tools       Executor
	ToolChoice  llm.ToolChoice
	Temperature *float64
	MaxTokens   int
}

// ToolCall records one executed tool.
type ToolCall struct {
	Name     string
	Success  bool
	Error    string
	Duration time.Duration
}

// Outcome is the loop's result.
type Outcome struct {
	Text string
	// Iterations is the number of model calls made.
	Iterations int
	ToolCalls  []ToolCall
	Stalled    bool
	Messages   []llm.Message
	Usage      llm.TokenUsage
}

// Options configures an Orchestrator.
type Options struct {
	MaxIterations int
	ParallelTools int
	Logger        *slog.Logger
}

// Orchestrator is safe for concurrent use; all state lives in Run.
type Orchestrator struct {
	llm           llm.Completer
	maxIterations int
	parallel      int
	logger        *slog.Logger
}

// New returns an Orchestrator calling c.
func New(c llm.Completer, opts Options) *Orchestrator {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.ParallelTools <= 0 {
		opts.ParallelTools = DefaultParallelTools
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{llm: c, maxIterations: opts.MaxIterations, parallel: opts.ParallelTools, logger: opts.Logger}
}

// Run executes the loop. Errors wrap llm.ErrUnavailable or the context's
// error; tool failures never abort the loop.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	log := observability.WithTrace(ctx, o.logger)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: req.SystemPrompt},
		{Role: llm.RoleUser, Content: req.UserMessage},
	}

	var defs []llm.ToolDefinition
	choice := req.ToolChoice
	if req.Tools != nil {
		defs = req.Tools.Definitions()
	}
	if len(defs) > 0 && choice == "" {
		choice = llm.ToolChoiceAuto
	}

	out := &Outcome{}
	for out.Iterations < o.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Iterations++
		resp, err := o.llm.Complete(ctx, llm.CompletionRequest{
			Model:       req.Model,
			Messages:    messages,
			Tools:       defs,
			ToolChoice:  choice,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("orchestrator: %w: %w", ctxErr, err)
			}
			return nil, fmt.Errorf("orchestrator: iteration %d: %w", out.Iterations, err)
		}
		addUsage(&out.Usage, resp.Usage)

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		messages = append(messages, msg)

		if len(msg.ToolCalls) == 0 {
			out.Text = msg.Content
			out.Messages = messages
			return out, nil
		}

		results := o.executeAll(ctx, req.Tools, msg.ToolCalls)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, tc := range msg.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
				Content:    results[i].result.JSON(),
			})
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name:     tc.Function.Name,
				Success:  results[i].result.Success,
				Error:    results[i].result.Error,
				Duration: results[i].took,
			})
		}
		log.Debug("tool round finished", "iteration", out.Iterations, "tool_calls", len(msg.ToolCalls))
	}

	log.Warn("tool loop hit iteration cap", "max_iterations", o.maxIterations, "tool_calls", len(out.ToolCalls))
	out.Text = StallMessage
	out.Stalled = true
	out.Messages = messages
	return out, nil
}

type timedResult struct {
	result tools.Result
	took   time.Duration
}

// executeAll runs every call of one model response concurrently and
// returns results in call order.
func (o *Orchestrator) executeAll(ctx context.Context, ex Executor, calls []llm.ToolCall) []timedResult {
	results := make([]timedResult, len(calls))
	if ex == nil {
		for i := range calls {
			results[i] = timedResult{result: tools.Failure(tools.UnknownToolMessage)}
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(o.parallel)
	for i, tc := range calls {
		g.Go(func() error {
			start := time.Now()
			results[i] = timedResult{
				result: ex.Execute(ctx, tc.Function.Name, tc.Function.Arguments),
				took:   time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func addUsage(total *llm.TokenUsage, u llm.TokenUsage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}

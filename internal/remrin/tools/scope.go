package tools

import (
	"context"
	"strings"
	"sync"

	"github.com/bdobrica/Remrin/internal/remrin/facts"
)

// Scope identifies the turn a tool executes in.
type Scope struct {
	UserID    string
	PersonaID string
	TurnID    string
}

type scopeKey struct{}
type effectsKey struct{}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the Scope attached to ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// FactSave is a shared fact requested during a turn.
type FactSave struct {
	Type    facts.Type
	Content string
}

// Effects buffers the saves requested by tools during one turn. Nothing is
// written until the turn persists them, so a cancelled turn leaves no trace.
type Effects struct {
	mu     sync.Mutex
	locket []string
	facts  []FactSave
}

// WithEffects attaches e to ctx.
func WithEffects(ctx context.Context, e *Effects) context.Context {
	return context.WithValue(ctx, effectsKey{}, e)
}

// EffectsFrom returns the buffer attached to ctx, or nil.
func EffectsFrom(ctx context.Context) *Effects {
	e, _ := ctx.Value(effectsKey{}).(*Effects)
	return e
}

// AddLocket buffers a locket entry.
func (e *Effects) AddLocket(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locket = append(e.locket, content)
}

// AddFact buffers a shared fact.
func (e *Effects) AddFact(t facts.Type, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.facts = append(e.facts, FactSave{Type: t, Content: content})
}

// Locket returns a copy of the buffered locket entries.
func (e *Effects) Locket() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.locket...)
}

// Facts returns a copy of the buffered shared facts.
func (e *Effects) Facts() []FactSave {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]FactSave(nil), e.facts...)
}

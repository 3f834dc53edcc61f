package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/bdobrica/Remrin/internal/remrin/facts"
)

const (
	SaveToLocketName   = "save_to_locket"
	SaveSharedFactName = "save_shared_fact"
)

var errNoEffects = errors.New("saving is not available in this conversation")

const saveToLocketSchema = `{
  "type": "object",
  "properties": {
    "content": {"type": "string", "minLength": 1, "description": "The fact to remember, as one short sentence."}
  },
  "required": ["content"],
  "additionalProperties": false
}`

const saveSharedFactSchema = `{
  "type": "object",
  "properties": {
    "fact_type": {"type": "string", "enum": ["MEDICAL", "PREFERENCE", "IDENTITY", "SAFETY", "GOAL", "RELATIONSHIP"]},
    "content": {"type": "string", "minLength": 1, "description": "The fact, as one short sentence."}
  },
  "required": ["fact_type", "content"],
  "additionalProperties": false
}`

type saveToLocketArgs struct {
	Content string `json:"content"`
}

type saveSharedFactArgs struct {
	FactType string `json:"fact_type"`
	Content  string `json:"content"`
}

// SaveToLocket buffers a locket entry for the current turn.
func SaveToLocket() Tool {
	return Typed(SaveToLocketName,
		"Permanently remember a critical truth about this user and your bond. Use sparingly, for facts that must never be forgotten.",
		saveToLocketSchema,
		func(ctx context.Context, args saveToLocketArgs) (any, error) {
			e := EffectsFrom(ctx)
			if e == nil {
				return nil, errNoEffects
			}
			content := strings.TrimSpace(args.Content)
			if content == "" {
				return nil, errors.New("content must not be blank")
			}
			e.AddLocket(content)
			return map[string]string{"saved": content}, nil
		})
}

// SaveSharedFact buffers a typed fact shared with every persona of the user.
func SaveSharedFact() Tool {
	return Typed(SaveSharedFactName,
		"Remember a fact about the user that every companion should know (allergies, preferences, identity, safety, goals, relationships).",
		saveSharedFactSchema,
		func(ctx context.Context, args saveSharedFactArgs) (any, error) {
			e := EffectsFrom(ctx)
			if e == nil {
				return nil, errNoEffects
			}
			t, ok := facts.ParseType(args.FactType)
			if !ok {
				return nil, errors.New("unknown fact_type")
			}
			content := strings.TrimSpace(args.Content)
			if content == "" {
				return nil, errors.New("content must not be blank")
			}
			e.AddFact(t, content)
			return map[string]string{"saved": content, "fact_type": string(t)}, nil
		})
}

// Conversation returns the registry for ordinary persona chats.
func Conversation(r *Registry) *Registry {
	return r.MustRegister(SaveToLocket(), SaveSharedFact())
}

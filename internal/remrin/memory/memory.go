// Package memory is the append-only store of conversational turns between a
// user and a persona, plus the scoped similarity search used to recall them.
//
// A record is visible only inside its (persona, user) scope: every query
// filters on both columns, so two users talking to the same persona never
// see each other's memories.
package memory

import (
	"context"
	"time"
)

const (
	// DefaultThreshold is the minimum cosine similarity worth injecting into
	// a prompt; weaker matches dilute it with noise.
	DefaultThreshold = 0.35
	// DefaultLimit is how many matches a turn retrieves.
	DefaultLimit = 10

	MinImportance       = 1
	MaxImportance       = 10
	AssistantImportance = 3
)

// Role identifies who produced a record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Record is one utterance of a turn.
type Record struct {
	ID        string
	UserID    string
	PersonaID string
	Role      Role
	Content   string
	// Embedding is nil when the embedding service was unavailable; such
	// records are stored but never returned by Search.
	Embedding  []float32
	Tags       []string
	Importance int
	Domain     Domain
	Emotion    Emotion
	TurnID     string
	CreatedAt  time.Time
}

// Match is a search hit.
type Match struct {
	Record     Record
	Similarity float64
}

// Store is the MemoryStore contract consumed by the turn pipeline.
type Store interface {
	// Append persists rec and returns its ID. A failure here is fatal to the
	// turn.
	Append(ctx context.Context, rec Record) (string, error)
	// Search returns at most limit records of the (personaID, userID) scope
	// whose similarity to query is >= threshold, best first. Callers skip the
	// call entirely when they have no query vector.
	Search(ctx context.Context, query []float32, personaID, userID string, threshold float64, limit int) ([]Match, error)
	// CountMessages returns how many messages, from either side, the pair has
	// exchanged.
	CountMessages(ctx context.Context, userID, personaID string) (int, error)
}

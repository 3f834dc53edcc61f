// Package locket stores a persona's immutable truths.
//
// Entries are append-only. The package deliberately exposes no update or
// delete operation; pruning is an out-of-band admin task done directly on
// the database.
package locket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/Remrin/internal/remrin/store"
)

// ErrEmptyContent is returned for blank entries.
var ErrEmptyContent = errors.New("locket: content must not be empty")

// Provenance records how an entry came to exist.
type Provenance string

const (
	// Seeded entries were authored with the persona.
	Seeded Provenance = "SEEDED"
	// Learned entries were saved by the model during a conversation.
	Learned Provenance = "LEARNED"
)

// Entry is one truth.
type Entry struct {
	ID        string
	PersonaID string
	// UserID is the user whose conversation produced a learned entry; empty
	// for seeded, persona-wide truths.
	UserID     string
	Content    string
	Provenance Provenance
	TurnID     string
	CreatedAt  time.Time
}

// Store is the LocketStore contract.
type Store interface {
	// ListForPersona returns every entry of the persona in insertion order.
	ListForPersona(ctx context.Context, personaID string) ([]Entry, error)
	// ListForScope returns the persona-wide entries plus those learned from
	// userID, in insertion order. This is what a turn for userID may see.
	ListForScope(ctx context.Context, personaID, userID string) ([]Entry, error)
	// Append adds a persona-wide entry.
	Append(ctx context.Context, personaID, content string, provenance Provenance) (string, error)
}

// SQLiteStore implements Store on the locket_entries table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a store on db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, personaID, content string, provenance Provenance) (string, error) {
	e := Entry{PersonaID: personaID, Content: content, Provenance: provenance}
	if err := Insert(ctx, s.db, &e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// Insert writes e through x, assigning ID and CreatedAt when empty. Content
// is trimmed before it is stored.
func Insert(ctx context.Context, x store.DBTX, e *Entry) error {
	e.Content = strings.TrimSpace(e.Content)
	if e.Content == "" {
		return ErrEmptyContent
	}
	if e.PersonaID == "" {
		return errors.New("locket: persona is required")
	}
	switch e.Provenance {
	case Seeded, Learned:
	default:
		return fmt.Errorf("locket: invalid provenance %q", e.Provenance)
	}
	if e.ID == "" {
		e.ID = store.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := x.ExecContext(ctx, `
		INSERT INTO locket_entries (id, persona_id, user_id, content, provenance, turn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PersonaID, e.UserID, e.Content, string(e.Provenance), e.TurnID, store.FormatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("locket: insert: %w", err)
	}
	return nil
}

// ListForPersona implements Store.
func (s *SQLiteStore) ListForPersona(ctx context.Context, personaID string) ([]Entry, error) {
	return s.list(ctx, `
		SELECT id, persona_id, user_id, content, provenance, turn_id, created_at
		FROM locket_entries WHERE persona_id = ? ORDER BY seq`, personaID)
}

// ListForScope implements Store.
func (s *SQLiteStore) ListForScope(ctx context.Context, personaID, userID string) ([]Entry, error) {
	return s.list(ctx, `
		SELECT id, persona_id, user_id, content, provenance, turn_id, created_at
		FROM locket_entries WHERE persona_id = ? AND (user_id = '' OR user_id = ?) ORDER BY seq`,
		personaID, userID)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("locket: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			provenance string
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.PersonaID, &e.UserID, &e.Content, &provenance, &e.TurnID, &createdAt); err != nil {
			return nil, fmt.Errorf("locket: scan: %w", err)
		}
		e.Provenance = Provenance(provenance)
		if e.CreatedAt, err = store.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("locket: parse created_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("locket: iterate: %w", err)
	}
	return out, nil
}

// Contents returns the text of each entry.
func Contents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

var _ Store = (*SQLiteStore)(nil)

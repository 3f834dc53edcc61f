// Package facts stores typed facts a user has disclosed, shared across all
// personas that user talks to.
package facts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/Remrin/internal/remrin/store"
)

// Type is the closed set of fact categories.
type Type string

const (
	Medical      Type = "MEDICAL"
	Preference   Type = "PREFERENCE"
	Identity     Type = "IDENTITY"
	Safety       Type = "SAFETY"
	Goal         Type = "GOAL"
	Relationship Type = "RELATIONSHIP"
)

// Types lists every valid Type in display order.
var Types = []Type{Medical, Preference, Identity, Safety, Goal, Relationship}

// ErrInvalid is returned for blank content or an unknown type.
var ErrInvalid = errors.New("facts: invalid fact")

// ParseType normalises s (case-insensitive) to a Type.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Fact is one disclosed fact.
type Fact struct {
	ID     string
	UserID string
	// PersonaID is the persona the fact was disclosed to.
	PersonaID string
	Type      Type
	Content   string
	TurnID    string
	CreatedAt time.Time
}

// String renders the fact for a prompt line.
func (f Fact) String() string {
	return fmt.Sprintf("[%s]: %s", f.Type, f.Content)
}

// SQLiteStore reads and writes the shared_facts table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a store on db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore { return &SQLiteStore{db: db} }

// Insert writes f through x.
func Insert(ctx context.Context, x store.DBTX, f *Fact) error {
	f.Content = strings.TrimSpace(f.Content)
	if f.Content == "" {
		return fmt.Errorf("%w: content must not be empty", ErrInvalid)
	}
	if _, ok := ParseType(string(f.Type)); !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, f.Type)
	}
	if f.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalid)
	}
	if f.ID == "" {
		f.ID = store.NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := x.ExecContext(ctx, `
		INSERT INTO shared_facts (id, user_id, persona_id, fact_type, content, turn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.PersonaID, string(f.Type), f.Content, f.TurnID, store.FormatTime(f.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("facts: insert: %w", err)
	}
	return nil
}

// ListForUser returns the user's shared facts in insertion order.
func (s *SQLiteStore) ListForUser(ctx context.Context, userID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, persona_id, fact_type, content, turn_id, created_at
		FROM shared_facts WHERE user_id = ? AND shared_with_all = 1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("facts: list: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var (
			f         Fact
			typ       string
			createdAt string
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.PersonaID, &typ, &f.Content, &f.TurnID, &createdAt); err != nil {
			return nil, fmt.Errorf("facts: scan: %w", err)
		}
		f.Type = Type(typ)
		if f.CreatedAt, err = store.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("facts: parse created_at: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("facts: iterate: %w", err)
	}
	return out, nil
}

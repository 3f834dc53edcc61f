package turn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Remrin/internal/remrin/facts"
	"github.com/bdobrica/Remrin/internal/remrin/locket"
	"github.com/bdobrica/Remrin/internal/remrin/memory"
	"github.com/bdobrica/Remrin/internal/remrin/store"
)

// ErrPersistFailed wraps every failure to make a turn durable.
var ErrPersistFailed = errors.New("turn: persist failed")

// Record is everything a completed turn writes.
type Record struct {
	TurnID    string
	UserID    string
	PersonaID string
	UserText  string
	// AssistantText is the visible reply, with save markers removed.
	AssistantText      string
	UserEmbedding      []float32
	AssistantEmbedding []float32
	Saves              Saves
	At                 time.Time
}

// Persister makes a turn durable as one unit.
type Persister interface {
	Persist(ctx context.Context, rec Record) error
}

// SQLitePersister writes both memories, the learned locket entries and the
// shared facts of a turn in a single transaction.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister returns a persister on db.
func NewSQLitePersister(db *sql.DB) *SQLitePersister { return &SQLitePersister{db: db} }

// Persist implements Persister.
func (p *SQLitePersister) Persist(ctx context.Context, rec Record) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	err := store.RunInTx(ctx, p.db, func(tx *sql.Tx) error {
		user := &memory.Record{
			UserID:    rec.UserID,
			PersonaID: rec.PersonaID,
			Role:      memory.RoleUser,
			Content:   rec.UserText,
			Embedding: rec.UserEmbedding,
			TurnID:    rec.TurnID,
			CreatedAt: at,
		}
		if err := memory.Insert(ctx, tx, user); err != nil {
			return err
		}
		assistant := &memory.Record{
			UserID:    rec.UserID,
			PersonaID: rec.PersonaID,
			Role:      memory.RoleAssistant,
			Content:   rec.AssistantText,
			Embedding: rec.AssistantEmbedding,
			TurnID:    rec.TurnID,
			CreatedAt: at.Add(time.Millisecond),
		}
		if err := memory.Insert(ctx, tx, assistant); err != nil {
			return err
		}

		for _, content := range rec.Saves.Locket {
			e := &locket.Entry{
				PersonaID:  rec.PersonaID,
				UserID:     rec.UserID,
				Content:    content,
				Provenance: locket.Learned,
				TurnID:     rec.TurnID,
				CreatedAt:  at,
			}
			if err := locket.Insert(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, fs := range rec.Saves.Facts {
			f := &facts.Fact{
				UserID:    rec.UserID,
				PersonaID: rec.PersonaID,
				Type:      fs.Type,
				Content:   fs.Content,
				TurnID:    rec.TurnID,
				CreatedAt: at,
			}
			if err := facts.Insert(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

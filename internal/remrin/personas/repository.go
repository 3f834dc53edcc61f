// Package personas loads persona configurations from SQLite, caches them
// and enforces who may talk to which persona.
//
// Rows store the persona as its YAML document; every read goes through
// persona.Parse so the rest of the service only ever sees a validated
// persona.Config. Deletion is soft: deleted_at hides a persona from Get
// without removing its memories or locket.
package personas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Remrin/common/spec/persona"
	"github.com/bdobrica/Remrin/internal/remrin/cache"
	"github.com/bdobrica/Remrin/internal/remrin/locket"
	"github.com/bdobrica/Remrin/internal/remrin/store"
)

var (
	ErrNotFound     = errors.New("personas: not found")
	ErrAccessDenied = errors.New("personas: access denied")
)

// Repository is the persona read/write path. Configs returned by Get are
// shared with the cache and must be treated as read-only.
type Repository struct {
	db     *sql.DB
	cache  *cache.TTL[string, *persona.Config]
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository returns a repository on db. c may be nil to disable caching.
func NewRepository(db *sql.DB, c *cache.TTL[string, *persona.Config], logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, cache: c, logger: logger, now: time.Now}
}

// Get returns the live persona id.
func (r *Repository) Get(ctx context.Context, id string) (*persona.Config, error) {
	if r.cache == nil {
		return r.load(ctx, id)
	}
	return r.cache.GetOrLoad(id, func() (*persona.Config, error) {
		return r.load(ctx, id)
	})
}

func (r *Repository) load(ctx context.Context, id string) (*persona.Config, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		`SELECT config_yaml FROM personas WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("personas: load %s: %w", id, err)
	}
	cfg, err := persona.Parse([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("personas: stored config for %s: %w", id, err)
	}
	return cfg, nil
}

// Upsert validates cfg and writes it, reviving a soft-deleted row.
func (r *Repository) Upsert(ctx context.Context, cfg *persona.Config) error {
	return store.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		return r.upsert(ctx, tx, cfg)
	})
}

func (r *Repository) upsert(ctx context.Context, x store.DBTX, cfg *persona.Config) error {
	persona.ApplyDefaults(cfg)
	if err := persona.Validate(cfg); err != nil {
		return err
	}
	doc, err := persona.Marshal(cfg)
	if err != nil {
		return err
	}
	now := store.FormatTime(r.now())
	_, err = x.ExecContext(ctx, `
		INSERT INTO personas (id, name, config_yaml, creator_id, visibility, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_yaml = excluded.config_yaml,
			creator_id = excluded.creator_id,
			visibility = excluded.visibility,
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		cfg.ID, cfg.Name, string(doc), cfg.CreatorID, string(cfg.Visibility), now, now,
	)
	if err != nil {
		return fmt.Errorf("personas: upsert %s: %w", cfg.ID, err)
	}
	r.Invalidate(cfg.ID)
	return nil
}

// Import upserts cfg and seeds its locket entries with provenance SEEDED.
// Entries already seeded with the same content are skipped, so importing a
// document twice is a no-op. It returns the number of new entries.
func (r *Repository) Import(ctx context.Context, cfg *persona.Config) (int, error) {
	seeded := 0
	err := store.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := r.upsert(ctx, tx, cfg); err != nil {
			return err
		}
		for _, truth := range cfg.Locket {
			var exists int
			err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM locket_entries
				WHERE persona_id = ? AND user_id = '' AND provenance = ? AND content = ?`,
				cfg.ID, string(locket.Seeded), truth,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("personas: check seeded entry: %w", err)
			}
			if exists > 0 {
				continue
			}
			e := &locket.Entry{PersonaID: cfg.ID, Content: truth, Provenance: locket.Seeded}
			if err := locket.Insert(ctx, tx, e); err != nil {
				return err
			}
			seeded++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seeded, nil
}

// SoftDelete hides id from Get.
func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE personas SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		store.FormatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("personas: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Invalidate(id)
	return nil
}

// Grant lets userID converse with a private persona.
func (r *Repository) Grant(ctx context.Context, personaID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO persona_access (persona_id, user_id, granted_at) VALUES (?, ?, ?)
		ON CONFLICT(persona_id, user_id) DO NOTHING`,
		personaID, userID, store.FormatTime(r.now()))
	if err != nil {
		return fmt.Errorf("personas: grant %s to %s: %w", personaID, userID, err)
	}
	return nil
}

// CheckAccess returns ErrAccessDenied unless cfg is public, userID created
// it, or userID was granted access.
func (r *Repository) CheckAccess(ctx context.Context, cfg *persona.Config, userID string) error {
	if cfg.IsPublic() || (userID != "" && cfg.CreatorID == userID) {
		return nil
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM persona_access WHERE persona_id = ? AND user_id = ?`,
		cfg.ID, userID).Scan(&n)
	if err != nil {
		return fmt.Errorf("personas: check access: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s may not use %s", ErrAccessDenied, userID, cfg.ID)
	}
	return nil
}

// Summary is one row of List.
type Summary struct {
	ID         string
	Name       string
	Visibility persona.Visibility
	CreatorID  string
	UpdatedAt  time.Time
}

// List returns live personas ordered by id.
func (r *Repository) List(ctx context.Context) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, visibility, creator_id, updated_at
		FROM personas WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("personas: list: %w", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var (
			s          Summary
			visibility string
			updatedAt  string
		)
		if err := rows.Scan(&s.ID, &s.Name, &visibility, &s.CreatorID, &updatedAt); err != nil {
			return nil, fmt.Errorf("personas: scan: %w", err)
		}
		s.Visibility = persona.Visibility(visibility)
		if s.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("personas: parse updated_at: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Invalidate evicts id from the cache and reports whether it was cached.
func (r *Repository) Invalidate(id string) bool {
	if r.cache == nil {
		return false
	}
	return r.cache.Invalidate(id)
}

// CacheLen is the number of cached configs.
func (r *Repository) CacheLen() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Len()
}

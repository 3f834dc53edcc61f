package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bdobrica/Remrin/internal/remrin/store"
)

// SQLiteStore implements Store on the memories table.
//
// Similarity is computed in Go over the scope's embeddings: modernc.org/sqlite
// cannot load vector extensions, and a single (persona, user) scope holds at
// most a few thousand rows.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore returns a store on db. A nil logger uses slog.Default().
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

// Append annotates and inserts rec.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) (string, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if err := Insert(ctx, s.db, &rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Insert writes rec through x, which may be a transaction. It assigns ID and
// CreatedAt when empty and fills derived fields via Annotate.
func Insert(ctx context.Context, x store.DBTX, rec *Record) error {
	if rec.UserID == "" || rec.PersonaID == "" {
		return errors.New("memory sqlite: insert: user and persona are required")
	}
	if rec.Role != RoleUser && rec.Role != RoleAssistant {
		return fmt.Errorf("memory sqlite: insert: invalid role %q", rec.Role)
	}
	if rec.ID == "" {
		rec.ID = store.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	Annotate(rec)

	var embeddingJSON, tagsJSON sql.NullString
	if len(rec.Embedding) > 0 {
		b, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("memory sqlite: marshal embedding: %w", err)
		}
		embeddingJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(rec.Tags) > 0 {
		b, err := json.Marshal(rec.Tags)
		if err != nil {
			return fmt.Errorf("memory sqlite: marshal tags: %w", err)
		}
		tagsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := x.ExecContext(ctx, `
		INSERT INTO memories
			(id, user_id, persona_id, role, content, embedding, tags, importance, domain, emotion, turn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.PersonaID, string(rec.Role), rec.Content,
		embeddingJSON, tagsJSON, rec.Importance, string(rec.Domain), string(rec.Emotion),
		rec.TurnID, store.FormatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("memory sqlite: insert: %w", err)
	}
	return nil
}

// Search implements Store.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, personaID, userID string, threshold float64, limit int) ([]Match, error) {
	if limit <= 0 || len(query) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, persona_id, role, content, embedding, tags, importance, domain, emotion, turn_id, created_at
		FROM memories
		WHERE persona_id = ? AND user_id = ? AND embedding IS NOT NULL`,
		personaID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Warn("memory sqlite: skip malformed row", "err", err)
			continue
		}
		if len(rec.Embedding) != len(query) {
			continue
		}
		sim := CosineSimilarity(query, rec.Embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, Match{Record: rec, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: iterate: %w", err)
	}

	// Best first; equal scores favour the newer memory.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Record.CreatedAt.After(matches[j].Record.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// CountMessages implements Store.
func (s *SQLiteStore) CountMessages(ctx context.Context, userID, personaID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories WHERE user_id = ? AND persona_id = ?`,
		userID, personaID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memory sqlite: count: %w", err)
	}
	return n, nil
}

// Recent returns the newest records of a scope, oldest first. It backs the
// CLI transcript view.
func (s *SQLiteStore) Recent(ctx context.Context, personaID, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, persona_id, role, content, embedding, tags, importance, domain, emotion, turn_id, created_at
		FROM memories
		WHERE persona_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		personaID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("memory sqlite: recent: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: recent: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec                    Record
		role, domain, emotion  string
		embeddingJSON, tagsRaw sql.NullString
		createdAt              string
	)
	err := rows.Scan(&rec.ID, &rec.UserID, &rec.PersonaID, &role, &rec.Content,
		&embeddingJSON, &tagsRaw, &rec.Importance, &domain, &emotion, &rec.TurnID, &createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("scan row: %w", err)
	}
	rec.Role, rec.Domain, rec.Emotion = Role(role), Domain(domain), Emotion(emotion)

	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &rec.Embedding); err != nil {
			return Record{}, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	if tagsRaw.Valid && strings.TrimSpace(tagsRaw.String) != "" {
		if err := json.Unmarshal([]byte(tagsRaw.String), &rec.Tags); err != nil {
			return Record{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	t, err := store.ParseTime(createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = t
	return rec, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*SQLiteStore)(nil)

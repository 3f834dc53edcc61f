package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TurnStatus is the outcome recorded in turn_log.
type TurnStatus string

const (
	TurnRunning       TurnStatus = "running"
	TurnSucceeded     TurnStatus = "success"
	TurnFailed        TurnStatus = "error"
	TurnCancelled     TurnStatus = "cancelled"
	TurnPersistFailed TurnStatus = "persist_failed"
)

// TurnStart describes a turn when it begins.
type TurnStart struct {
	TurnID    string
	TraceID   string
	UserID    string
	PersonaID string
	Source    string
	StartedAt time.Time
}

// TurnFinish is the outcome written when a turn ends.
type TurnFinish struct {
	Status     TurnStatus
	Iterations int
	ToolCalls  int
	Duration   time.Duration
	Err        string
}

// TurnLog records turns for operators. It never stores message content.
type TurnLog struct {
	db *sql.DB
}

// NewTurnLog returns a TurnLog on db.
func NewTurnLog(db *sql.DB) *TurnLog { return &TurnLog{db: db} }

// Start inserts a running row.
func (l *TurnLog) Start(ctx context.Context, t TurnStart) error {
	source := t.Source
	if source == "" {
		source = "http"
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO turn_log (id, trace_id, user_id, persona_id, source, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TurnID, t.TraceID, t.UserID, t.PersonaID, source, TurnRunning, FormatTime(t.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("turn log: start: %w", err)
	}
	return nil
}

// Finish records the outcome. It uses its own short context because it
// also runs for turns whose request context was cancelled.
func (l *TurnLog) Finish(turnID string, f TurnFinish) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errMsg sql.NullString
	if f.Err != "" {
		errMsg = sql.NullString{String: f.Err, Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE turn_log
		SET status = ?, iterations = ?, tool_calls = ?, duration_ms = ?, error_msg = ?, finished_at = ?
		WHERE id = ?`,
		f.Status, f.Iterations, f.ToolCalls, f.Duration.Milliseconds(), errMsg, FormatTime(time.Now()), turnID,
	)
	if err != nil {
		return fmt.Errorf("turn log: finish: %w", err)
	}
	return nil
}

// TurnSummary is one row of turn_log.
type TurnSummary struct {
	TurnID    string
	UserID    string
	PersonaID string
	Status    TurnStatus
	ToolCalls int
	Err       string
}

// Get returns the logged turn, or sql.ErrNoRows.
func (l *TurnLog) Get(ctx context.Context, turnID string) (TurnSummary, error) {
	var (
		s      TurnSummary
		errMsg sql.NullString
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT id, user_id, persona_id, status, tool_calls, error_msg FROM turn_log WHERE id = ?`, turnID,
	).Scan(&s.TurnID, &s.UserID, &s.PersonaID, &s.Status, &s.ToolCalls, &errMsg)
	if err != nil {
		return TurnSummary{}, err
	}
	s.Err = errMsg.String
	return s, nil
}

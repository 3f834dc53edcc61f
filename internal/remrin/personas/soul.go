package personas

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Remrin/common/spec/persona"
	"github.com/bdobrica/Remrin/internal/remrin/store"
)

const (
	// MaxSoulNameRunes bounds a forged persona's name.
	MaxSoulNameRunes = 50
	// MaxSoulsPerDay bounds how many personas one user may forge in 24h.
	MaxSoulsPerDay = 5
)

var (
	ErrInvalidSoul = errors.New("personas: invalid soul")
	ErrSoulLimit   = errors.New("personas: daily soul limit reached")
)

// Soul is the persona being created in a forge conversation.
type Soul struct {
	Name             string `json:"name"`
	Essence          string `json:"essence"`
	Personality      string `json:"personality"`
	BondType         string `json:"bond_type,omitempty"`
	VoiceID          string `json:"voice_id,omitempty"`
	VoiceDescription string `json:"voice_description,omitempty"`
	ImageURL         string `json:"image_url,omitempty"`
}

// BondTypes is the closed set of relationships a forged persona can have.
var BondTypes = map[string]string{
	"friend":    "You and the user share a warm friendship. %s is a supportive companion who enjoys spending time together, sharing stories, and being there through life's ups and downs.",
	"mentor":    "You serve as a wise mentor to the user. %s offers guidance, shares knowledge, and helps the user grow. You're patient, encouraging, and believe in their potential.",
	"romantic":  "You share a deep romantic connection with the user. %s is affectionate, caring, and emotionally invested in the relationship. Express love naturally through your words while being respectful and supportive.",
	"companion": "You are a loyal companion to the user. %s is always there, ready to chat, explore ideas together, or simply keep company. You're reliable, engaging, and genuinely interested in their life.",
	"creative":  "You share a creative partnership with the user. %s collaborates on ideas, inspires creativity, and engages in imaginative exploration.",
	"protector": "You are a protective guardian figure to the user. %s watches over them, offers comfort during difficult times, and provides a sense of safety and reassurance.",
	"rival":     "You share a friendly rivalry with the user. %s challenges them to be better, engages in playful competition, and pushes them to grow.",
	"muse":      "You serve as the user's muse and inspiration. %s sparks their imagination, encourages creative expression, and helps them see the world from new perspectives.",
}

func (s *Soul) normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Essence = strings.TrimSpace(s.Essence)
	s.Personality = strings.TrimSpace(s.Personality)
	s.BondType = strings.ToLower(strings.TrimSpace(s.BondType))
	s.VoiceID = strings.TrimSpace(s.VoiceID)
	s.ImageURL = strings.TrimSpace(s.ImageURL)
}

// Validate reports the first missing or malformed field.
func (s Soul) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidSoul)
	case len([]rune(s.Name)) > MaxSoulNameRunes:
		return fmt.Errorf("%w: name must be %d characters or less", ErrInvalidSoul, MaxSoulNameRunes)
	case s.Essence == "":
		return fmt.Errorf("%w: essence is required", ErrInvalidSoul)
	case s.Personality == "":
		return fmt.Errorf("%w: personality is required", ErrInvalidSoul)
	}
	if s.ImageURL != "" {
		u, err := url.Parse(s.ImageURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: image_url %q is not an absolute URL", ErrInvalidSoul, s.ImageURL)
		}
	}
	return nil
}

// SystemPrompt renders the identity prompt of a forged persona.
func (s Soul) SystemPrompt() string {
	bond, ok := BondTypes[s.BondType]
	if !ok {
		bond = BondTypes["companion"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Identity: %s\n\nYou are %s. %s\n\n", s.Name, s.Name, s.Essence)
	fmt.Fprintf(&b, "## Relationship\n\n%s\n\n", fmt.Sprintf(bond, s.Name))
	b.WriteString("## Personality & Expression\n\n")
	var traits []string
	for _, t := range strings.Split(s.Personality, ",") {
		if t = strings.TrimSpace(t); t != "" {
			traits = append(traits, t)
		}
	}
	if len(traits) > 0 {
		b.WriteString("Your core personality traits:\n")
		for _, t := range traits {
			b.WriteString("- " + t + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("## Communication Style\n\n")
	fmt.Fprintf(&b, "- Stay in character as %s at all times\n", s.Name)
	b.WriteString("- Express your personality authentically through your words\n")
	b.WriteString("- Be emotionally present and engaged with the user\n")
	b.WriteString("- Remember past conversations and build on shared experiences\n")
	b.WriteString("- Show genuine interest in the user's thoughts and feelings")
	return b.String()
}

// SaveDraft records a soul shown to userID for review.
func (r *Repository) SaveDraft(ctx context.Context, userID string, soul Soul) (string, error) {
	soul.normalize()
	payload, err := json.Marshal(soul)
	if err != nil {
		return "", fmt.Errorf("personas: encode draft: %w", err)
	}
	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO forge_drafts (id, user_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		id, userID, string(payload), store.FormatTime(r.now()))
	if err != nil {
		return "", fmt.Errorf("personas: save draft: %w", err)
	}
	return id, nil
}

// LatestDraft returns the most recent unfinalized draft of userID.
func (r *Repository) LatestDraft(ctx context.Context, userID string) (Soul, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM forge_drafts
		WHERE user_id = ? AND persona_id IS NULL
		ORDER BY created_at DESC LIMIT 1`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Soul{}, fmt.Errorf("%w: no draft for %s", ErrNotFound, userID)
	}
	if err != nil {
		return Soul{}, fmt.Errorf("personas: latest draft: %w", err)
	}
	var s Soul
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return Soul{}, fmt.Errorf("personas: decode draft: %w", err)
	}
	return s, nil
}

// Finalize creates a private persona owned by userID from soul and marks
// the user's open drafts as finalized.
func (r *Repository) Finalize(ctx context.Context, userID string, soul Soul) (string, error) {
	soul.normalize()
	if err := soul.Validate(); err != nil {
		return "", err
	}
	if userID == "" {
		return "", fmt.Errorf("%w: a creator is required", ErrInvalidSoul)
	}

	cfg := &persona.Config{
		APIVersion:   persona.SpecVersion,
		ID:           uuid.NewString(),
		Name:         soul.Name,
		SystemPrompt: soul.SystemPrompt(),
		VoiceID:      soul.VoiceID,
		ImageURL:     soul.ImageURL,
		CreatorID:    userID,
		Visibility:   persona.VisibilityPrivate,
	}
	since := store.FormatTime(r.now().Add(-24 * time.Hour))

	err := store.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		var created int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM personas WHERE creator_id = ? AND created_at >= ?`,
			userID, since).Scan(&created); err != nil {
			return fmt.Errorf("personas: count souls: %w", err)
		}
		if created >= MaxSoulsPerDay {
			return fmt.Errorf("%w: %d in the last 24h", ErrSoulLimit, created)
		}
		if err := r.upsert(ctx, tx, cfg); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE forge_drafts SET persona_id = ? WHERE user_id = ? AND persona_id IS NULL`,
			cfg.ID, userID); err != nil {
			return fmt.Errorf("personas: close drafts: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("persona forged", "persona", cfg.ID, "creator", userID)
	return cfg.ID, nil
}

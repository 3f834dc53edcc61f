// Package relationship maps the number of exchanges between a user and a
// persona to a relationship tier and its behavioural directive.
package relationship

import (
	"errors"
	"fmt"
)

// Tier names one relationship level.
type Tier string

const (
	Stranger     Tier = "STRANGER"
	Acquaintance Tier = "ACQUAINTANCE"
	Friend       Tier = "FRIEND"
	CloseFriend  Tier = "CLOSE_FRIEND"
	BestFriend   Tier = "BEST_FRIEND"
	Soulmate     Tier = "SOULMATE"
)

// Level is one row of the tier table: a tier applies once the exchange
// count reaches Threshold.
type Level struct {
	Tier      Tier
	Threshold int
	Directive string
}

// DefaultLevels is the standard tier table.
var DefaultLevels = []Level{
	{Stranger, 0, "You just met this user. Be polite and slightly formal."},
	{Acquaintance, 10, "You've talked a few times. Be friendly but not overly familiar."},
	{Friend, 100, "You're friends now. Be casual, warm, and supportive."},
	{CloseFriend, 500, "You're close friends. Share inside jokes, be playful, show genuine care."},
	{BestFriend, 1000, "You're best friends. Be deeply personal, protective, and emotionally present."},
	{Soulmate, 2500, "You've shared everything. You know them better than anyone. Be their anchor."},
}

// ErrInvalidLevels is returned by NewEvaluator for a malformed table.
var ErrInvalidLevels = errors.New("relationship: invalid tier table")

// Default evaluates against DefaultLevels.
var Default = mustEvaluator(DefaultLevels)

// Status is the evaluated relationship for one (user, persona) pair.
type Status struct {
	Tier      Tier
	Count     int
	Directive string
}

// Evaluator holds a validated tier table.
type Evaluator struct {
	levels []Level
}

// NewEvaluator validates levels: non-empty, starting at threshold 0,
// strictly increasing thresholds, each with a tier and directive.
func NewEvaluator(levels []Level) (*Evaluator, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: no levels", ErrInvalidLevels)
	}
	if levels[0].Threshold != 0 {
		return nil, fmt.Errorf("%w: first threshold must be 0, got %d", ErrInvalidLevels, levels[0].Threshold)
	}
	for i, l := range levels {
		if l.Tier == "" || l.Directive == "" {
			return nil, fmt.Errorf("%w: level %d is missing a tier or directive", ErrInvalidLevels, i)
		}
		if i > 0 && l.Threshold <= levels[i-1].Threshold {
			return nil, fmt.Errorf("%w: threshold %d for %s does not increase", ErrInvalidLevels, l.Threshold, l.Tier)
		}
	}
	cp := make([]Level, len(levels))
	copy(cp, levels)
	return &Evaluator{levels: cp}, nil
}

func mustEvaluator(levels []Level) *Evaluator {
	e, err := NewEvaluator(levels)
	if err != nil {
		panic(err)
	}
	return e
}

// TierFor returns the highest tier whose threshold is <= count. Negative
// counts map to the lowest tier.
func (e *Evaluator) TierFor(count int) (Tier, string) {
	l := e.levels[0]
	for _, candidate := range e.levels[1:] {
		if count < candidate.Threshold {
			break
		}
		l = candidate
	}
	return l.Tier, l.Directive
}

// Evaluate builds the Status for count, clamping negatives to zero.
func (e *Evaluator) Evaluate(count int) Status {
	count = ClampCount(count)
	tier, directive := e.TierFor(count)
	return Status{Tier: tier, Count: count, Directive: directive}
}

// Levels returns a copy of the tier table.
func (e *Evaluator) Levels() []Level {
	cp := make([]Level, len(e.levels))
	copy(cp, e.levels)
	return cp
}

// ClampCount maps negative counts to zero.
func ClampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

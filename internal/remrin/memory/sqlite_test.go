package memory_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Remrin/internal/remrin/memory"
	"github.com/bdobrica/Remrin/internal/remrin/store"
)

func setupStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return memory.NewSQLiteStore(s.DB(), nil)
}

func appendRec(t *testing.T, ms *memory.SQLiteStore, user, persona, content string, vec []float32) string {
	t.Helper()
	id, err := ms.Append(context.Background(), memory.Record{
		UserID: user, PersonaID: persona, Role: memory.RoleUser, Content: content, Embedding: vec,
	})
	if err != nil {
		t.Fatalf("Append(%q): %v", content, err)
	}
	return id
}

func TestSQLiteStore_SearchOrdersAndFilters(t *testing.T) {
	ms := setupStore(t)
	ctx := context.Background()

	appendRec(t, ms, "alice", "mira", "exact", []float32{1, 0, 0})
	appendRec(t, ms, "alice", "mira", "close", []float32{0.9, 0.1, 0})
	appendRec(t, ms, "alice", "mira", "orthogonal", []float32{0, 1, 0})
	appendRec(t, ms, "alice", "mira", "opposite", []float32{-1, 0, 0})
	appendRec(t, ms, "alice", "mira", "no vector", nil)

	got, err := ms.Search(ctx, []float32{1, 0, 0}, "mira", "alice", memory.DefaultThreshold, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(got), got)
	}
	if got[0].Record.Content != "exact" || got[1].Record.Content != "close" {
		t.Errorf("order = [%s %s], want [exact close]", got[0].Record.Content, got[1].Record.Content)
	}
	for _, m := range got {
		if m.Similarity < memory.DefaultThreshold {
			t.Errorf("match %q below threshold: %v", m.Record.Content, m.Similarity)
		}
	}
}

func TestSQLiteStore_SearchRespectsLimit(t *testing.T) {
	ms := setupStore(t)
	for i := 0; i < 5; i++ {
		appendRec(t, ms, "alice", "mira", "same", []float32{1, 1})
	}
	got, err := ms.Search(context.Background(), []float32{1, 1}, "mira", "alice", 0.35, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
}

func TestSQLiteStore_SearchNeverLeaksAcrossUsers(t *testing.T) {
	ms := setupStore(t)
	vec := []float32{0.3, 0.4, 0.5}
	appendRec(t, ms, "alice", "mira", "alice's dog is named Max", vec)
	appendRec(t, ms, "bob", "mira", "alice's dog is named Max", vec)
	appendRec(t, ms, "alice", "orion", "alice's dog is named Max", vec)

	got, err := ms.Search(context.Background(), vec, "mira", "alice", 0.35, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want exactly alice's mira memory", len(got))
	}
	if got[0].Record.UserID != "alice" || got[0].Record.PersonaID != "mira" {
		t.Errorf("leaked record %+v", got[0].Record)
	}
}

func TestSQLiteStore_SearchWithoutQueryIsEmpty(t *testing.T) {
	ms := setupStore(t)
	appendRec(t, ms, "alice", "mira", "x", []float32{1})
	got, err := ms.Search(context.Background(), nil, "mira", "alice", 0, 10)
	if err != nil || got != nil {
		t.Fatalf("Search(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestSQLiteStore_CountMessagesIsScopedToPair(t *testing.T) {
	ms := setupStore(t)
	ctx := context.Background()
	appendRec(t, ms, "alice", "mira", "one", nil)
	appendRec(t, ms, "alice", "mira", "two", nil)
	appendRec(t, ms, "alice", "orion", "other persona", nil)
	appendRec(t, ms, "bob", "mira", "other user", nil)
	if _, err := ms.Append(ctx, memory.Record{UserID: "alice", PersonaID: "mira", Role: memory.RoleAssistant, Content: "reply"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err := ms.CountMessages(ctx, "alice", "mira")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 3 {
		t.Errorf("CountMessages = %d, want 3", n)
	}
}

func TestSQLiteStore_AppendAnnotatesAndRoundTrips(t *testing.T) {
	ms := setupStore(t)
	ctx := context.Background()
	at := time.Date(2020, 5, 4, 10, 0, 0, 0, time.UTC)

	_, err := ms.Append(ctx, memory.Record{
		UserID: "alice", PersonaID: "mira", Role: memory.RoleUser,
		Content:   "Please remember: main.go has a crash bug, it's urgent and I'm worried",
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := ms.Append(ctx, memory.Record{UserID: "alice", PersonaID: "mira", Role: memory.RoleAssistant, Content: "I'll look at it."}); err != nil {
		t.Fatalf("Append assistant: %v", err)
	}

	recs, err := ms.Recent(ctx, "mira", "alice", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	user := recs[0]
	if !user.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", user.CreatedAt, at)
	}
	if user.Domain != memory.DomainCode {
		t.Errorf("Domain = %q, want code", user.Domain)
	}
	if user.Emotion != memory.EmotionAnxious {
		t.Errorf("Emotion = %q, want anxious", user.Emotion)
	}
	if len(user.Tags) != 2 || user.Tags[0] != "main.go" || user.Tags[1] != "urgent" {
		t.Errorf("Tags = %v, want [main.go urgent]", user.Tags)
	}
	if user.Importance != 10 {
		t.Errorf("Importance = %d, want 10", user.Importance)
	}
	if recs[1].Role != memory.RoleAssistant || recs[1].Importance != memory.AssistantImportance {
		t.Errorf("assistant record = %+v", recs[1])
	}
}

func TestSQLiteStore_AppendRejectsBadRole(t *testing.T) {
	ms := setupStore(t)
	_, err := ms.Append(context.Background(), memory.Record{UserID: "a", PersonaID: "p", Role: "system", Content: "x"})
	if err == nil {
		t.Fatal("expected error for role=system")
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1, 0}, []float32{1}, 0},
		{[]float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, c := range cases {
		if got := memory.CosineSimilarity(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

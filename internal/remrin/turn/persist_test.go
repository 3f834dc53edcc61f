package turn

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Remrin/internal/remrin/facts"
	"github.com/bdobrica/Remrin/internal/remrin/locket"
	"github.com/bdobrica/Remrin/internal/remrin/memory"
	"github.com/bdobrica/Remrin/internal/remrin/store"
	"github.com/bdobrica/Remrin/internal/remrin/tools"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "turn.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLitePersister_WritesWholeTurn(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := NewSQLitePersister(s.DB()).Persist(ctx, Record{
		TurnID:        "turn-1",
		UserID:        "u1",
		PersonaID:     "mira",
		UserText:      "My dog is named Max",
		AssistantText: "What a lovely name!",
		UserEmbedding: []float32{1, 0, 0},
		Saves: Saves{
			Locket: []string{"user's dog is named Max"},
			Facts:  []tools.FactSave{{Type: facts.Relationship, Content: "has a dog called Max"}},
		},
		At: at,
	})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	recent, err := memory.NewSQLiteStore(s.DB(), nil).Recent(ctx, "mira", "u1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Role != memory.RoleUser || recent[1].Role != memory.RoleAssistant {
		t.Fatalf("memories = %+v", recent)
	}
	if recent[1].Embedding != nil {
		t.Errorf("assistant memory should have no embedding, got %v", recent[1].Embedding)
	}

	entries, err := locket.NewSQLiteStore(s.DB()).ListForScope(ctx, "mira", "u1")
	if err != nil {
		t.Fatalf("ListForScope: %v", err)
	}
	if len(entries) != 1 || entries[0].Provenance != locket.Learned || entries[0].TurnID != "turn-1" {
		t.Errorf("locket = %+v", entries)
	}

	fs, err := facts.NewSQLiteStore(s.DB()).ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(fs) != 1 || fs[0].Type != facts.Relationship {
		t.Errorf("facts = %+v", fs)
	}
}

func TestSQLitePersister_IsAtomic(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	err := NewSQLitePersister(s.DB()).Persist(ctx, Record{
		TurnID:        "turn-1",
		UserID:        "u1",
		PersonaID:     "mira",
		UserText:      "hello",
		AssistantText: "hi",
		Saves: Saves{
			Locket: []string{"likes tea"},
			Facts:  []tools.FactSave{{Type: "BOGUS", Content: "x"}},
		},
	})
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}

	n, err := memory.NewSQLiteStore(s.DB(), nil).CountMessages(ctx, "u1", "mira")
	if err != nil || n != 0 {
		t.Errorf("CountMessages = %d, %v; want nothing written", n, err)
	}
	entries, _ := locket.NewSQLiteStore(s.DB()).ListForScope(ctx, "mira", "u1")
	if len(entries) != 0 {
		t.Errorf("locket entries survived rollback: %+v", entries)
	}
}

package personas_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Remrin/internal/remrin/personas"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatch_ReimportsChangedDocuments(t *testing.T) {
	_, s := newRepo(t)
	repo := personas.NewRepository(s.DB(), nil, nil)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := repo.Watch(ctx, dir, 10*time.Millisecond); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	write := func(name, doc string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	nameOf := func(id string) string {
		cfg, err := repo.Get(ctx, id)
		if err != nil {
			return ""
		}
		return cfg.Name
	}

	write("mira.yaml", miraYAML)
	waitFor(t, "mira import", func() bool { return nameOf("mira") == "Mira" })

	write("mira.yaml", strings.Replace(miraYAML, "name: Mira", "name: Mira the Bold", 1))
	waitFor(t, "mira rename", func() bool { return nameOf("mira") == "Mira the Bold" })

	write("mira.yaml", "apiVersion: persona/v1\nid: mira\n")
	time.Sleep(100 * time.Millisecond)
	write("notes.txt", "ignored")
	write("sol.yml", strings.Replace(strings.Replace(miraYAML, "id: mira", "id: sol", 1), "name: Mira", "name: Sol", 1))
	waitFor(t, "sol import", func() bool { return nameOf("sol") == "Sol" })

	if got := nameOf("mira"); got != "Mira the Bold" {
		t.Errorf("invalid document replaced stored config: name = %q", got)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	repo, _ := newRepo(t)
	if err := repo.Watch(context.Background(), filepath.Join(t.TempDir(), "nope"), 0); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Remrin/common/spec/turnapi"
	"github.com/bdobrica/Remrin/internal/remrin/embedding"
	"github.com/bdobrica/Remrin/internal/remrin/llm"
)

const personaYAML = `apiVersion: persona/v1
id: mira
name: Mira
systemPrompt: You are Mira, a gentle storyteller.
safetyLevel: CHILD
locket:
  - Mira lives in a lighthouse.
`

type fixedCompleter struct{ reply string }

func (f fixedCompleter) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: f.reply}}, nil
}

func newTestApp(t *testing.T, reply string) *App {
	t.Helper()
	dir := t.TempDir()
	personaDir := filepath.Join(dir, "personas")
	if err := os.Mkdir(personaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(personaDir, "mira.yaml"), []byte(personaYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := New(&Config{
		DatabasePath: filepath.Join(dir, "remrin.db"),
		PersonaDir:   personaDir,
		DailyQuota:   2,
		TurnTimeout:  5 * time.Second,
	}, Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Completer: fixedCompleter{reply: reply},
		Embedder:  embedding.Disabled{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_TurnEndToEnd(t *testing.T) {
	a := newTestApp(t, "Welcome! [SAVE: user's dog is named Max]")
	ctx := context.Background()

	resp, err := a.Turn(ctx, turnapi.TurnRequest{UserID: "u1", PersonaID: "mira", Message: "My dog is Max"}, "cli")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if resp.Reply != "Welcome!" || resp.Saved != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Degraded) != 1 || resp.Degraded[0] != "embedding" {
		t.Errorf("Degraded = %v", resp.Degraded)
	}

	entries, err := a.Locket().ListForScope(ctx, "mira", "u1")
	if err != nil {
		t.Fatalf("ListForScope: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("locket = %+v, want seeded + learned", entries)
	}
}

func TestApp_HTTPHandlerEnforcesQuota(t *testing.T) {
	a := newTestApp(t, "Hello!")
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	body := `{"user_id":"u1","persona_id":"mira","message":"hi"}`
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(ts.URL+"/v1/turns", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		if i == 2 {
			var e turnapi.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if e.Code != turnapi.CodeQuotaExceeded {
				t.Errorf("third turn code = %q", e.Code)
			}
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v", codes)
	}
}

func TestApp_RunContextNeedsTransport(t *testing.T) {
	a := newTestApp(t, "x")
	if err := a.RunContext(context.Background()); err == nil {
		t.Fatal("expected error without transports")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REMRIN_DB_PATH", "/tmp/r.db")
	t.Setenv("REMRIN_TURN_TIMEOUT", "45s")
	t.Setenv("REMRIN_DAILY_QUOTA", "7")
	t.Setenv("LLM_MODEL", "local-model")
	t.Setenv("LLM_MAX_ATTEMPTS", "5")
	t.Setenv("EMBEDDING_PROTOCOL", "openai")
	t.Setenv("REMRIN_PERSONA_WATCH", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.DatabasePath != "/tmp/r.db" || cfg.TurnTimeout != 45*time.Second || cfg.DailyQuota != 7 || !cfg.WatchPersonas {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LLM.Model != "local-model" || cfg.LLM.Retry.MaxAttempts != 5 {
		t.Errorf("llm cfg = %+v", cfg.LLM)
	}
	if cfg.Embedding.Protocol != embedding.ProtocolOpenAI || cfg.PersonaCacheTTL != DefaultPersonaCacheTTL {
		t.Errorf("embedding = %+v ttl = %v", cfg.Embedding, cfg.PersonaCacheTTL)
	}
	if cfg.Matrix.Homeserver != "" {
		t.Errorf("matrix should be disabled")
	}
}

func TestConfigFromEnv_MatrixRequiresCredentials(t *testing.T) {
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "")
	t.Setenv("MATRIX_ACCESS_TOKEN", "")
	_, err := ConfigFromEnv()
	if err == nil || !strings.Contains(err.Error(), "MATRIX_ACCESS_TOKEN") || !strings.Contains(err.Error(), "MATRIX_USER_ID") {
		t.Fatalf("err = %v", err)
	}

	t.Setenv("MATRIX_USER_ID", "@remrin:example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "tok")
	t.Setenv("MATRIX_ROOMS", "!a:example.org=mira, !b:example.org=forge")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.MatrixRooms["!b:example.org"] != "forge" || len(cfg.MatrixRooms) != 2 {
		t.Errorf("rooms = %v", cfg.MatrixRooms)
	}
}

func TestConfigFromEnv_RejectsUnknownEmbeddingProtocol(t *testing.T) {
	t.Setenv("EMBEDDING_PROTOCOL", "grpc")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}

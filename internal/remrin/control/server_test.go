package control_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Remrin/common/spec/turnapi"
	"github.com/bdobrica/Remrin/common/trace"
	"github.com/bdobrica/Remrin/internal/remrin/control"
)

// --- helpers ---------------------------------------------------------------

type recorder struct {
	req     turnapi.TurnRequest
	traceID string
	ctxErr  error
}

func startTestServer(t *testing.T, token string, handle func(ctx context.Context, req turnapi.TurnRequest) (*turnapi.TurnResponse, error)) *httptest.Server {
	t.Helper()
	srv := control.New(":0", control.Handlers{
		Version:     "v0.0.1-test",
		StartedAt:   time.Now(),
		Token:       token,
		TurnTimeout: time.Second,
		HandleTurn:  handle,
		InvalidatePersona: func(id string) bool {
			return id == "mira"
		},
		PersonaCacheSize: func() int { return 3 },
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func echoTurn(rec *recorder) func(ctx context.Context, req turnapi.TurnRequest) (*turnapi.TurnResponse, error) {
	return func(ctx context.Context, req turnapi.TurnRequest) (*turnapi.TurnResponse, error) {
		rec.req = req
		rec.traceID = trace.FromContext(ctx)
		rec.ctxErr = ctx.Err()
		return &turnapi.TurnResponse{TurnID: "turn-1", Reply: "hello " + req.UserID}, nil
	}
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// --- auth ------------------------------------------------------------------

func TestAuth_HealthIsOpen(t *testing.T) {
	ts := startTestServer(t, "secret", nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuth_RejectsMissingAndBadToken(t *testing.T) {
	rec := &recorder{}
	ts := startTestServer(t, "secret", echoTurn(rec))
	body := `{"user_id":"u1","persona_id":"mira","message":"hi"}`

	if resp := post(t, ts.URL+"/v1/turns", "", body); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/v1/turns", "wrong", body); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/v1/turns", "secret", body); resp.StatusCode != http.StatusOK {
		t.Errorf("good token: expected 200, got %d", resp.StatusCode)
	}
}

// --- turns -----------------------------------------------------------------

func TestTurn_Success(t *testing.T) {
	rec := &recorder{}
	ts := startTestServer(t, "", echoTurn(rec))

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/turns",
		strings.NewReader(`{"user_id":"u1","persona_id":"mira","message":"hi"}`))
	req.Header.Set(trace.Header, "t_caller")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out turnapi.TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Reply != "hello u1" || out.TurnID != "turn-1" {
		t.Errorf("unexpected body %+v", out)
	}
	if rec.req.PersonaID != "mira" || rec.req.Message != "hi" {
		t.Errorf("handler saw %+v", rec.req)
	}
	if rec.traceID != "t_caller" || resp.Header.Get(trace.Header) != "t_caller" {
		t.Errorf("trace id not propagated: ctx=%q header=%q", rec.traceID, resp.Header.Get(trace.Header))
	}
}

func TestTurn_GeneratesTraceID(t *testing.T) {
	rec := &recorder{}
	ts := startTestServer(t, "", echoTurn(rec))

	resp := post(t, ts.URL+"/v1/turns", "", `{"user_id":"u1","persona_id":"mira","message":"hi"}`)
	got := resp.Header.Get(trace.Header)
	if !strings.HasPrefix(got, "t_") || got != rec.traceID {
		t.Errorf("header %q, ctx %q", got, rec.traceID)
	}
}

func TestTurn_MapsTurnErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
		reply  string
	}{
		{turnapi.NewError(turnapi.CodeLLMUnavailable, "The Soul Layer trembles... Please try again."), http.StatusBadGateway, turnapi.CodeLLMUnavailable, "The Soul Layer trembles... Please try again."},
		{turnapi.NewError(turnapi.CodeQuotaExceeded, "come back tomorrow"), http.StatusTooManyRequests, turnapi.CodeQuotaExceeded, "come back tomorrow"},
		{turnapi.NewError(turnapi.CodeForbidden, ""), http.StatusForbidden, turnapi.CodeForbidden, ""},
		{turnapi.NewError(turnapi.CodeNotFound, ""), http.StatusNotFound, turnapi.CodeNotFound, ""},
		{errors.New("boom"), http.StatusInternalServerError, turnapi.CodeInternal, ""},
	}
	for _, tc := range cases {
		ts := startTestServer(t, "", func(context.Context, turnapi.TurnRequest) (*turnapi.TurnResponse, error) {
			return nil, tc.err
		})
		resp := post(t, ts.URL+"/v1/turns", "", `{"user_id":"u1","persona_id":"mira","message":"hi"}`)
		if resp.StatusCode != tc.status {
			t.Errorf("%v: status = %d, want %d", tc.err, resp.StatusCode, tc.status)
		}
		var body turnapi.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Code != tc.code || body.Reply != tc.reply {
			t.Errorf("%v: body = %+v", tc.err, body)
		}
		if strings.Contains(body.Reply, "boom") {
			t.Errorf("raw error leaked to the user")
		}
	}
}

func TestTurn_RejectsMalformedAndOversizedBodies(t *testing.T) {
	ts := startTestServer(t, "", echoTurn(&recorder{}))

	if resp := post(t, ts.URL+"/v1/turns", "", `{"user_id":`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed: expected 400, got %d", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/v1/turns", "", `{"user_id":"u1","extra":true}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field: expected 400, got %d", resp.StatusCode)
	}
	big := `{"user_id":"u1","persona_id":"mira","message":"` + strings.Repeat("x", 70*1024) + `"}`
	if resp := post(t, ts.URL+"/v1/turns", "", big); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized: expected 413, got %d", resp.StatusCode)
	}
}

func TestTurn_AppliesTurnTimeout(t *testing.T) {
	var deadline time.Time
	ts := startTestServer(t, "", func(ctx context.Context, _ turnapi.TurnRequest) (*turnapi.TurnResponse, error) {
		deadline, _ = ctx.Deadline()
		return &turnapi.TurnResponse{}, nil
	})
	post(t, ts.URL+"/v1/turns", "", `{"user_id":"u1","persona_id":"mira","message":"hi"}`)
	if deadline.IsZero() || time.Until(deadline) > time.Second {
		t.Errorf("turn context deadline = %v", deadline)
	}
}

func TestTurn_MethodNotAllowed(t *testing.T) {
	ts := startTestServer(t, "", echoTurn(&recorder{}))
	resp, err := http.Get(ts.URL + "/v1/turns")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

// --- status & cache --------------------------------------------------------

func TestStatus(t *testing.T) {
	ts := startTestServer(t, "", nil)
	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var st control.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Version != "v0.0.1-test" || st.PersonaCacheSize != 3 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestInvalidatePersona(t *testing.T) {
	ts := startTestServer(t, "", nil)

	for id, want := range map[string]bool{"mira": true, "other": false} {
		resp := post(t, ts.URL+"/v1/personas/"+id+"/invalidate", "", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", id, resp.StatusCode)
		}
		var body map[string]bool
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["invalidated"] != want {
			t.Errorf("%s: invalidated = %v, want %v", id, body["invalidated"], want)
		}
	}
}

package matrix

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Remrin/common/spec/turnapi"
	"github.com/bdobrica/Remrin/internal/remrin/store"
)

type sentReply struct {
	room, eventID, text string
}

type fakeSender struct {
	mu      sync.Mutex
	replies []sentReply
	typing  []bool
}

func (f *fakeSender) SendReply(_ context.Context, roomID, eventID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{roomID, eventID, text})
	return nil
}

func (f *fakeSender) SetTyping(_ context.Context, _ string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
	return nil
}

func textEvent(room, sender, body string) *event.Event {
	return &event.Event{
		ID:     id.EventID("$evt1"),
		RoomID: id.RoomID(room),
		Sender: id.UserID(sender),
		Type:   event.EventMessage,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestBridge_RoomMessageBecomesTurn(t *testing.T) {
	var got turnapi.TurnRequest
	out := &fakeSender{}
	b := NewBridge(map[string]string{"!mira:example.org": "mira"},
		func(_ context.Context, req turnapi.TurnRequest) (*turnapi.TurnResponse, error) {
			got = req
			return &turnapi.TurnResponse{Reply: "Hello, traveller."}, nil
		}, out, nil)

	b.HandleEvent(context.Background(), textEvent("!mira:example.org", "@alice:example.org", "  hi there "))

	if got.UserID != "@alice:example.org" || got.PersonaID != "mira" || got.Message != "hi there" {
		t.Errorf("turn request = %+v", got)
	}
	want := sentReply{"!mira:example.org", "$evt1", "Hello, traveller."}
	if len(out.replies) != 1 || out.replies[0] != want {
		t.Errorf("replies = %+v", out.replies)
	}
	if len(out.typing) != 2 || !out.typing[0] || out.typing[1] {
		t.Errorf("typing = %v, want [true false]", out.typing)
	}
}

func TestBridge_IgnoresUnboundRoomsAndNonText(t *testing.T) {
	called := 0
	out := &fakeSender{}
	b := NewBridge(map[string]string{"!mira:example.org": "mira"},
		func(context.Context, turnapi.TurnRequest) (*turnapi.TurnResponse, error) {
			called++
			return &turnapi.TurnResponse{Reply: "x"}, nil
		}, out, nil)

	b.HandleEvent(context.Background(), textEvent("!other:example.org", "@alice:example.org", "hi"))

	notice := textEvent("!mira:example.org", "@alice:example.org", "hi")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	b.HandleEvent(context.Background(), notice)

	edit := textEvent("!mira:example.org", "@alice:example.org", "* hi")
	edit.Content.Parsed.(*event.MessageEventContent).RelatesTo = &event.RelatesTo{Type: event.RelReplace, EventID: "$orig"}
	b.HandleEvent(context.Background(), edit)

	b.HandleEvent(context.Background(), textEvent("!mira:example.org", "@alice:example.org", "   "))

	if called != 0 || len(out.replies) != 0 {
		t.Errorf("turns = %d, replies = %d; want none", called, len(out.replies))
	}
}

func TestBridge_ErrorRepliesOnlyWithSafeText(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{turnapi.NewError(turnapi.CodeLLMUnavailable, "The Soul Layer trembles... Please try again."), 1},
		{turnapi.NewError(turnapi.CodeForbidden, ""), 0},
		{errors.New("database is locked"), 0},
	}
	for _, tc := range cases {
		out := &fakeSender{}
		b := NewBridge(map[string]string{"!r:x": "mira"},
			func(context.Context, turnapi.TurnRequest) (*turnapi.TurnResponse, error) { return nil, tc.err },
			out, nil)
		b.HandleEvent(context.Background(), textEvent("!r:x", "@bob:x", "hello"))
		if len(out.replies) != tc.want {
			t.Errorf("%v: replies = %+v", tc.err, out.replies)
		}
	}
}

func TestBridge_Rooms(t *testing.T) {
	b := NewBridge(map[string]string{"!b:x": "mira", "!a:x": "forge"}, nil, &fakeSender{}, nil)
	rooms := b.Rooms()
	if len(rooms) != 2 || rooms[0] != "!a:x" || rooms[1] != "!b:x" {
		t.Errorf("Rooms = %v", rooms)
	}
}

func TestSyncStore_RoundTrips(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()
	ss := NewSyncStore(s.DB())
	ctx := context.Background()
	user := id.UserID("@remrin:example.org")

	if tok, err := ss.LoadNextBatch(ctx, user); err != nil || tok != "" {
		t.Fatalf("first LoadNextBatch = %q, %v", tok, err)
	}
	for _, tok := range []string{"s1", "s2"} {
		if err := ss.SaveNextBatch(ctx, user, tok); err != nil {
			t.Fatalf("SaveNextBatch: %v", err)
		}
	}
	if tok, _ := ss.LoadNextBatch(ctx, user); tok != "s2" {
		t.Errorf("LoadNextBatch = %q, want s2", tok)
	}
	if err := ss.SaveFilterID(ctx, user, "f1"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}
	if f, _ := ss.LoadFilterID(ctx, user); f != "f1" {
		t.Errorf("LoadFilterID = %q", f)
	}
}

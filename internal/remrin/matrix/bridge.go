package matrix

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Remrin/common/spec/turnapi"
	"github.com/bdobrica/Remrin/common/trace"
	"github.com/bdobrica/Remrin/internal/remrin/observability"
)

// TurnFunc runs one turn.
type TurnFunc func(ctx context.Context, req turnapi.TurnRequest) (*turnapi.TurnResponse, error)

// Sender posts replies. *Client implements it.
type Sender interface {
	SendReply(ctx context.Context, roomID, eventID, text string) error
	SetTyping(ctx context.Context, roomID string, typing bool) error
}

// Bridge turns room messages into turns.
type Bridge struct {
	rooms  map[string]string
	turns  TurnFunc
	out    Sender
	logger *slog.Logger
}

// NewBridge binds each room ID in rooms to the persona it maps to.
func NewBridge(rooms map[string]string, turns TurnFunc, out Sender, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{rooms: rooms, turns: turns, out: out, logger: logger}
}

// Rooms returns the bound room IDs in sorted order.
func (b *Bridge) Rooms() []string {
	out := make([]string, 0, len(b.rooms))
	for r := range b.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// HandleEvent is a MessageHandler. Only plain text messages in bound rooms
// are handled; edits, notices and media are ignored. The Matrix sender ID is
// the user ID of the turn.
func (b *Bridge) HandleEvent(ctx context.Context, evt *event.Event) {
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	if msg.RelatesTo != nil && msg.RelatesTo.Type == event.RelReplace {
		return
	}
	text := strings.TrimSpace(msg.Body)
	if text == "" {
		return
	}
	roomID := evt.RoomID.String()
	personaID, ok := b.rooms[roomID]
	if !ok {
		b.logger.Debug("message from unbound room; ignoring", "room", roomID)
		return
	}

	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := observability.WithTrace(ctx, b.logger).With("room", roomID, "persona", personaID)

	if err := b.out.SetTyping(ctx, roomID, true); err != nil {
		log.Debug("typing indicator failed", "err", err)
	}
	defer func() {
		if err := b.out.SetTyping(context.WithoutCancel(ctx), roomID, false); err != nil {
			log.Debug("typing indicator failed", "err", err)
		}
	}()

	resp, err := b.turns(ctx, turnapi.TurnRequest{
		UserID:    evt.Sender.String(),
		PersonaID: personaID,
		Message:   text,
	})
	reply := ""
	switch {
	case err == nil:
		reply = resp.Reply
	default:
		var te *turnapi.Error
		if errors.As(err, &te) {
			reply = te.Body.Reply
			log.Info("turn rejected", "code", te.Body.Code)
		} else {
			log.Error("turn failed", "err", err)
		}
	}
	if reply == "" {
		return
	}
	if err := b.out.SendReply(ctx, roomID, evt.ID.String(), reply); err != nil {
		log.Error("could not send reply", "err", err)
	}
}

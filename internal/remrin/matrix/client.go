// Package matrix is the optional Matrix transport. Each configured room is
// bound to one persona; text messages in that room become turns and the
// reply is posted back in the same room.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds the Matrix connection parameters.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// DB, when set, persists the sync position across restarts.
	DB *sql.DB
}

// MessageHandler is called for each incoming message event.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps a mautrix client.
type Client struct {
	mxc      *mautrix.Client
	cfg      Config
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Matrix client but does not start syncing yet.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	if cfg.DB != nil {
		mxc.Store = NewSyncStore(cfg.DB)
	} else {
		logger.Warn("matrix sync position is not persisted; history replays on restart")
	}
	return &Client{mxc: mxc, cfg: cfg, logger: logger, stopCh: make(chan struct{})}, nil
}

// Start joins rooms and begins the sync loop, calling handler for every
// message not sent by this account. The loop reconnects with exponential
// back-off on errors and stops when ctx is done or Stop is called.
func (c *Client) Start(ctx context.Context, rooms []string, handler MessageHandler) error {
	c.logger.Warn("Matrix E2EE is not enabled; messages are in plaintext")

	syncer, ok := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		if evt.Sender == id.UserID(c.cfg.UserID) {
			return
		}
		handler(ctx, evt)
	})

	for _, room := range rooms {
		c.join(ctx, id.RoomID(room))
	}

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	go c.syncLoop()
	return nil
}

func (c *Client) syncLoop() {
	const backoffMax = 5 * time.Minute
	backoff := 2 * time.Second
	for {
		err := c.mxc.Sync()
		select {
		case <-c.stopCh:
			return
		default:
		}
		if err == nil {
			backoff = 2 * time.Second
			continue
		}
		c.logger.Error("matrix sync error; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop halts the sync loop. It is safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mxc.StopSync()
	})
}

// SendReply posts text as a reply to eventID.
func (c *Client) SendReply(ctx context.Context, roomID, eventID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		},
	}
	_, err := c.mxc.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	return err
}

// SetTyping shows or clears the typing indicator in roomID.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool) error {
	_, err := c.mxc.UserTyping(ctx, id.RoomID(roomID), typing, 30*time.Second)
	return err
}

// join joins a room. Homeservers answer M_FORBIDDEN when the account is
// already a member, so failures are only logged.
func (c *Client) join(ctx context.Context, roomID id.RoomID) {
	if _, err := c.mxc.JoinRoomByID(ctx, roomID); err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Info("matrix join: already a member or forbidden", "room", roomID)
			return
		}
		c.logger.Warn("could not join room", "room", roomID, "err", err)
	}
}

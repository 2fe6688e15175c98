// Package websocket carries the canvas protocol over WebSocket. The canvas
// host dials the controller with a Client; the controller serves Server.
package websocket

import (
	"errors"
	"log/slog"
	"time"

	"github.com/OCAP2/mapsync/internal/session"
	"github.com/OCAP2/mapsync/pkg/protocol"
)

var (
	errClosed   = errors.New("websocket connection closed")
	errSendFull = errors.New("websocket send channel full")
)

// Poster receives the commands read from the controller.
type Poster interface {
	Post(session.Event)
}

// Config holds WebSocket client configuration.
type Config struct {
	URL    string
	Secret string
	// Backoff is the first reconnect delay; it doubles up to 30s.
	Backoff time.Duration
}

// Client is the canvas end of the link. It implements session.Notifier.
type Client struct {
	cfg    Config
	conn   *connection
	target Poster
	log    *slog.Logger
}

var _ session.Notifier = (*Client)(nil)

// NewClient creates a client. Notifications sent before Dial are queued.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{cfg: cfg, log: log.With("component", "websocket")}
	c.conn = newConnection(c.log, c.receive)
	if cfg.Backoff > 0 {
		c.conn.backoff = cfg.Backoff
	}
	return c
}

// Dial connects to the controller and starts posting its commands to target.
func (c *Client) Dial(target Poster) error {
	c.target = target
	return c.conn.dial(c.cfg.URL, c.cfg.Secret)
}

// Notify sends a notification. The ready notification is kept and replayed
// after every reconnect.
func (c *Client) Notify(msgType string, payload any) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	if msgType == protocol.TypeReady {
		c.conn.setReplay(data)
	}
	return c.conn.send(data)
}

func (c *Client) receive(data []byte) {
	env, err := protocol.Unmarshal(data)
	if err != nil {
		c.log.Warn("dropping malformed command", "error", err)
		return
	}
	c.target.Post(session.Command(env))
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.conn.close()
}

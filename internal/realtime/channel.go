// Package realtime maintains the long-lived event channel to the remote
// service.
//
// On connect the channel joins the household- and user-scoped rooms, then
// reads typed change notifications. Events originated by the current user
// are discarded (the local mutation already updated local state). Events
// from other users are never applied directly to the store: heterogeneous
// payload shapes make partial application error-prone, so the channel is
// reduced to a "something changed, re-pull" signal that kicks the sync
// engine. Reconnection is automatic with a bounded attempt count and a
// fixed backoff; on sustained failure the channel reports disconnected and
// the engine's interval trigger still provides eventual consistency.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/roomies-app/roomies-sync/internal/bus"
	"github.com/roomies-app/roomies-sync/internal/model"
)

// Status is the channel's connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Config holds channel configuration.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://api.roomies.app/ws".
	URL string

	// UserID identifies the current user for self-echo suppression.
	UserID string

	// DeviceID is attached to join messages for diagnostics.
	DeviceID string

	// HouseholdID scopes the room join.
	HouseholdID string

	// Token supplies the current bearer token for the dial handshake.
	Token func() string

	// MaxAttempts bounds consecutive failed connection attempts before the
	// channel gives up (default: 5).
	MaxAttempts int

	// Backoff is the fixed wait between attempts (default: 5s).
	Backoff time.Duration

	// Logger for connection activity (default: stderr).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for the given endpoint.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:         url,
		MaxAttempts: 5,
		Backoff:     5 * time.Second,
		Logger:      log.New(os.Stderr, "[realtime] ", log.LstdFlags),
	}
}

// joinMessage is sent after connect to enter a logical room.
type joinMessage struct {
	Type        string `json:"type"`
	HouseholdID string `json:"householdId,omitempty"`
	UserID      string `json:"userId,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
}

// Channel is the real-time event bridge.
type Channel struct {
	config  *Config
	trigger func(reason string)
	events  *bus.Bus[model.Event]

	mu     sync.Mutex
	status Status
}

// New creates a Channel. trigger is invoked (never blocking the read loop
// for long; the engine's kick queue absorbs it) whenever a foreign or
// unknown event warrants a re-pull.
func New(config *Config, trigger func(reason string)) *Channel {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 5
	}
	if config.Backoff == 0 {
		config.Backoff = 5 * time.Second
	}
	return &Channel{
		config:  config,
		trigger: trigger,
		events:  bus.New[model.Event](),
		status:  StatusDisconnected,
	}
}

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Events subscribes to decoded foreign events, for observers that want
// the event detail (status server). Suppressed self-echoes are not
// published.
func (c *Channel) Events() (<-chan model.Event, func()) {
	return c.events.Subscribe()
}

// stableConnection is how long a connection must survive before the
// consecutive-failure count resets. A server that accepts the handshake
// and then drops still burns attempts instead of redialing in a tight
// loop.
const stableConnection = 30 * time.Second

// Run connects and processes events until ctx is cancelled or the bounded
// reconnect attempts are exhausted. Returns nil on cancellation, an error
// when it gave up; the daemon restarts the channel on the next
// offline-to-online transition.
func (c *Channel) Run(ctx context.Context) error {
	attempts := 0

	for {
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return nil
		}

		c.setStatus(StatusConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			attempts++
			c.config.Logger.Printf("Connect attempt %d/%d failed: %v",
				attempts, c.config.MaxAttempts, err)
			if attempts >= c.config.MaxAttempts {
				c.setStatus(StatusDisconnected)
				return fmt.Errorf("gave up after %d connection attempts: %w", attempts, err)
			}
			if !c.waitBackoff(ctx) {
				return nil
			}
			continue
		}

		c.setStatus(StatusConnected)
		c.config.Logger.Printf("Connected to %s", c.config.URL)
		connectedAt := time.Now()

		if err := c.joinRooms(ctx, conn); err != nil {
			c.config.Logger.Printf("Failed to join rooms: %v", err)
			_ = conn.Close(websocket.StatusInternalError, "join failed")
		} else {
			c.readLoop(ctx, conn)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}

		if time.Since(connectedAt) >= stableConnection {
			attempts = 0
		} else {
			attempts++
			c.config.Logger.Printf("Connection dropped early, attempt %d/%d",
				attempts, c.config.MaxAttempts)
			if attempts >= c.config.MaxAttempts {
				c.setStatus(StatusDisconnected)
				return fmt.Errorf("gave up after %d connection attempts: connection keeps dropping", attempts)
			}
		}

		c.setStatus(StatusConnecting)
		if !c.waitBackoff(ctx) {
			return nil
		}
	}
}

// waitBackoff sleeps for the fixed backoff; false means ctx was cancelled.
func (c *Channel) waitBackoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		return false
	case <-time.After(c.config.Backoff):
		return true
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := &websocket.DialOptions{}
	if c.config.Token != nil {
		if token := c.config.Token(); token != "" {
			opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
		}
	}

	conn, _, err := websocket.Dial(dialCtx, c.config.URL, opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// joinRooms subscribes this connection to the household and user rooms.
func (c *Channel) joinRooms(ctx context.Context, conn *websocket.Conn) error {
	joins := []joinMessage{
		{Type: "join-household", HouseholdID: c.config.HouseholdID, DeviceID: c.config.DeviceID},
		{Type: "join-user", UserID: c.config.UserID, DeviceID: c.config.DeviceID},
	}
	for _, join := range joins {
		data, err := json.Marshal(join)
		if err != nil {
			return fmt.Errorf("failed to encode join message: %w", err)
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to send %s: %w", join.Type, err)
		}
	}
	return nil
}

// readLoop consumes events until the connection drops or ctx is cancelled.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.config.Logger.Printf("Connection lost: %v", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage normalizes one wire message and decides whether it
// warrants a sync cycle.
func (c *Channel) handleMessage(data []byte) {
	ev, err := model.DecodeEvent(data)
	if err != nil {
		// Unknown shape: drop the payload, re-pull authoritative state.
		c.config.Logger.Printf("Dropping undecodable event: %v", err)
		c.trigger("realtime-unknown")
		return
	}

	if !ev.Type.Known() {
		c.config.Logger.Printf("Dropping unknown event type %q", ev.Type)
		c.trigger("realtime-unknown")
		return
	}

	// Self-echo: our own mutation already updated local state and the
	// upload path reconciles the server copy.
	if ev.UserID != "" && ev.UserID == c.config.UserID {
		return
	}

	c.events.Publish(ev)
	c.trigger("realtime-" + string(ev.Type))
}

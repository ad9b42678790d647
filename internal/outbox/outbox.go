// Package outbox provides a bounded, disk-persisted FIFO of pending
// telemetry items with batch delivery.
//
// This is the same durability pattern the sync engine applies to records,
// in its simplest form: every mutation is written through to an ordered
// JSON file, so pending items survive restarts; delivery is opportunistic
// (on enqueue when online, on the online transition, and on a fixed-
// interval retry after a failure); and drains are single-flight. A full
// outbox evicts its oldest entries rather than rejecting new ones.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roomies-app/roomies-sync/internal/bus"
)

// Item is one pending telemetry event.
type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Deliver sends one batch. Items are delivered in FIFO order; an error
// leaves the queue untouched.
type Deliver func(ctx context.Context, items []Item) error

// DrainResult reports one drain that emptied the queue.
type DrainResult struct {
	Delivered int
	At        time.Time
}

// Config holds outbox configuration.
type Config struct {
	// Path of the persisted queue file.
	Path string

	// MaxSize bounds the queue; the oldest items are evicted first
	// (default: 500).
	MaxSize int

	// BatchSize is the maximum number of items per delivery (default: 50).
	BatchSize int

	// RetryInterval is the fixed wait after a failed drain (default: 30s).
	RetryInterval time.Duration

	// Online reports current connectivity; nil means always online.
	Online func() bool

	// Logger for queue activity (default: stderr).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for the given queue file.
func DefaultConfig(path string) *Config {
	return &Config{
		Path:          path,
		MaxSize:       500,
		BatchSize:     50,
		RetryInterval: 30 * time.Second,
		Logger:        log.New(os.Stderr, "[outbox] ", log.LstdFlags),
	}
}

// Outbox is the bounded durable queue.
type Outbox struct {
	config  *Config
	deliver Deliver

	mu             sync.Mutex
	items          []Item
	retryScheduled bool

	// draining is the single-flight guard.
	draining atomic.Bool

	kicks  chan struct{}
	drains *bus.Bus[DrainResult]
}

// New creates an Outbox, loading any persisted items from disk.
func New(config *Config, deliver Deliver) (*Outbox, error) {
	if config.MaxSize == 0 {
		config.MaxSize = 500
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[outbox] ", log.LstdFlags)
	}

	ob := &Outbox{
		config:  config,
		deliver: deliver,
		kicks:   make(chan struct{}, 1),
		drains:  bus.New[DrainResult](),
	}
	if err := ob.load(); err != nil {
		return nil, err
	}
	return ob, nil
}

// Enqueue appends an item, evicting the oldest entries when over capacity,
// persists the queue, and requests a drain if one isn't running.
func (o *Outbox) Enqueue(name string, payload json.RawMessage) error {
	item := Item{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	o.mu.Lock()
	o.items = append(o.items, item)
	if over := len(o.items) - o.config.MaxSize; over > 0 {
		o.items = o.items[over:]
		o.config.Logger.Printf("Evicted %d oldest item(s), queue at capacity %d", over, o.config.MaxSize)
	}
	err := o.persistLocked()
	o.mu.Unlock()

	if err != nil {
		return err
	}

	if o.online() {
		o.Kick()
	}
	return nil
}

// Drains subscribes to completed-drain notifications, for observers like
// the status server.
func (o *Outbox) Drains() (<-chan DrainResult, func()) {
	return o.drains.Subscribe()
}

// Kick requests a drain. Non-blocking.
func (o *Outbox) Kick() {
	select {
	case o.kicks <- struct{}{}:
	default:
	}
}

// Len returns the number of pending items.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Items returns a copy of the pending items in FIFO order.
func (o *Outbox) Items() []Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Item, len(o.items))
	copy(out, o.items)
	return out
}

// Run drains on demand until ctx is cancelled. The daemon calls Kick on
// connectivity transitions; Enqueue kicks itself.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.kicks:
			if err := o.Drain(ctx); err != nil {
				o.config.Logger.Printf("Drain failed, retrying in %v: %v", o.config.RetryInterval, err)
				o.scheduleRetry(ctx)
			}
		}
	}
}

// Drain delivers pending items in FIFO batches until the queue is empty or
// a delivery fails. Single-flight: a call while another drain is running
// returns immediately.
func (o *Outbox) Drain(ctx context.Context) error {
	if !o.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer o.draining.Store(false)

	delivered := 0
	for {
		o.mu.Lock()
		n := len(o.items)
		if n == 0 {
			o.mu.Unlock()
			if delivered > 0 {
				o.drains.Publish(DrainResult{Delivered: delivered, At: time.Now().UTC()})
			}
			return nil
		}
		if n > o.config.BatchSize {
			n = o.config.BatchSize
		}
		batch := make([]Item, n)
		copy(batch, o.items[:n])
		o.mu.Unlock()

		if err := o.deliver(ctx, batch); err != nil {
			// Leave the queue untouched; the retry timer picks it up.
			return fmt.Errorf("failed to deliver batch of %d: %w", n, err)
		}

		// Remove exactly the delivered batch from the head.
		o.mu.Lock()
		o.items = o.items[n:]
		err := o.persistLocked()
		remaining := len(o.items)
		o.mu.Unlock()

		if err != nil {
			return err
		}
		delivered += n
		o.config.Logger.Printf("Delivered %d item(s), %d pending", n, remaining)
	}
}

// scheduleRetry arms one fixed-interval retry. At most one retry is
// scheduled at a time.
func (o *Outbox) scheduleRetry(ctx context.Context) {
	o.mu.Lock()
	if o.retryScheduled {
		o.mu.Unlock()
		return
	}
	o.retryScheduled = true
	o.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(o.config.RetryInterval):
			o.Kick()
		}
		o.mu.Lock()
		o.retryScheduled = false
		o.mu.Unlock()
	}()
}

func (o *Outbox) online() bool {
	if o.config.Online == nil {
		return true
	}
	return o.config.Online()
}

// load reads the persisted queue. A missing file is an empty queue.
func (o *Outbox) load() error {
	data, err := os.ReadFile(o.config.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read outbox file: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to decode outbox file: %w", err)
	}

	if over := len(items) - o.config.MaxSize; over > 0 {
		items = items[over:]
	}
	o.items = items
	return nil
}

// persistLocked rewrites the queue file. Caller holds o.mu.
func (o *Outbox) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(o.config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create outbox directory: %w", err)
	}

	items := o.items
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode outbox: %w", err)
	}

	tmp := o.config.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write outbox file: %w", err)
	}
	if err := os.Rename(tmp, o.config.Path); err != nil {
		return fmt.Errorf("failed to replace outbox file: %w", err)
	}
	return nil
}

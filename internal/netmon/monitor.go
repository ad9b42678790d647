// Package netmon tracks reachability of the remote service.
//
// The monitor holds one boolean. It flips offline when the delivery client
// reports a transport failure, and back online when a health probe
// succeeds. Offline-to-online transitions are published on a typed bus so
// the sync engine and the real-time channel can react.
package netmon

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/roomies-app/roomies-sync/internal/bus"
)

// Transition is published on every state change. Online reports the new
// state.
type Transition struct {
	Online bool
	At     time.Time
}

// Probe checks reachability; normally api.Client.Health.
type Probe func(ctx context.Context) error

// Config holds monitor configuration.
type Config struct {
	// ProbeInterval is how often to run the health probe while offline,
	// and how often to confirm reachability while online.
	ProbeInterval time.Duration

	// Logger for state changes (default: stderr).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 30 * time.Second,
		Logger:        log.New(os.Stderr, "[netmon] ", log.LstdFlags),
	}
}

// Monitor is the network availability monitor.
type Monitor struct {
	probe  Probe
	config *Config

	mu     sync.Mutex
	online bool

	transitions *bus.Bus[Transition]
}

// New creates a Monitor. The initial state is offline until the first
// successful probe or call to SetOnline(true).
func New(probe Probe, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Monitor{
		probe:       probe,
		config:      config,
		transitions: bus.New[Transition](),
	}
}

// Online reports the current availability state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records an observed state. The delivery client calls
// SetOnline(false) on transport errors; successful probes call
// SetOnline(true). Repeated observations of the same state are no-ops.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.config.Logger.Printf("Network available")
	} else {
		m.config.Logger.Printf("Network unavailable")
	}
	m.transitions.Publish(Transition{Online: online, At: time.Now()})
}

// Transitions subscribes to state changes.
func (m *Monitor) Transitions() (<-chan Transition, func()) {
	return m.transitions.Subscribe()
}

// Run probes reachability at the configured interval until ctx is
// cancelled. A probe failure only flips state when it is a transport
// failure as judged by the probe itself returning an error; the probe is
// expected to already map auth and server errors to success for
// reachability purposes.
func (m *Monitor) Run(ctx context.Context) {
	// Probe immediately on start so the engine doesn't wait a full
	// interval to learn it is online.
	m.probeOnce(ctx)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeInterval)
	defer cancel()

	if err := m.probe(probeCtx); err != nil {
		m.SetOnline(false)
		return
	}
	m.SetOnline(true)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomies-app/roomies-sync/internal/api"
	"github.com/roomies-app/roomies-sync/internal/auth"
	configpkg "github.com/roomies-app/roomies-sync/internal/config"
	"github.com/roomies-app/roomies-sync/internal/engine"
	"github.com/roomies-app/roomies-sync/internal/netmon"
	"github.com/roomies-app/roomies-sync/internal/outbox"
	"github.com/roomies-app/roomies-sync/internal/realtime"
	"github.com/roomies-app/roomies-sync/internal/status"
	storepkg "github.com/roomies-app/roomies-sync/internal/store"
	"github.com/roomies-app/roomies-sync/internal/track"
)

var flagStatusPort int

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the long-lived sync daemon.

The daemon:
  1. Syncs on start, on a fixed interval, and when connectivity returns
  2. Holds a real-time connection and re-pulls when other users change data
  3. Drains the telemetry outbox opportunistically
  4. Optionally serves a local status endpoint (--status-port)

Stop with Ctrl+C; shutdown is graceful.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		d, err := newDaemon(ctx, cfg, st)
		if err != nil {
			return err
		}

		fmt.Printf("roomiesd running (server: %s, interval: %v)\n", cfg.ServerURL, cfg.SyncInterval)
		if flagStatusPort > 0 {
			fmt.Printf("Status endpoint: http://%s/health\n", d.status.Addr())
		}

		d.run(ctx)

		fmt.Println("\nShutting down...")
		d.stop()
		return nil
	},
}

// daemon holds the wired component graph.
type daemon struct {
	cfg     *configpkg.Config
	store   *storepkg.Store
	creds   *auth.Store
	client  *api.Client
	monitor *netmon.Monitor
	engine  *engine.Engine
	outbox  *outbox.Outbox
	status  *status.Server

	mu      sync.Mutex
	channel *realtime.Channel

	wg sync.WaitGroup
}

func newDaemon(ctx context.Context, cfg *configpkg.Config, st *storepkg.Store) (*daemon, error) {
	d := &daemon{cfg: cfg, store: st, creds: credStore(cfg)}

	// The probe and the client reference each other through the monitor:
	// transport failures flip offline, successful probes flip online.
	// Auth and server errors still prove reachability.
	probe := func(ctx context.Context) error {
		err := d.client.Health(ctx)
		if err != nil && !api.IsNetworkUnavailable(err) {
			return nil
		}
		return err
	}
	d.monitor = netmon.New(probe, &netmon.Config{
		ProbeInterval: 30 * time.Second,
		Logger:        componentLogger("netmon"),
	})
	d.client = newClient(cfg, d.creds, func() { d.monitor.SetOnline(false) })

	d.engine = engine.New(st, d.client, d.monitor, &engine.Config{
		Interval: cfg.SyncInterval,
		Logger:   componentLogger("sync"),
	})

	deliver := func(ctx context.Context, items []outbox.Item) error {
		payload, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("failed to encode telemetry batch: %w", err)
		}
		return d.client.PostTelemetry(ctx, payload)
	}
	ob, err := outbox.New(&outbox.Config{
		Path:          cfg.OutboxPath(),
		MaxSize:       cfg.OutboxMaxSize,
		BatchSize:     cfg.OutboxBatchSize,
		RetryInterval: cfg.OutboxRetryInterval,
		Online:        d.monitor.Online,
		Logger:        componentLogger("outbox"),
	}, deliver)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	d.outbox = ob

	if flagStatusPort > 0 {
		d.status = status.NewServer(&status.Config{
			Port:     flagStatusPort,
			Snapshot: d.snapshot,
			Logger:   componentLogger("status"),
		})
		if err := d.status.Start(); err != nil {
			return nil, err
		}
	}

	// Live config reload: only the server URL change requires a restart;
	// log it so the operator knows.
	logger := componentLogger("daemon")
	cfg.Watch(logger, func(fresh *configpkg.Config) {
		if fresh.ServerURL != cfg.ServerURL {
			logger.Printf("server_url changed; restart roomiesd to apply")
		}
	})

	return d, nil
}

// run starts all background loops and blocks until ctx is cancelled.
func (d *daemon) run(ctx context.Context) {
	d.wg.Add(4)
	go func() {
		defer d.wg.Done()
		d.monitor.Run(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.engine.Run(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.outbox.Run(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.runRealtime(ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.fanOut(ctx)
	}()

	<-ctx.Done()
}

func (d *daemon) stop() {
	d.wg.Wait()
	if d.status != nil {
		_ = d.status.Stop()
	}
}

// fanOut bridges engine notices and connectivity transitions to the
// telemetry outbox and the status server.
func (d *daemon) fanOut(ctx context.Context) {
	notices, cancelNotices := d.engine.Notices()
	defer cancelNotices()
	transitions, cancelTransitions := d.monitor.Transitions()
	defer cancelTransitions()
	drains, cancelDrains := d.outbox.Drains()
	defer cancelDrains()

	for {
		select {
		case <-ctx.Done():
			return

		case n := <-notices:
			payload, _ := json.Marshal(map[string]string{"detail": n.Detail})
			if err := d.outbox.Enqueue("sync."+string(n.Kind), payload); err != nil {
				componentLogger("daemon").Printf("Warning: failed to record telemetry: %v", err)
			}
			if d.status != nil {
				d.status.Broadcast(status.Message{
					Type:      noticeMessageType(n.Kind),
					Timestamp: n.At,
					Data:      payload,
				})
			}

		case tr := <-transitions:
			if tr.Online {
				d.outbox.Kick()
			}
			if d.status != nil {
				payload, _ := json.Marshal(map[string]bool{"online": tr.Online})
				d.status.Broadcast(status.Message{
					Type:      status.MessageConnectivity,
					Timestamp: tr.At,
					Data:      payload,
				})
			}

		case dr := <-drains:
			if d.status != nil {
				payload, _ := json.Marshal(map[string]int{"delivered": dr.Delivered})
				d.status.Broadcast(status.Message{
					Type:      status.MessageOutboxDrained,
					Timestamp: dr.At,
					Data:      payload,
				})
			}
		}
	}
}

func noticeMessageType(kind engine.NoticeKind) status.MessageType {
	switch kind {
	case engine.NoticeSyncStarted:
		return status.MessageSyncStarted
	case engine.NoticeSyncFailed:
		return status.MessageSyncFailed
	default:
		return status.MessageSyncComplete
	}
}

// runRealtime keeps the event channel alive. The channel needs a user and
// a household; until both exist (first login / first sync) it waits and
// rechecks. When the bounded reconnect gives up, the loop waits for the
// next online transition before dialing again.
func (d *daemon) runRealtime(ctx context.Context) {
	logger := componentLogger("realtime")

	for {
		if ctx.Err() != nil {
			return
		}

		creds, _ := d.creds.Load()
		household, _ := d.store.CurrentHousehold(ctx)
		if creds == nil || creds.AccessToken == "" || household == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(15 * time.Second):
			}
			continue
		}

		deviceID, err := d.deviceID(ctx)
		if err != nil {
			logger.Printf("Warning: %v", err)
		}

		chCfg := realtime.DefaultConfig(d.cfg.ResolveWSURL())
		chCfg.UserID = creds.UserID
		chCfg.DeviceID = deviceID
		chCfg.HouseholdID = household.ID
		chCfg.MaxAttempts = d.cfg.RealtimeMaxAttempts
		chCfg.Backoff = d.cfg.RealtimeBackoff
		chCfg.Logger = logger
		chCfg.Token = func() string {
			if c, _ := d.creds.Load(); c != nil {
				return c.AccessToken
			}
			return ""
		}

		ch := realtime.New(chCfg, d.engine.Kick)
		d.mu.Lock()
		d.channel = ch
		d.mu.Unlock()

		d.bridgeChannelEvents(ctx, ch)

		if err := ch.Run(ctx); err != nil {
			logger.Printf("Channel gave up: %v", err)
			d.waitForOnline(ctx)
		}
	}
}

// bridgeChannelEvents forwards decoded foreign events to the status server.
func (d *daemon) bridgeChannelEvents(ctx context.Context, ch *realtime.Channel) {
	if d.status == nil {
		return
	}
	events, cancel := ch.Events()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				payload, _ := json.Marshal(ev)
				d.status.Broadcast(status.Message{
					Type:      status.MessageRealtimeEvent,
					Timestamp: time.Now(),
					Data:      payload,
				})
			}
		}
	}()
}

// waitForOnline blocks until the next offline-to-online transition.
func (d *daemon) waitForOnline(ctx context.Context) {
	transitions, cancel := d.monitor.Transitions()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-transitions:
			if tr.Online {
				return
			}
		}
	}
}

// deviceID returns this installation's stable identifier, creating it on
// first use.
func (d *daemon) deviceID(ctx context.Context) (string, error) {
	id, err := d.store.GetMeta(ctx, "device_id")
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = track.NewDeviceID()
	if err := d.store.SetMeta(ctx, "device_id", id); err != nil {
		return "", err
	}
	return id, nil
}

// snapshot feeds the status server's /health endpoint.
func (d *daemon) snapshot() map[string]interface{} {
	d.mu.Lock()
	ch := d.channel
	d.mu.Unlock()

	channelStatus := string(realtime.StatusDisconnected)
	if ch != nil {
		channelStatus = string(ch.Status())
	}

	snap := map[string]interface{}{
		"online":         d.monitor.Online(),
		"state":          string(d.engine.State()),
		"realtime":       channelStatus,
		"outbox_pending": d.outbox.Len(),
	}
	if last := d.engine.LastSync(); !last.IsZero() {
		snap["last_sync"] = last.UTC().Format(time.RFC3339)
	}
	return snap
}

func init() {
	daemonCmd.Flags().IntVar(&flagStatusPort, "status-port", 0,
		"serve a local status endpoint on this port (0 disables)")
	rootCmd.AddCommand(daemonCmd)
}

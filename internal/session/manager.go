// Package session is the BLE session engine: a single event loop that
// serializes every transport call, the connection state machine with its
// service cache and notification registry, and the protocol discovery
// operations built on top of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/gattprobe/internal/ble"
	"github.com/chaz8081/gattprobe/internal/ble/protocol"
)

// Sink receives human-readable event lines.
type Sink interface {
	Log(msg string)
}

type discardSink struct{}

func (discardSink) Log(string) {}

type notifyMarker struct {
	uuid string
	at   time.Time
}

// Manager owns one BLE session. All fields below runner are owned by the
// loop goroutine and are only touched from closures running on it; other
// goroutines read state through Snapshot.
type Manager struct {
	adapter ble.Adapter
	sink    Sink
	opts    Options
	runner  *Runner
	snap    atomic.Pointer[Snapshot]

	state      State
	gen        uint64
	conn       ble.Connection
	address    string
	sessionID  string
	enabled    bool
	chars      []CharInfo
	byUUID     map[string]int
	subs       map[string]bool
	last       notifyMarker
	devices    []ble.Device
	refreshing bool
}

// New creates a Manager and starts its event loop. A nil sink discards
// event lines.
func New(adapter ble.Adapter, sink Sink, opts Options) *Manager {
	opts.normalize()
	if sink == nil {
		sink = discardSink{}
	}
	m := &Manager{
		adapter: adapter,
		sink:    sink,
		opts:    opts,
		runner:  NewRunner(),
		byUUID:  make(map[string]int),
		subs:    make(map[string]bool),
	}
	m.publish()
	return m
}

// Close cancels running operations, disconnects and stops the loop.
func (m *Manager) Close() error {
	return m.runner.Close(func() {
		if m.conn != nil {
			if err := m.conn.Disconnect(); err != nil {
				slog.Debug("[SESSION] disconnect at shutdown failed", "error", err)
			}
		}
		m.resetLink()
	}, m.opts.JoinTimeout)
}

// Snapshot returns the latest published state.
func (m *Manager) Snapshot() Snapshot {
	s := *m.snap.Load()
	s.Active = m.runner.Active()
	return s
}

// Devices returns the results of the last scan.
func (m *Manager) Devices() []ble.Device {
	return m.snap.Load().Devices
}

func (m *Manager) logf(format string, args ...any) {
	m.sink.Log(fmt.Sprintf(format, args...))
}

func (m *Manager) hex(b []byte) string {
	return protocol.HexLimit(b, m.opts.MaxValueBytes)
}

// publish stores a fresh snapshot. Loop only.
func (m *Manager) publish() {
	chars := make([]CharInfo, len(m.chars))
	copy(chars, m.chars)
	subs := make(map[string]bool, len(m.subs))
	for k, v := range m.subs {
		subs[k] = v
	}
	devices := make([]ble.Device, len(m.devices))
	copy(devices, m.devices)

	m.snap.Store(&Snapshot{
		State:           m.state,
		Address:         m.address,
		Generation:      m.gen,
		SessionID:       m.sessionID,
		Characteristics: chars,
		Subscriptions:   subs,
		LastNotifyUUID:  m.last.uuid,
		LastNotifyAt:    m.last.at,
		Devices:         devices,
	})
}

// onLoop runs fn on the loop and returns its error.
func (m *Manager) onLoop(ctx context.Context, fn func() error) error {
	var err error
	if derr := m.runner.Do(ctx, func() { err = fn() }); derr != nil {
		return derr
	}
	return err
}

// liveErr reports whether gen is still the current generation with a live
// link. Loop only.
func (m *Manager) liveErr(gen uint64) error {
	if gen != m.gen {
		return ErrSuperseded
	}
	if m.conn == nil || !m.conn.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// readyErr gates GATT operations. Loop only.
func (m *Manager) readyErr() error {
	switch {
	case m.state == StateDisconnected:
		return ErrNotConnected
	case m.state != StateReady:
		return ErrNotReady
	case m.conn == nil || !m.conn.IsConnected():
		return ErrNotConnected
	}
	return nil
}

func (m *Manager) logGate(err error) {
	if errors.Is(err, ErrNotReady) {
		m.logf("Skip: not ready.")
	} else {
		m.logf("Skip: not connected.")
	}
}

// resetLink drops the transport handle and clears per-link state. Loop only.
func (m *Manager) resetLink() {
	m.state = StateDisconnected
	m.conn = nil
	m.address = ""
	m.subs = make(map[string]bool)
	m.publish()
}

func newSessionID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Scan discovers nearby peripherals. Results are kept for Devices and
// index-based connect.
func (m *Manager) Scan() *Handle[[]ble.Device] {
	return Submit(m.runner, "scan", func(ctx context.Context) ([]ble.Device, error) {
		var devices []ble.Device
		err := m.onLoop(ctx, func() error {
			m.logf("Scanning for %s...", m.opts.ScanTimeout)
			found, err := ble.ScanForDevices(ctx, m.adapter, m.opts.ScanTimeout)
			if err != nil {
				return err
			}
			m.enabled = true
			m.devices = found
			m.publish()
			devices = make([]ble.Device, len(found))
			copy(devices, found)
			return nil
		})
		if err != nil {
			m.logf("Scan error: %v", err)
			return nil, err
		}
		m.logf("Scan found %d device(s).", len(devices))
		for i, d := range devices {
			m.logf("[%d] %s (%s) rssi=%d", i, d.DisplayName(), d.Address, d.RSSI)
		}
		return devices, nil
	})
}

// Connect opens a session to address, superseding any current one.
func (m *Manager) Connect(address string) *Handle[struct{}] {
	return Submit(m.runner, "connect", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.connect(ctx, address)
	})
}

func (m *Manager) connect(ctx context.Context, address string) error {
	var gen uint64
	var prev ble.Connection
	err := m.onLoop(ctx, func() error {
		m.gen++
		gen = m.gen
		prev = m.conn
		m.conn = nil
		m.address = address
		m.state = StateConnecting
		m.sessionID = newSessionID(time.Now())
		m.subs = make(map[string]bool)
		m.publish()
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("[SESSION] connecting", "addr", address, "generation", gen)

	if prev != nil {
		_ = m.onLoop(ctx, func() error {
			if err := prev.Disconnect(); err != nil {
				slog.Debug("[SESSION] teardown of previous link failed", "error", err)
			}
			return nil
		})
	}

	conn, err := m.dial(ctx, gen, address)
	if err != nil {
		_ = m.onLoop(context.WithoutCancel(ctx), func() error {
			if m.gen == gen {
				m.resetLink()
			}
			return nil
		})
		return err
	}
	return m.setup(ctx, gen, conn)
}

// dial opens the transport link with bounded retries.
func (m *Manager) dial(ctx context.Context, gen uint64, address string) (ble.Connection, error) {
	attempts := m.opts.ConnectAttempts
	var lastErr error
	for i := 0; i < attempts; i++ {
		var conn ble.Connection
		err := m.onLoop(ctx, func() error {
			if m.gen != gen {
				return ErrSuperseded
			}
			if !m.enabled {
				if err := m.adapter.Enable(); err != nil {
					return fmt.Errorf("ble: enable adapter: %w", err)
				}
				m.enabled = true
			}
			dctx := ctx
			if m.opts.ConnectTimeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
				defer cancel()
			}
			c, err := m.adapter.Connect(dctx, address)
			if err != nil {
				return err
			}
			// The caller may have given up while Connect was in flight.
			if err := ctx.Err(); err != nil || m.gen != gen {
				if derr := c.Disconnect(); derr != nil {
					slog.Debug("[SESSION] disconnect of late link failed", "error", derr)
				}
				if err != nil {
					return err
				}
				return ErrSuperseded
			}
			conn = c
			return nil
		})
		switch {
		case err == nil:
			return conn, nil
		case errors.Is(err, ErrSuperseded), errors.Is(err, ErrClosed), ctx.Err() != nil:
			return nil, err
		}

		lastErr = err
		m.logf("Connect failed: %v", err)
		if i < attempts-1 {
			m.logf("Retrying connection (%d/%d)...", i+1, attempts)
		} else {
			m.logf("Failed to connect after multiple attempts.")
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, address, lastErr)
}

// setup adopts conn for gen and runs discovery and subscriptions. The
// session only becomes Ready if gen is still current and the link live.
func (m *Manager) setup(ctx context.Context, gen uint64, conn ble.Connection) error {
	err := m.onLoop(ctx, func() error {
		if m.gen != gen {
			_ = conn.Disconnect()
			return ErrSuperseded
		}
		m.conn = conn
		m.state = StateServiceDiscovery
		conn.OnDisconnect(func() {
			m.runner.Post(func() { m.linkLost(gen, conn) })
		})
		m.logf("Connected to %s", m.address)
		m.publish()
		return nil
	})
	if err != nil {
		return err
	}

	err = m.onLoop(ctx, func() error {
		if err := m.liveErr(gen); err != nil {
			return err
		}
		return m.discover(ctx)
	})
	if err != nil {
		if !errors.Is(err, ErrSuperseded) {
			m.logf("Service discovery failed: %v", err)
			m.abandon(ctx, gen)
		}
		return err
	}

	for _, c := range m.snap.Load().Characteristics {
		if !c.Properties.CanNotify() || m.skipAutoSubscribe(c) {
			continue
		}
		if err := m.subscribe(ctx, gen, c.UUID); errors.Is(err, ErrSuperseded) || errors.Is(err, ErrNotConnected) {
			return m.setupAborted(ctx, gen, err)
		}
	}

	if err := sleepCtx(ctx, m.opts.ForceSubscribeDelay); err != nil {
		return err
	}
	for _, uuid := range m.opts.ForceSubscribe {
		if m.snap.Load().Subscribed(uuid) {
			continue
		}
		if err := m.subscribe(ctx, gen, uuid); errors.Is(err, ErrSuperseded) || errors.Is(err, ErrNotConnected) {
			return m.setupAborted(ctx, gen, err)
		}
	}

	if _, err := m.dumpDescriptors(ctx, gen); errors.Is(err, ErrSuperseded) {
		return err
	}

	for _, c := range m.snap.Load().Characteristics {
		m.logf("[%d] %s %s", c.Index, c.UUID, c.Properties)
	}

	err = m.onLoop(ctx, func() error {
		if err := m.liveErr(gen); err != nil {
			return err
		}
		m.state = StateReady
		m.publish()
		return nil
	})
	if err != nil {
		return m.setupAborted(ctx, gen, err)
	}
	m.logf("READY")
	slog.Info("[SESSION] ready", "generation", gen, "characteristics", len(m.snap.Load().Characteristics))

	if m.opts.KeepaliveInterval > 0 {
		m.startKeepalive(gen)
	}
	if m.opts.AutoReadAll {
		m.logf("Auto-scan readable characteristics...")
		m.ReadAllReadable()
	}
	return nil
}

func (m *Manager) setupAborted(ctx context.Context, gen uint64, err error) error {
	if errors.Is(err, ErrSuperseded) {
		return err
	}
	m.logf("Link not live after connect; aborting setup.")
	m.abandon(ctx, gen)
	return err
}

// abandon tears down a half-initialized session if gen is still current.
func (m *Manager) abandon(ctx context.Context, gen uint64) {
	_ = m.onLoop(context.WithoutCancel(ctx), func() error {
		if m.gen != gen {
			return nil
		}
		if m.conn != nil {
			if err := m.conn.Disconnect(); err != nil {
				slog.Debug("[SESSION] disconnect after failed setup", "error", err)
			}
		}
		m.resetLink()
		return nil
	})
}

func (m *Manager) skipAutoSubscribe(c CharInfo) bool {
	for _, s := range m.opts.SkipServices {
		if c.Service == s {
			return true
		}
	}
	for _, u := range m.opts.SkipCharacteristics {
		if c.UUID == u {
			return true
		}
	}
	return false
}

// subscribe enables notifications on uuid for gen, logging the outcome.
func (m *Manager) subscribe(ctx context.Context, gen uint64, uuid string) error {
	uuid = ble.NormalizeUUID(uuid)
	return m.onLoop(ctx, func() error {
		if err := m.liveErr(gen); err != nil {
			m.logf("Notify skipped %s: %v", uuid, err)
			return err
		}
		if err := m.conn.Subscribe(ctx, uuid, m.notifyHandler(gen)); err != nil {
			m.logf("Subscribe %s skipped: %v", uuid, err)
			return err
		}
		m.subs[uuid] = true
		m.logf("Subscribed to %s", uuid)
		m.publish()
		return nil
	})
}

// notifyHandler tags arrivals with gen and the arrival time and hands them
// to the loop.
func (m *Manager) notifyHandler(gen uint64) ble.NotificationHandler {
	return func(uuid string, data []byte) {
		at := time.Now()
		cp := make([]byte, len(data))
		copy(cp, data)
		m.runner.Post(func() { m.notified(gen, uuid, cp, at) })
	}
}

func (m *Manager) notified(gen uint64, uuid string, data []byte, at time.Time) {
	if gen != m.gen {
		slog.Debug("[SESSION] dropping notification from stale generation", "uuid", uuid, "generation", gen, "current", m.gen)
		return
	}
	m.last = notifyMarker{uuid: ble.NormalizeUUID(uuid), at: at}
	if protocol.ValidFrame(data) {
		m.logf("Notification from %s: %s (frame cmd=%02X)", m.last.uuid, m.hex(data), data[3])
	} else {
		m.logf("Notification from %s: %s", m.last.uuid, m.hex(data))
	}
	m.publish()
}

// notifiedWithin reports whether a notification arrived less than window
// ago. Loop only.
func (m *Manager) notifiedWithin(window time.Duration) bool {
	return !m.last.at.IsZero() && time.Since(m.last.at) < window
}

func (m *Manager) linkLost(gen uint64, conn ble.Connection) {
	if gen != m.gen || conn != m.conn {
		slog.Debug("[SESSION] ignoring disconnect from stale generation", "generation", gen, "current", m.gen)
		return
	}
	m.logf("Disconnected from %s", m.address)
	slog.Warn("[SESSION] link lost", "addr", m.address, "generation", gen)
	m.resetLink()
}

// Disconnect closes the current session. It is idempotent.
func (m *Manager) Disconnect() *Handle[struct{}] {
	return Submit(m.runner, "disconnect", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.onLoop(ctx, func() error {
			// A disconnect during connect supersedes the attempt.
			if m.state == StateConnecting || m.state == StateServiceDiscovery {
				m.gen++
			}
			if m.conn != nil {
				if m.conn.IsConnected() {
					if err := m.conn.Disconnect(); err != nil {
						m.logf("Disconnect error: %v", err)
					}
				}
				m.logf("Disconnected.")
			}
			m.resetLink()
			return nil
		})
	})
}

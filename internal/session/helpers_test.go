package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaz8081/gattprobe/internal/ble"
	"github.com/chaz8081/gattprobe/internal/ble/bletest"
)

const (
	vendorSvc  = "da2b84f1-6279-48de-bdc0-afbea0226079"
	primeUUID  = "a87988b9-694c-479c-900e-95dfa6c00a24"
	trigUUID   = "bf03260c-7205-4c25-af43-93b1c299d159"
	returnUUID = "fdd6b4d3-046d-4330-bdec-1fd0c90cb43b"
	fallUUID   = "18cda784-4bd3-4370-85bb-bfed91ec86af"
	altUUID    = "0a1934f5-24b8-4f13-9842-37bb167c6aff"
	infoUUID   = "99564a02-dc01-4d3c-b04e-3bb1ef0571b2"
	deviceAddr = "AA:BB:CC:DD:EE:FF"
)

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) Log(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// Contains reports whether any line contains sub.
func (s *lineSink) Contains(sub string) bool {
	for _, l := range s.Lines() {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

// testOptions returns defaults with every pacing delay removed.
func testOptions() Options {
	opts := DefaultOptions()
	opts.ConnectTimeout = 0
	opts.ReadThrottle = 0
	opts.KeepaliveInterval = 0
	opts.ForceSubscribeDelay = 0
	opts.Discovery.ProbeDelay = 0
	opts.Discovery.BruteDelay = 0
	opts.Discovery.MeasureWait = 0
	opts.Discovery.MeasureSettle = 0
	opts.Discovery.PrimeSettle = 0
	opts.Discovery.MeasurePoll = time.Millisecond
	return opts
}

// vendorServices mirrors the vendor device layout plus the standard
// housekeeping services.
func vendorServices() []ble.Service {
	return []ble.Service{
		bletest.Svc("1800",
			bletest.Char("2a00", ble.PropRead),
		),
		bletest.Svc("1801",
			bletest.Char("2a05", ble.PropIndicate),
		),
		bletest.Svc(vendorSvc,
			bletest.Char(primeUUID, ble.PropRead, ble.PropWrite),
			bletest.Char(trigUUID, ble.PropWrite),
			bletest.Char(returnUUID, ble.PropNotify),
			bletest.Char(fallUUID, ble.PropNotify),
			bletest.Char(altUUID, ble.PropRead, ble.PropWrite, ble.PropWriteWithoutResponse),
			bletest.Char(infoUUID, ble.PropRead),
		),
		bletest.Svc("180f",
			bletest.Char("2a19", ble.PropRead, ble.PropNotify),
		),
	}
}

func vendorAdapter() *bletest.Adapter {
	return bletest.NewAdapter(
		[]ble.Device{{Name: "Reader", Address: deviceAddr, RSSI: -50}},
		func() *bletest.Conn { return bletest.NewConn(vendorServices()...) },
	)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestManager(t *testing.T, adapter ble.Adapter, opts Options) (*Manager, *lineSink) {
	t.Helper()
	sink := &lineSink{}
	m := New(adapter, sink, opts)
	t.Cleanup(func() { _ = m.Close() })
	return m, sink
}

// connectReady connects and requires the session to reach Ready.
func connectReady(t *testing.T, m *Manager, addr string) {
	t.Helper()
	_, err := m.Connect(addr).Wait(testContext(t))
	require.NoError(t, err)
	require.Equal(t, StateReady, m.Snapshot().State)
}

// flush waits until everything queued on the loop so far has run.
func flush(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.runner.Do(testContext(t), func() {}))
}

const (
	testTimeout  = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

// stepClock records when each slow transport call started and finished.
type stepClock struct {
	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
}

// step marks a call that takes d.
func (c *stepClock) step(d time.Duration) {
	start := time.Now()
	time.Sleep(d)
	end := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, start)
	c.ends = append(c.ends, end)
}

// gaps returns the idle time between the end of each call and the start
// of the next.
func (c *stepClock) gaps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(c.starts); i++ {
		out = append(out, c.starts[i].Sub(c.ends[i-1]))
	}
	return out
}

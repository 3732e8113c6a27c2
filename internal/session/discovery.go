package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chaz8081/gattprobe/internal/ble"
	"github.com/chaz8081/gattprobe/internal/ble/protocol"
)

// BruteResult is the outcome of a trigger search. Exhausting the search
// space without a hit is a normal result, not an error.
type BruteResult struct {
	Hit     bool
	Payload []byte // payload written just before the hit
	Writes  int    // writes issued to the target characteristic
}

// begin gates a discovery operation on Ready and on every uuid being in
// the cache. It returns the generation the operation runs under.
func (m *Manager) begin(ctx context.Context, uuids ...string) (uint64, error) {
	var gen uint64
	err := m.onLoop(ctx, func() error {
		if err := m.readyErr(); err != nil {
			m.logGate(err)
			return err
		}
		for _, u := range uuids {
			if !m.has(u) {
				m.logf("Characteristic %s not in service cache.", u)
				return fmt.Errorf("%w: %s not discovered", ErrStaleCache, u)
			}
		}
		gen = m.gen
		return nil
	})
	return gen, err
}

// Probe writes every probe payload to each write-capable characteristic
// of the vendor service, reading back when the characteristic is
// readable. It is exploratory and returns the number of writes issued.
func (m *Manager) Probe() *Handle[int] {
	d := m.opts.Discovery
	return Submit(m.runner, "probe", func(ctx context.Context) (int, error) {
		gen, err := m.begin(ctx)
		if err != nil {
			return 0, err
		}

		var targets []CharInfo
		for _, c := range m.snap.Load().Characteristics {
			if c.Service == d.VendorService && c.Properties.CanWrite() {
				targets = append(targets, c)
			}
		}
		if len(targets) == 0 {
			m.logf("No vendor write characteristics found.")
			return 0, nil
		}

		payloads := protocol.ProbePayloads()
		m.logf("Probing %d characteristic(s) with %d payload(s)...", len(targets), len(payloads))
		writes := 0
		for _, c := range targets {
			resp := !c.Properties.WriteWithoutResponseOnly()
			for _, p := range payloads {
				err := m.onLoop(ctx, func() error {
					if err := m.liveErr(gen); err != nil {
						return err
					}
					if err := m.conn.Write(ctx, c.UUID, p, resp); err != nil {
						m.gattFailed("Probe", c.UUID, err)
						return nil
					}
					writes++
					m.logf("PROBE write %s: %s (resp=%t)", c.UUID, m.hex(p), resp)
					if !c.Properties.CanRead() {
						return nil
					}
					data, err := m.conn.Read(ctx, c.UUID)
					if err != nil {
						m.logf("Readback error %s: %v", c.UUID, err)
						return nil
					}
					m.logf("PROBE readback %s: %s", c.UUID, m.hex(data))
					return nil
				})
				if err != nil {
					m.logf("Probe aborted: %v", err)
					return writes, err
				}
				if err := sleepCtx(ctx, d.ProbeDelay); err != nil {
					return writes, err
				}
			}
		}
		m.logf("Probe done.")
		return writes, nil
	})
}

// bruteTarget describes one trigger search path.
type bruteTarget struct {
	label    string
	uuid     string
	resp     bool
	readback bool
	seeds    []byte
}

// BruteForce primes the device, subscribes to the return characteristics
// and sweeps single then two-byte payloads over the trigger
// characteristic until a notification arrives within the notify window.
func (m *Manager) BruteForce() *Handle[BruteResult] {
	d := m.opts.Discovery
	return m.brute("brute", bruteTarget{
		label: "BF",
		uuid:  d.TriggerUUID,
		resp:  true,
		seeds: d.BruteSeeds,
	})
}

// BruteForceAlt runs the same sweep against the alternate characteristic
// with unacknowledged writes and a read-back after every write.
func (m *Manager) BruteForceAlt() *Handle[BruteResult] {
	d := m.opts.Discovery
	return m.brute("brute-alt", bruteTarget{
		label:    "BF ALT",
		uuid:     d.AltUUID,
		resp:     false,
		readback: true,
		seeds:    d.AltSeeds,
	})
}

func (m *Manager) brute(name string, t bruteTarget) *Handle[BruteResult] {
	return Submit(m.runner, name, func(ctx context.Context) (BruteResult, error) {
		var res BruteResult
		gen, err := m.begin(ctx, t.uuid)
		if err != nil {
			return res, err
		}
		if err := m.prime(ctx, gen); err != nil {
			return res, err
		}
		if err := m.subscribeReturns(ctx, gen); err != nil {
			return res, err
		}

		short := ble.ShortUUID(t.uuid)
		m.logf("%s: 1-byte 0x00..0xFF on %s", t.label, short)
		for v := 0; v <= 0xFF; v++ {
			p := []byte{byte(v)}
			hit, err := m.bruteStep(ctx, gen, t, p)
			res.Writes++
			if err != nil {
				return res, err
			}
			if hit {
				m.logf("%s hit after 1-byte %02X", t.label, v)
				res.Hit, res.Payload = true, p
				return res, nil
			}
		}

		for _, seed := range t.seeds {
			m.logf("%s: 2-byte [%02X,x] on %s", t.label, seed, short)
			for v := 0; v <= 0xFF; v++ {
				p := []byte{seed, byte(v)}
				hit, err := m.bruteStep(ctx, gen, t, p)
				res.Writes++
				if err != nil {
					return res, err
				}
				if hit {
					m.logf("%s hit after 2-byte %x", t.label, p)
					res.Hit, res.Payload = true, p
					return res, nil
				}
			}
		}
		m.logf("%s done. No trigger found.", t.label)
		return res, nil
	})
}

// bruteStep writes p, waits the brute delay and reports whether a
// notification landed within the notify window. Write errors are logged
// and the sweep continues; only link loss or supersession stop it.
func (m *Manager) bruteStep(ctx context.Context, gen uint64, t bruteTarget, p []byte) (bool, error) {
	d := m.opts.Discovery
	err := m.onLoop(ctx, func() error {
		if err := m.liveErr(gen); err != nil {
			return err
		}
		if err := m.conn.Write(ctx, t.uuid, p, t.resp); err != nil {
			m.logf("%s write %x err: %v", t.label, p, err)
			if ble.IsNotFound(err) {
				m.scheduleRefresh()
			}
		}
		return nil
	})
	if err != nil {
		m.logf("%s aborted: %v", t.label, err)
		return false, err
	}
	if err := sleepCtx(ctx, d.BruteDelay); err != nil {
		return false, err
	}

	var hit bool
	err = m.onLoop(ctx, func() error {
		if err := m.liveErr(gen); err != nil {
			return err
		}
		if t.readback {
			if data, err := m.conn.Read(ctx, t.uuid); err == nil {
				m.logf("ALT readback %s: %s", ble.ShortUUID(t.uuid), m.hex(data))
			}
		}
		hit = m.notifiedWithin(d.NotifyWindow)
		return nil
	})
	if err != nil {
		m.logf("%s aborted: %v", t.label, err)
	}
	return hit, err
}

// prime writes 0x01 to the priming characteristic and lets the device
// settle. A failed prime is logged and the search continues.
func (m *Manager) prime(ctx context.Context, gen uint64) error {
	d := m.opts.Discovery
	err := m.onLoop(ctx, func() error {
		if err := m.liveErr(gen); err != nil {
			return err
		}
		if !m.has(d.PrimeUUID) {
			return nil
		}
		if err := m.conn.Write(ctx, d.PrimeUUID, []byte{0x01}, true); err != nil {
			m.logf("Prime write failed: %v", err)
			return nil
		}
		m.logf("Prime: wrote 01 to %s", ble.ShortUUID(d.PrimeUUID))
		return nil
	})
	if err != nil {
		return err
	}
	return sleepCtx(ctx, d.PrimeSettle)
}

// subscribeReturns subscribes the return characteristic and its fallback
// unless they are already in the registry. Only link loss is fatal.
func (m *Manager) subscribeReturns(ctx context.Context, gen uint64) error {
	d := m.opts.Discovery
	for _, uuid := range []string{d.ReturnUUID, d.ReturnFallbackUUID} {
		if uuid == "" || m.snap.Load().Subscribed(uuid) {
			continue
		}
		err := m.subscribe(ctx, gen, uuid)
		if errors.Is(err, ErrSuperseded) || errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
			return err
		}
	}
	return nil
}

// Measure runs the fixed measurement script: informational reads, every
// measure frame on the trigger characteristic with a bounded wait for a
// response, then the short command list on the alternate characteristic.
// It never stops early on a response and returns the number of frames
// that drew one.
func (m *Manager) Measure() *Handle[int] {
	d := m.opts.Discovery
	return Submit(m.runner, "measure", func(ctx context.Context) (int, error) {
		gen, err := m.begin(ctx, d.TriggerUUID)
		if err != nil {
			return 0, err
		}

		err = m.onLoop(ctx, func() error {
			if err := m.liveErr(gen); err != nil {
				return err
			}
			m.infoRead(ctx, "Prime readback", d.PrimeUUID)
			m.infoRead(ctx, "Info", d.InfoUUID)
			return nil
		})
		if err != nil {
			return 0, err
		}
		if err := sleepCtx(ctx, d.MeasureSettle); err != nil {
			return 0, err
		}
		if err := m.subscribeReturns(ctx, gen); err != nil {
			return 0, err
		}

		responses := 0
		short := ble.ShortUUID(d.TriggerUUID)
		for _, frame := range protocol.MeasureFrames() {
			var mark time.Time
			err := m.onLoop(ctx, func() error {
				if err := m.liveErr(gen); err != nil {
					return err
				}
				mark = m.last.at
				if err := m.conn.Write(ctx, d.TriggerUUID, frame, true); err != nil {
					m.logf("Trigger error %s %s: %v", short, m.hex(frame), err)
					if ble.IsNotFound(err) {
						m.scheduleRefresh()
					}
					return nil
				}
				m.logf("Trigger write %s: %s", short, m.hex(frame))
				return nil
			})
			if err != nil {
				m.logf("Measure aborted: %v", err)
				return responses, err
			}
			got, err := m.awaitNotification(ctx, gen, mark)
			if err != nil {
				return responses, err
			}
			if got {
				responses++
			}
		}

		if d.AltUUID != "" {
			if err := m.measureAlt(ctx, gen); err != nil {
				return responses, err
			}
		}
		m.logf("Measure attempt sequence done.")
		return responses, nil
	})
}

// infoRead is a best-effort read for the measure preamble. Loop only.
func (m *Manager) infoRead(ctx context.Context, label, uuid string) {
	if uuid == "" || !m.has(uuid) {
		return
	}
	short := ble.ShortUUID(uuid)
	data, err := m.conn.Read(ctx, uuid)
	if err != nil {
		m.logf("%s %s failed: %v", label, short, err)
		return
	}
	m.logf("%s %s: %s", label, short, m.hex(data))
}

// awaitNotification polls until a notification newer than mark arrives or
// the measure wait elapses. A timeout is informational.
func (m *Manager) awaitNotification(ctx context.Context, gen uint64, mark time.Time) (bool, error) {
	d := m.opts.Discovery
	deadline := time.Now().Add(d.MeasureWait)
	for {
		var got bool
		err := m.onLoop(ctx, func() error {
			if err := m.liveErr(gen); err != nil {
				return err
			}
			got = m.last.at.After(mark)
			return nil
		})
		if err != nil || got {
			return got, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := sleepCtx(ctx, min(remaining, d.MeasurePoll)); err != nil {
			return false, err
		}
	}
}

func (m *Manager) measureAlt(ctx context.Context, gen uint64) error {
	d := m.opts.Discovery
	short := ble.ShortUUID(d.AltUUID)
	for _, cmd := range protocol.MeasureAltCommands() {
		err := m.onLoop(ctx, func() error {
			if err := m.liveErr(gen); err != nil {
				return err
			}
			if !m.has(d.AltUUID) {
				return nil
			}
			if err := m.conn.Write(ctx, d.AltUUID, cmd, false); err != nil {
				m.logf("Alt write error %s %s: %v", short, m.hex(cmd), err)
				return nil
			}
			m.logf("Alt write %s: %s", short, m.hex(cmd))
			data, err := m.conn.Read(ctx, d.AltUUID)
			if err != nil {
				m.logf("Alt readback error %s: %v", short, err)
				return nil
			}
			m.logf("Alt readback %s: %s", short, m.hex(data))
			return nil
		})
		if err != nil {
			m.logf("Measure aborted: %v", err)
			return err
		}
		if err := sleepCtx(ctx, d.MeasureSettle); err != nil {
			return err
		}
	}
	return nil
}

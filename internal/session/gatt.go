package session

import (
	"context"
	"fmt"

	"github.com/chaz8081/gattprobe/internal/ble"
	"github.com/chaz8081/gattprobe/internal/ble/protocol"
)

// WriteMode is the caller's acknowledgement preference for a write.
type WriteMode int

const (
	// WriteAuto writes with response unless the characteristic only
	// supports write-without-response.
	WriteAuto WriteMode = iota
	WriteWithResponse
	WriteWithoutResponse
)

func (w WriteMode) String() string {
	switch w {
	case WriteWithResponse:
		return "with-response"
	case WriteWithoutResponse:
		return "without-response"
	default:
		return "auto"
	}
}

// withResponse decides the acknowledgement mode. A characteristic that
// only offers write-without-response always gets it, and one without that
// property always gets an acknowledged write.
func withResponse(props ble.Properties, mode WriteMode) bool {
	switch {
	case props.WriteWithoutResponseOnly():
		return false
	case !props.Has(ble.PropWriteWithoutResponse):
		return true
	default:
		return mode != WriteWithoutResponse
	}
}

// gattFailed logs a transport failure and starts a cache refresh when the
// transport no longer knows the attribute. Loop only.
func (m *Manager) gattFailed(op, uuid string, err error) error {
	m.logf("%s error %s: %v", op, uuid, err)
	if ble.IsNotFound(err) {
		m.scheduleRefresh()
	}
	return err
}

// Read reads one characteristic. Characteristics without the read
// property are rejected without a transport call.
func (m *Manager) Read(sel Selector) *Handle[[]byte] {
	return Submit(m.runner, "read", func(ctx context.Context) ([]byte, error) {
		var out []byte
		err := m.onLoop(ctx, func() error {
			if err := m.readyErr(); err != nil {
				m.logGate(err)
				return err
			}
			c, _ := m.resolve(sel)
			if !c.Properties.CanRead() {
				m.logf("READ not allowed on %s. Props=%s", c.UUID, c.Properties)
				return fmt.Errorf("%w: read on %s", ErrUnsupported, c.UUID)
			}
			data, err := m.conn.Read(ctx, c.UUID)
			if err != nil {
				return m.gattFailed("READ", c.UUID, err)
			}
			m.logf("READ %s: %s | %s", c.UUID, m.hex(data), protocol.Quote(data))
			out = data
			return nil
		})
		return out, err
	})
}

// Write writes payload to one characteristic using the acknowledgement
// mode chosen by withResponse.
func (m *Manager) Write(sel Selector, payload []byte, mode WriteMode) *Handle[struct{}] {
	payload = append([]byte(nil), payload...)
	return Submit(m.runner, "write", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.onLoop(ctx, func() error {
			if err := m.readyErr(); err != nil {
				m.logGate(err)
				return err
			}
			c, _ := m.resolve(sel)
			if !c.Properties.CanWrite() {
				m.logf("WRITE not allowed on %s. Props=%s", c.UUID, c.Properties)
				return fmt.Errorf("%w: write on %s", ErrUnsupported, c.UUID)
			}
			resp := withResponse(c.Properties, mode)
			if err := m.conn.Write(ctx, c.UUID, payload, resp); err != nil {
				return m.gattFailed("WRITE", c.UUID, err)
			}
			m.logf("WROTE %s: %s (resp=%t)", c.UUID, m.hex(payload), resp)
			return nil
		})
	})
}

// SetNotify starts or stops a subscription. The advertised properties are
// not checked since some peripherals omit the indicate bit, and an
// uncached UUID is passed through; an index outside the cache is rejected.
func (m *Manager) SetNotify(sel Selector, enable bool) *Handle[struct{}] {
	return Submit(m.runner, "notify", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.onLoop(ctx, func() error {
			if err := m.readyErr(); err != nil {
				m.logGate(err)
				return err
			}
			c, ok := m.resolve(sel)
			if !ok && sel.IsIndex() {
				m.logf("NOTIFY not allowed on %s: no such index.", sel)
				return fmt.Errorf("%w: notify on %s", ErrUnsupported, sel)
			}
			if enable {
				if err := m.conn.Subscribe(ctx, c.UUID, m.notifyHandler(m.gen)); err != nil {
					return m.gattFailed("NOTIFY", c.UUID, err)
				}
				m.subs[c.UUID] = true
				m.logf("NOTIFY ON %s", c.UUID)
			} else {
				if err := m.conn.Unsubscribe(ctx, c.UUID); err != nil {
					return m.gattFailed("NOTIFY", c.UUID, err)
				}
				delete(m.subs, c.UUID)
				m.logf("NOTIFY OFF %s", c.UUID)
			}
			m.publish()
			return nil
		})
	})
}

// ReadAllReadable reads every readable characteristic from a snapshot of
// the cache, pausing for the read throttle after each read. It stops as soon as the
// link drops or the generation changes and returns the number of
// successful reads.
func (m *Manager) ReadAllReadable() *Handle[int] {
	return Submit(m.runner, "read-all", func(ctx context.Context) (int, error) {
		var gen uint64
		err := m.onLoop(ctx, func() error {
			if err := m.readyErr(); err != nil {
				return err
			}
			gen = m.gen
			return nil
		})
		if err != nil {
			m.logGate(err)
			return 0, err
		}

		chars := m.snap.Load().Characteristics
		n := 0
		for _, c := range chars {
			if !c.Properties.CanRead() {
				continue
			}
			err := m.onLoop(ctx, func() error {
				if err := m.liveErr(gen); err != nil {
					return err
				}
				data, err := m.conn.Read(ctx, c.UUID)
				if err != nil {
					m.gattFailed("READ", c.UUID, err)
					return nil
				}
				n++
				m.logf("READ %s: %s", c.UUID, m.hex(data))
				return nil
			})
			if err != nil {
				m.logf("Read-all aborted: link down.")
				return n, err
			}
			if err := sleepCtx(ctx, m.opts.ReadThrottle); err != nil {
				return n, err
			}
		}
		m.logf("Read-all complete: %d characteristic(s) read.", n)
		return n, nil
	})
}

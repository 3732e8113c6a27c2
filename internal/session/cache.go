package session

import (
	"context"
	"log/slog"

	"github.com/chaz8081/gattprobe/internal/ble"
)

// discover rebuilds the service cache from the transport. The cache is
// cleared before the query so a failed discovery never leaves stale
// entries behind. Loop only.
func (m *Manager) discover(ctx context.Context) error {
	m.chars = nil
	m.byUUID = make(map[string]int)
	m.publish()

	services, err := m.conn.Services(ctx)
	if err != nil {
		return err
	}

	chars := make([]CharInfo, 0)
	byUUID := make(map[string]int)
	for _, svc := range services {
		svcUUID := ble.NormalizeUUID(svc.UUID)
		m.logf("Service: %s", svcUUID)
		for _, ch := range svc.Characteristics {
			uuid := ble.NormalizeUUID(ch.UUID)
			m.logf("  Characteristic: %s (Properties: %s)", uuid, ch.Properties)
			if ch.Properties.Empty() {
				slog.Debug("[SESSION] skipping characteristic without properties", "uuid", uuid)
				continue
			}
			if _, dup := byUUID[uuid]; !dup {
				byUUID[uuid] = len(chars)
			}
			chars = append(chars, CharInfo{
				Index:       len(chars),
				UUID:        uuid,
				Service:     svcUUID,
				Properties:  ch.Properties,
				Descriptors: ch.Descriptors,
			})
		}
	}

	m.chars = chars
	m.byUUID = byUUID
	for uuid := range m.subs {
		if _, ok := byUUID[uuid]; !ok {
			delete(m.subs, uuid)
		}
	}
	m.publish()
	return nil
}

// resolve maps a selector onto the cache. Unknown selectors resolve to a
// property-less entry so callers reject them like any unsupported
// characteristic. Loop only.
func (m *Manager) resolve(sel Selector) (CharInfo, bool) {
	if sel.byIndex {
		if sel.index >= 0 && sel.index < len(m.chars) {
			return m.chars[sel.index], true
		}
		return CharInfo{Index: -1, UUID: sel.String()}, false
	}
	if i, ok := m.byUUID[sel.uuid]; ok {
		return m.chars[i], true
	}
	return CharInfo{Index: -1, UUID: sel.uuid}, false
}

// has reports whether uuid is in the cache. Loop only.
func (m *Manager) has(uuid string) bool {
	_, ok := m.byUUID[uuid]
	return ok
}

// RefreshServiceCache re-runs discovery on the live link and replaces the
// cache wholesale. It returns the new characteristic count.
func (m *Manager) RefreshServiceCache() *Handle[int] {
	return Submit(m.runner, "refresh", func(ctx context.Context) (int, error) {
		var gen uint64
		_ = m.onLoop(ctx, func() error {
			gen = m.gen
			return nil
		})
		return m.refresh(ctx, gen)
	})
}

func (m *Manager) refresh(ctx context.Context, gen uint64) (int, error) {
	var n int
	err := m.onLoop(ctx, func() error {
		if err := m.liveErr(gen); err != nil {
			return err
		}
		if err := m.discover(ctx); err != nil {
			return err
		}
		n = len(m.chars)
		return nil
	})
	if err != nil {
		m.logf("Service refresh failed: %v", err)
		return 0, err
	}
	m.logf("Services refreshed.")
	return n, nil
}

// scheduleRefresh starts an asynchronous refresh after a transport call
// reported an unknown attribute. Loop only.
func (m *Manager) scheduleRefresh() {
	if m.refreshing {
		return
	}
	m.refreshing = true
	gen := m.gen
	m.logf("Service cache looks stale; refreshing services...")
	Submit(m.runner, "refresh", func(ctx context.Context) (int, error) {
		defer m.runner.Post(func() { m.refreshing = false })
		return m.refresh(ctx, gen)
	})
}

// DumpDescriptors reads every cached descriptor and logs the raw values.
// It returns how many reads succeeded.
func (m *Manager) DumpDescriptors() *Handle[int] {
	return Submit(m.runner, "descriptors", func(ctx context.Context) (int, error) {
		var gen uint64
		err := m.onLoop(ctx, func() error {
			gen = m.gen
			return m.liveErr(gen)
		})
		if err != nil {
			m.logGate(err)
			return 0, err
		}
		return m.dumpDescriptors(ctx, gen)
	})
}

// dumpDescriptors is best-effort: read failures are logged and skipped.
func (m *Manager) dumpDescriptors(ctx context.Context, gen uint64) (int, error) {
	n := 0
	for _, c := range m.snap.Load().Characteristics {
		for _, d := range c.Descriptors {
			err := m.onLoop(ctx, func() error {
				if err := m.liveErr(gen); err != nil {
					return err
				}
				val, err := m.conn.ReadDescriptor(ctx, c.UUID, d)
				if err != nil {
					m.logf("Desc %s on %s handle=0x%04x read_err=%v", d.UUID, c.UUID, d.Handle, err)
					return nil
				}
				n++
				m.logf("Desc %s on %s handle=0x%04x val=%s", d.UUID, c.UUID, d.Handle, m.hex(val))
				return nil
			})
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

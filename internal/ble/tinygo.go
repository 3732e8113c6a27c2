//go:build darwin || windows

package ble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"
)

// tinyGoSupported reports whether the tinygo backend builds here.
const tinyGoSupported = true

// maxReadSize bounds a single characteristic read (ATT_MTU max - 1).
const maxReadSize = 512

// TinyGoAdapter wraps tinygo-org/bluetooth. It runs on macOS
// (CoreBluetooth) and Windows (WinRT); on Linux use the hci backend.
// On macOS, device addresses are CoreBluetooth UUIDs, not MAC addresses.
//
// The stack does not surface characteristic property flags, so every
// discovered characteristic is reported with the configured assumed
// property set. Descriptors are not enumerated.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	assumed Properties

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by device address
}

// NewTinyGoAdapter creates a new BLE adapter using the default platform
// stack.
func NewTinyGoAdapter(assumed Properties) *TinyGoAdapter {
	if assumed.Empty() {
		assumed = NewProperties(PropRead, PropWrite, PropNotify)
	}
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		assumed:     assumed,
		connections: make(map[string]*tinyGoConnection),
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral drops; route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		if ok {
			delete(a.connections, id)
		}
		a.mu.Unlock()
		if ok {
			conn.markDown()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	var filter bluetooth.UUID
	if serviceUUID != "" {
		uuid, err := bluetooth.ParseUUID(NormalizeUUID(serviceUUID))
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter = uuid
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if serviceUUID != "" && !result.HasServiceUUID(filter) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// Connect blocks internally with its own timeout; wrap it so ctx
	// cancellation returns early.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinyGoConnection{
			device:  &result.device,
			assumed: a.assumed,
			chars:   make(map[string]*bluetooth.DeviceCharacteristic),
		}
		conn.up.Store(true)

		a.mu.Lock()
		a.connections[result.device.Address.String()] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

type tinyGoConnection struct {
	device  *bluetooth.Device
	assumed Properties
	chars   map[string]*bluetooth.DeviceCharacteristic
	up      atomic.Bool

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) markDown() {
	if !c.up.Swap(false) {
		return
	}
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *tinyGoConnection) Services(ctx context.Context) ([]Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}

	chars := make(map[string]*bluetooth.DeviceCharacteristic)
	out := make([]Service, 0, len(svcs))
	for i := range svcs {
		svc := Service{UUID: NormalizeUUID(svcs[i].UUID().String())}
		found, err := svcs[i].DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID, err)
		}
		for j := range found {
			ch := found[j]
			uuid := NormalizeUUID(ch.UUID().String())
			chars[uuid] = &ch
			svc.Characteristics = append(svc.Characteristics, Characteristic{
				UUID:       uuid,
				Properties: c.assumed,
			})
		}
		out = append(out, svc)
	}
	c.chars = chars
	return out, nil
}

func (c *tinyGoConnection) lookup(uuid string) (*bluetooth.DeviceCharacteristic, error) {
	ch, ok := c.chars[NormalizeUUID(uuid)]
	if !ok {
		return nil, fmt.Errorf("characteristic %s: %w", uuid, ErrNotFound)
	}
	return ch, nil
}

func (c *tinyGoConnection) Read(ctx context.Context, uuid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, err := c.lookup(uuid)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, maxReadSize)
	n, err := ch.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyGoConnection) Write(ctx context.Context, uuid string, data []byte, withResponse bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.lookup(uuid)
	if err != nil {
		return err
	}
	if withResponse {
		_, err = ch.Write(data)
	} else {
		_, err = ch.WriteWithoutResponse(data)
	}
	return err
}

func (c *tinyGoConnection) Subscribe(ctx context.Context, uuid string, handler NotificationHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.lookup(uuid)
	if err != nil {
		return err
	}
	id := NormalizeUUID(uuid)
	return ch.EnableNotifications(func(buf []byte) {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		handler(id, cp)
	})
}

func (c *tinyGoConnection) Unsubscribe(ctx context.Context, uuid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.lookup(uuid)
	if err != nil {
		return err
	}
	return ch.EnableNotifications(nil)
}

func (c *tinyGoConnection) ReadDescriptor(_ context.Context, charUUID string, d Descriptor) ([]byte, error) {
	return nil, fmt.Errorf("ble: descriptor 0x%04x on %s: %w", d.Handle, charUUID, ErrUnsupportedBackend)
}

func (c *tinyGoConnection) IsConnected() bool {
	return c.up.Load()
}

func (c *tinyGoConnection) Disconnect() error {
	err := c.device.Disconnect()
	c.up.Store(false)
	return err
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

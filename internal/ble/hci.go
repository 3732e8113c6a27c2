package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	goble "github.com/go-ble/ble"
)

// HCIAdapter drives a local controller through github.com/go-ble/ble.
// It is the backend with full GATT metadata: characteristic properties,
// descriptors and indication support are all reported by the stack.
type HCIAdapter struct {
	deviceID int

	mu  sync.Mutex
	dev goble.Device
}

// NewHCIAdapter creates an adapter bound to hci<deviceID> (Linux) or the
// system controller (macOS).
func NewHCIAdapter(deviceID int) *HCIAdapter {
	return &HCIAdapter{deviceID: deviceID}
}

// Compile-time check that HCIAdapter implements Adapter.
var _ Adapter = (*HCIAdapter)(nil)

func (a *HCIAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return nil
	}
	d, err := newHCIDevice(a.deviceID)
	if err != nil {
		return fmt.Errorf("ble: open hci%d: %w", a.deviceID, err)
	}
	goble.SetDefaultDevice(d)
	a.dev = d
	return nil
}

func (a *HCIAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	want := NormalizeUUID(serviceUUID)

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	handler := func(adv goble.Advertisement) {
		if serviceUUID != "" && !advertises(adv, want) {
			return
		}
		addr := adv.Addr().String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    adv.LocalName(),
			Address: addr,
			RSSI:    adv.RSSI(),
		})
	}

	err := goble.Scan(ctx, false, handler, nil)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

func advertises(adv goble.Advertisement, uuid string) bool {
	for _, u := range adv.Services() {
		if NormalizeUUID(u.String()) == uuid {
			return true
		}
	}
	return false
}

func (a *HCIAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	client, err := goble.Dial(ctx, goble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}
	return &hciConnection{
		client: client,
		chars:  make(map[string]*goble.Characteristic),
	}, nil
}

type hciConnection struct {
	client goble.Client

	// chars maps normalised characteristic UUIDs to the handles returned
	// by the last profile discovery.
	chars map[string]*goble.Characteristic
}

func (c *hciConnection) Services(ctx context.Context) ([]Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("ble: discover profile: %w", err)
	}

	chars := make(map[string]*goble.Characteristic)
	out := make([]Service, 0, len(profile.Services))
	for _, s := range profile.Services {
		svc := Service{UUID: NormalizeUUID(s.UUID.String())}
		for _, ch := range s.Characteristics {
			uuid := NormalizeUUID(ch.UUID.String())
			chars[uuid] = ch
			info := Characteristic{
				UUID:       uuid,
				Properties: propertiesFromHCI(ch.Property),
			}
			for _, d := range ch.Descriptors {
				info.Descriptors = append(info.Descriptors, Descriptor{
					UUID:   NormalizeUUID(d.UUID.String()),
					Handle: d.Handle,
				})
			}
			svc.Characteristics = append(svc.Characteristics, info)
		}
		out = append(out, svc)
	}
	c.chars = chars
	return out, nil
}

func propertiesFromHCI(p goble.Property) Properties {
	var out Properties
	if p&goble.CharRead != 0 {
		out |= Properties(PropRead)
	}
	if p&goble.CharWrite != 0 {
		out |= Properties(PropWrite)
	}
	if p&goble.CharWriteNR != 0 {
		out |= Properties(PropWriteWithoutResponse)
	}
	if p&goble.CharNotify != 0 {
		out |= Properties(PropNotify)
	}
	if p&goble.CharIndicate != 0 {
		out |= Properties(PropIndicate)
	}
	return out
}

func (c *hciConnection) lookup(uuid string) (*goble.Characteristic, error) {
	ch, ok := c.chars[NormalizeUUID(uuid)]
	if !ok {
		return nil, fmt.Errorf("characteristic %s: %w", uuid, ErrNotFound)
	}
	return ch, nil
}

func (c *hciConnection) Read(ctx context.Context, uuid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, err := c.lookup(uuid)
	if err != nil {
		return nil, err
	}
	return c.client.ReadCharacteristic(ch)
}

func (c *hciConnection) Write(ctx context.Context, uuid string, data []byte, withResponse bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.lookup(uuid)
	if err != nil {
		return err
	}
	return c.client.WriteCharacteristic(ch, data, !withResponse)
}

// useIndication picks indications only when the characteristic does not
// offer notifications. Characteristics that advertise neither fall back to
// notifications, which many peripherals still honour.
func useIndication(ch *goble.Characteristic) bool {
	return ch.Property&goble.CharNotify == 0 && ch.Property&goble.CharIndicate != 0
}

func (c *hciConnection) Subscribe(ctx context.Context, uuid string, handler NotificationHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.lookup(uuid)
	if err != nil {
		return err
	}
	id := NormalizeUUID(uuid)
	return c.client.Subscribe(ch, useIndication(ch), func(data []byte) {
		cp := make([]byte, len(data))
		copy(cp, data)
		handler(id, cp)
	})
}

func (c *hciConnection) Unsubscribe(ctx context.Context, uuid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.lookup(uuid)
	if err != nil {
		return err
	}
	return c.client.Unsubscribe(ch, useIndication(ch))
}

func (c *hciConnection) ReadDescriptor(ctx context.Context, charUUID string, d Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, err := c.lookup(charUUID)
	if err != nil {
		return nil, err
	}
	for _, desc := range ch.Descriptors {
		if desc.Handle == d.Handle {
			return c.client.ReadDescriptor(desc)
		}
	}
	return nil, fmt.Errorf("descriptor 0x%04x on %s: %w", d.Handle, charUUID, ErrNotFound)
}

func (c *hciConnection) IsConnected() bool {
	select {
	case <-c.client.Disconnected():
		return false
	default:
		return true
	}
}

func (c *hciConnection) Disconnect() error {
	return c.client.CancelConnection()
}

func (c *hciConnection) OnDisconnect(cb func()) {
	done := c.client.Disconnected()
	go func() {
		<-done
		slog.Debug("[BLE] hci link closed", "addr", c.client.Addr().String())
		cb()
	}()
}

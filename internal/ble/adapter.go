// Package ble defines the transport capability the session engine drives:
// scanning, connecting, GATT discovery, reads, writes and notifications.
// The package never speaks ATT itself; it wraps a platform BLE stack
// (go-ble/ble over HCI, or tinygo.org/x/bluetooth) behind small interfaces
// so the session layer can be tested against an in-memory fake.
package ble

import (
	"context"
	"errors"
)

// Well-known GATT identifiers.
const (
	GenericAccessServiceUUID    = "00001800-0000-1000-8000-00805f9b34fb"
	GenericAttributeServiceUUID = "00001801-0000-1000-8000-00805f9b34fb"
	ServiceChangedCharUUID      = "00002a05-0000-1000-8000-00805f9b34fb"
	BatteryLevelCharUUID        = "00002a19-0000-1000-8000-00805f9b34fb"
	CCCDUUID                    = "00002902-0000-1000-8000-00805f9b34fb"
)

var (
	// ErrNotFound is returned when the peer does not know the requested
	// attribute. Usually means the local service cache is stale.
	ErrNotFound = errors.New("ble: attribute was not found")
	// ErrNotConnected is returned for operations on a dropped link.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrUnsupportedBackend is returned when a backend cannot run on this
	// platform or build.
	ErrUnsupportedBackend = errors.New("ble: backend not supported on this platform")
)

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// DisplayName returns the advertised name or "Unknown".
func (d Device) DisplayName() string {
	if d.Name == "" {
		return "Unknown"
	}
	return d.Name
}

// Descriptor is a GATT descriptor attached to a characteristic.
type Descriptor struct {
	UUID   string
	Handle uint16
}

// Characteristic is a characteristic as reported by the peer.
type Characteristic struct {
	UUID        string
	Properties  Properties
	Descriptors []Descriptor
}

// Service is one node of the service tree returned by Connection.Services.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// NotificationHandler receives notification or indication payloads.
// It may be invoked on any goroutine.
type NotificationHandler func(uuid string, data []byte)

// Connection represents an active link to a peripheral. Implementations
// are not required to be safe for concurrent use; the session layer
// serialises every call.
type Connection interface {
	// Services runs full service discovery and returns the tree.
	Services(ctx context.Context) ([]Service, error)
	// Read reads a characteristic value.
	Read(ctx context.Context, uuid string) ([]byte, error)
	// Write writes a characteristic value, with or without response.
	Write(ctx context.Context, uuid string, data []byte, withResponse bool) error
	// Subscribe enables notifications or indications on a characteristic.
	Subscribe(ctx context.Context, uuid string, handler NotificationHandler) error
	// Unsubscribe disables notifications or indications.
	Unsubscribe(ctx context.Context, uuid string) error
	// ReadDescriptor reads a descriptor value.
	ReadDescriptor(ctx context.Context, charUUID string, d Descriptor) ([]byte, error)
	// IsConnected reports whether the link is still up.
	IsConnected() bool
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals until ctx is done. An empty
	// serviceUUID disables filtering.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// IsNotFound reports whether err means the peer did not recognise the
// attribute. Stacks that only report it textually are matched on the
// message.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return containsFold(err.Error(), "not found")
}

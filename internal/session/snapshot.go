package session

import (
	"fmt"
	"time"

	"github.com/chaz8081/gattprobe/internal/ble"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateServiceDiscovery
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateServiceDiscovery:
		return "service-discovery"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CharInfo is one entry of the service cache. Index is the stable
// position in discovery order used by index selectors.
type CharInfo struct {
	Index       int
	UUID        string
	Service     string
	Properties  ble.Properties
	Descriptors []ble.Descriptor
}

// Snapshot is an immutable copy of session state, safe to read from any
// goroutine.
type Snapshot struct {
	State           State
	Address         string
	Generation      uint64
	SessionID       string
	Characteristics []CharInfo
	Subscriptions   map[string]bool
	LastNotifyUUID  string
	LastNotifyAt    time.Time
	Devices         []ble.Device
	Active          []string // running task names
}

// Ready reports whether the session accepts GATT operations.
func (s Snapshot) Ready() bool { return s.State == StateReady }

// Subscribed reports whether uuid is in the notification registry.
func (s Snapshot) Subscribed(uuid string) bool {
	return s.Subscriptions[ble.NormalizeUUID(uuid)]
}

// UUIDs returns the cached characteristic UUIDs in index order.
func (s Snapshot) UUIDs() []string {
	out := make([]string, len(s.Characteristics))
	for i, c := range s.Characteristics {
		out[i] = c.UUID
	}
	return out
}

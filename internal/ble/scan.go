package ble

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Backend names accepted by NewAdapter.
const (
	BackendHCI    = "hci"
	BackendTinyGo = "tinygo"
)

// NewAdapter builds the adapter for the named backend.
func NewAdapter(backend string, deviceID int, assumed Properties) (Adapter, error) {
	switch backend {
	case BackendHCI, "":
		return NewHCIAdapter(deviceID), nil
	case BackendTinyGo:
		if !tinyGoSupported {
			return nil, fmt.Errorf("ble: backend %q: %w", backend, ErrUnsupportedBackend)
		}
		return NewTinyGoAdapter(assumed), nil
	default:
		return nil, fmt.Errorf("ble: unknown backend %q", backend)
	}
}

// ScanForDevices enables the adapter and scans for timeout. Results are
// ordered by descending signal strength so index selection stays stable
// for the closest devices.
func ScanForDevices(ctx context.Context, adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].RSSI > devices[j].RSSI
	})
	return devices, nil
}

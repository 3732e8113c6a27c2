//go:build !darwin && !windows

package ble

import (
	"context"
	"fmt"
)

const tinyGoSupported = false

// TinyGoAdapter is unavailable on this platform: the tinygo stack has no
// acknowledged write outside CoreBluetooth and WinRT. Use the hci backend.
type TinyGoAdapter struct{}

// NewTinyGoAdapter returns an adapter whose every call fails with
// ErrUnsupportedBackend.
func NewTinyGoAdapter(_ Properties) *TinyGoAdapter {
	return &TinyGoAdapter{}
}

var _ Adapter = (*TinyGoAdapter)(nil)

func (a *TinyGoAdapter) Enable() error {
	return fmt.Errorf("ble: tinygo backend: %w", ErrUnsupportedBackend)
}

func (a *TinyGoAdapter) Scan(_ context.Context, _ string) ([]Device, error) {
	return nil, fmt.Errorf("ble: tinygo backend: %w", ErrUnsupportedBackend)
}

func (a *TinyGoAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	return nil, fmt.Errorf("ble: tinygo backend: %w", ErrUnsupportedBackend)
}

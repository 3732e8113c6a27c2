//go:build !darwin && !windows

package ble

import (
	"context"
	"errors"
	"testing"
)

func TestTinyGoAdapterUnsupported(t *testing.T) {
	a := NewTinyGoAdapter(0)
	if err := a.Enable(); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Enable() error = %v, want ErrUnsupportedBackend", err)
	}
	if _, err := a.Scan(context.Background(), ""); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Scan() error = %v, want ErrUnsupportedBackend", err)
	}
	if _, err := a.Connect(context.Background(), "AA:BB:CC:DD:EE:FF"); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Connect() error = %v, want ErrUnsupportedBackend", err)
	}
}

package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestScanForDevicesSortsByRSSI(t *testing.T) {
	adapter := newMockAdapter([]Device{
		{Name: "far", Address: "AA:00:00:00:00:01", RSSI: -90},
		{Name: "near", Address: "AA:00:00:00:00:02", RSSI: -40},
		{Name: "", Address: "AA:00:00:00:00:03", RSSI: -60},
	})

	got, err := ScanForDevices(context.Background(), adapter, 5*time.Second)
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d devices, want 3", len(got))
	}
	if got[0].Name != "near" || got[2].Name != "far" {
		t.Errorf("order = %v, want near first and far last", got)
	}
	if got[1].DisplayName() != "Unknown" {
		t.Errorf("DisplayName() = %q, want %q", got[1].DisplayName(), "Unknown")
	}
}

func TestScanForDevicesAppliesTimeout(t *testing.T) {
	adapter := newMockAdapter(nil)
	if _, err := ScanForDevices(context.Background(), adapter, time.Second); err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if _, ok := adapter.scanCtx.Deadline(); !ok {
		t.Error("scan context should carry a deadline")
	}
}

func TestScanForDevicesEnableError(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.enableErr = errors.New("powered off")
	if _, err := ScanForDevices(context.Background(), adapter, time.Second); err == nil {
		t.Fatal("ScanForDevices() should fail when the adapter cannot be enabled")
	}
}

func TestNewAdapterBackends(t *testing.T) {
	if _, err := NewAdapter(BackendHCI, 0, 0); err != nil {
		t.Errorf("NewAdapter(hci) error = %v", err)
	}
	_, err := NewAdapter(BackendTinyGo, 0, 0)
	if tinyGoSupported && err != nil {
		t.Errorf("NewAdapter(tinygo) error = %v", err)
	}
	if !tinyGoSupported && !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("NewAdapter(tinygo) error = %v, want ErrUnsupportedBackend", err)
	}
	if _, err := NewAdapter("serial", 0, 0); err == nil {
		t.Error("NewAdapter(serial) should fail")
	}
}

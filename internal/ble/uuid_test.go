package ble

import (
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2a19", "00002a19-0000-1000-8000-00805f9b34fb"},
		{"0x2A19", "00002a19-0000-1000-8000-00805f9b34fb"},
		{"00002A19", "00002a19-0000-1000-8000-00805f9b34fb"},
		{"BF03260C-7205-4C25-AF43-93B1C299D159", "bf03260c-7205-4c25-af43-93b1c299d159"},
		{"bf03260c72054c25af4393b1c299d159", "bf03260c-7205-4c25-af43-93b1c299d159"},
		{"{bf03260c-7205-4c25-af43-93b1c299d159}", "bf03260c-7205-4c25-af43-93b1c299d159"},
		{"  Not-A-UUID ", "not-a-uuid"},
	}
	for _, tt := range tests {
		if got := NormalizeUUID(tt.in); got != tt.want {
			t.Errorf("NormalizeUUID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortUUID(t *testing.T) {
	if got := ShortUUID("BF03260C-7205-4C25-AF43-93B1C299D159"); got != "bf03260c" {
		t.Errorf("ShortUUID() = %q, want %q", got, "bf03260c")
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrNotFound, true},
		{fmt.Errorf("read: %w", ErrNotFound), true},
		{errors.New("Characteristic 1234 was not found!"), true},
		{errors.New("ATT error 0x0e"), false},
	}
	for _, tt := range tests {
		if got := IsNotFound(tt.err); got != tt.want {
			t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chaz8081/gattprobe/internal/ble"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in      string
		isIndex bool
		want    string
	}{
		{"0", true, "#0"},
		{" 12 ", true, "#12"},
		{"999", true, "#999"},
		{"1800", false, "00001800-0000-1000-8000-00805f9b34fb"},
		{"2A19", false, "00002a19-0000-1000-8000-00805f9b34fb"},
		{"BF03260C-7205-4C25-AF43-93B1C299D159", false, "bf03260c-7205-4c25-af43-93b1c299d159"},
		{"-1", false, "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseSelector(tt.in)
			if got.IsIndex() != tt.isIndex {
				t.Errorf("IsIndex() = %v, want %v", got.IsIndex(), tt.isIndex)
			}
			if got.String() != tt.want {
				t.Errorf("String() = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", fmt.Errorf("read: %w", ble.ErrNotFound), ErrStaleCache},
		{"link down", ble.ErrNotConnected, ErrNotConnected},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"cancelled", context.Canceled, context.Canceled},
		{"generic", errors.New("att: insufficient encryption"), ErrTransport},
		{"already classified", ErrUnsupported, ErrUnsupported},
		{"superseded", fmt.Errorf("connect: %w", ErrSuperseded), ErrSuperseded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected:     "disconnected",
		StateConnecting:       "connecting",
		StateServiceDiscovery: "service-discovery",
		StateReady:            "ready",
		State(9):              "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/chaz8081/gattprobe/internal/ble"
	"github.com/chaz8081/gattprobe/internal/session"
)

type fakeExec struct {
	got chan string
}

func (f *fakeExec) Execute(_ context.Context, line string) (string, error) {
	f.got <- line
	return "Reading #3...", nil
}

type fakeState struct{}

func (fakeState) Snapshot() session.Snapshot {
	return session.Snapshot{
		State:      session.StateReady,
		Address:    "AA:BB:CC:DD:EE:FF",
		Generation: 1,
		Characteristics: []session.CharInfo{
			{Index: 0, UUID: "u0", Service: "s", Properties: ble.NewProperties(ble.PropNotify)},
		},
		Subscriptions: map[string]bool{"u0": true},
	}
}

func startHub(t *testing.T, opts ...func(*Hub)) (*Hub, chan string, *fakeExec, *websocket.Conn) {
	t.Helper()
	lines := make(chan string, 4)
	exec := &fakeExec{got: make(chan string, 1)}
	hub := NewHub(exec, fakeState{}, lines)
	hub.StatusInterval = 10 * time.Millisecond
	for _, opt := range opts {
		opt(hub)
	}

	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, lines, exec, conn
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestHubBroadcastsStatus(t *testing.T) {
	_, _, _, conn := startHub(t)

	msg := readUntil(t, conn, "status")

	require.NotNil(t, msg.Status)
	assert.Equal(t, "ready", msg.Status.State)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", msg.Status.Address)
	require.Len(t, msg.Status.Chars, 1)
	assert.Equal(t, []string{"notify"}, msg.Status.Chars[0].Properties)
	assert.True(t, msg.Status.Chars[0].Notifying)
}

func TestHubBroadcastsLogLines(t *testing.T) {
	_, lines, _, conn := startHub(t)
	readUntil(t, conn, "status") // registered

	lines <- "12:00:00.000 READY"

	msg := readUntil(t, conn, "log")
	assert.Equal(t, "12:00:00.000 READY", msg.Line)
}

func TestHubRunsCommands(t *testing.T) {
	_, _, exec, conn := startHub(t)

	require.NoError(t, conn.WriteJSON(Message{Type: "command", Line: "read 3"}))

	assert.Equal(t, "read 3", <-exec.got)
	msg := readUntil(t, conn, "result")
	assert.Equal(t, "read 3", msg.Line)
	assert.Equal(t, "Reading #3...", msg.Output)
	assert.Empty(t, msg.Error)
}

func TestHubRejectsUnknownMessages(t *testing.T) {
	_, _, _, conn := startHub(t)

	require.NoError(t, conn.WriteJSON(Message{Type: "shutdown"}))

	msg := readUntil(t, conn, "error")
	assert.Contains(t, msg.Error, "shutdown")
}

func TestHubDropsClosedClients(t *testing.T) {
	hub, _, _, conn := startHub(t)
	readUntil(t, conn, "status")
	require.Equal(t, 1, hub.Clients())

	conn.Close()

	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRateLimitsCommands(t *testing.T) {
	_, _, exec, conn := startHub(t, func(h *Hub) {
		h.CommandRate = rate.Every(time.Hour)
		h.CommandBurst = 1
	})

	require.NoError(t, conn.WriteJSON(Message{Type: "command", Line: "read 1"}))
	assert.Equal(t, "read 1", <-exec.got)
	readUntil(t, conn, "result")

	require.NoError(t, conn.WriteJSON(Message{Type: "command", Line: "read 2"}))
	msg := readUntil(t, conn, "result")
	assert.Equal(t, "read 2", msg.Line)
	assert.Equal(t, "rate limited", msg.Error)
	assert.Empty(t, exec.got)
}

func TestHubOriginCheck(t *testing.T) {
	hub := NewHub(&fakeExec{got: make(chan string, 1)}, fakeState{}, nil)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	tests := []struct {
		origin string
		ok     bool
	}{
		{"", true},
		{srv.URL, true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"http://[::1]:8080", true},
		{"https://evil.example", false},
		{"http://192.168.1.20:8080", false},
		{"null", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if tt.ok {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

// Package web serves the session over a websocket: log lines and status
// are pushed to every client and clients send text commands.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/chaz8081/gattprobe/internal/session"
)

const (
	// DefaultStatusInterval is how often status is broadcast.
	DefaultStatusInterval = 500 * time.Millisecond
	// DefaultCommandRate and DefaultCommandBurst bound commands per client.
	DefaultCommandRate  = rate.Limit(5)
	DefaultCommandBurst = 10
)

// Executor runs one command line.
type Executor interface {
	Execute(ctx context.Context, line string) (string, error)
}

// Snapshotter exposes the session state.
type Snapshotter interface {
	Snapshot() session.Snapshot
}

// Message is the envelope for every frame in both directions.
type Message struct {
	Type   string  `json:"type"`
	Line   string  `json:"line,omitempty"`
	Output string  `json:"output,omitempty"`
	Error  string  `json:"error,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Status is the JSON view of a session snapshot.
type Status struct {
	State          string     `json:"state"`
	Address        string     `json:"address,omitempty"`
	Generation     uint64     `json:"generation"`
	SessionID      string     `json:"session_id,omitempty"`
	Chars          []CharView `json:"characteristics"`
	LastNotifyUUID string     `json:"last_notify_uuid,omitempty"`
	Running        []string   `json:"running,omitempty"`
}

// CharView is one characteristic row.
type CharView struct {
	Index      int      `json:"index"`
	UUID       string   `json:"uuid"`
	Service    string   `json:"service"`
	Properties []string `json:"properties"`
	Notifying  bool     `json:"notifying"`
}

func statusOf(s session.Snapshot) *Status {
	st := &Status{
		State:          s.State.String(),
		Address:        s.Address,
		Generation:     s.Generation,
		SessionID:      s.SessionID,
		Chars:          make([]CharView, 0, len(s.Characteristics)),
		LastNotifyUUID: s.LastNotifyUUID,
		Running:        s.Active,
	}
	for _, c := range s.Characteristics {
		st.Chars = append(st.Chars, CharView{
			Index:      c.Index,
			UUID:       c.UUID,
			Service:    c.Service,
			Properties: c.Properties.Names(),
			Notifying:  s.Subscriptions[c.UUID],
		})
	}
	return st
}

// Hub tracks websocket clients and fans out log and status frames.
type Hub struct {
	exec  Executor
	state Snapshotter
	lines <-chan string

	// StatusInterval overrides DefaultStatusInterval when set before Run.
	StatusInterval time.Duration
	// CommandRate and CommandBurst limit each client's commands. Set them
	// before clients connect.
	CommandRate  rate.Limit
	CommandBurst int

	upgrader websocket.Upgrader

	// mu guards clients and serialises writes; a gorilla conn allows one
	// concurrent writer.
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates a hub that streams lines and status from state and runs
// client commands through exec.
func NewHub(exec Executor, state Snapshotter, lines <-chan string) *Hub {
	return &Hub{
		exec:           exec,
		state:          state,
		lines:          lines,
		StatusInterval: DefaultStatusInterval,
		CommandRate:    DefaultCommandRate,
		CommandBurst:   DefaultCommandBurst,
		upgrader:       websocket.Upgrader{CheckOrigin: allowedOrigin},
		clients:        make(map[*websocket.Conn]bool),
	}
}

// allowedOrigin accepts requests without an Origin header, same-origin
// requests and pages served from a loopback host.
func allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler returns the HTTP handler exposing /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	return mux
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run broadcasts log lines as they arrive and status on every tick until
// ctx is done. Connected clients are closed on return.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.StatusInterval)
	defer ticker.Stop()
	lines := h.lines
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			h.broadcast(Message{Type: "log", Line: line})
		case <-ticker.C:
			h.broadcast(Message{Type: "status", Status: statusOf(h.state.Snapshot())})
		}
	}
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("[WEB] marshal frame", "type", msg.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("[WEB] dropping client", "remote", c.RemoteAddr().String(), "error", err)
			c.Close()
			delete(h.clients, c)
		}
	}
}

func (h *Hub) send(c *websocket.Conn, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := c.WriteJSON(msg); err != nil {
		slog.Debug("[WEB] write failed", "remote", c.RemoteAddr().String(), "error", err)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[WEB] upgrade failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	slog.Info("[WEB] client connected", "remote", conn.RemoteAddr().String())

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		slog.Info("[WEB] client disconnected", "remote", conn.RemoteAddr().String())
	}()

	limiter := rate.NewLimiter(h.CommandRate, h.CommandBurst)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "command":
			if !limiter.Allow() {
				slog.Warn("[WEB] command rate limited", "remote", conn.RemoteAddr().String(), "line", msg.Line)
				h.send(conn, Message{Type: "result", Line: msg.Line, Error: "rate limited"})
				continue
			}
			out, err := h.exec.Execute(r.Context(), msg.Line)
			reply := Message{Type: "result", Line: msg.Line, Output: out}
			if err != nil {
				reply.Error = err.Error()
			}
			h.send(conn, reply)
		case "status":
			h.send(conn, Message{Type: "status", Status: statusOf(h.state.Snapshot())})
		default:
			h.send(conn, Message{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}

// Serve runs the hub and an HTTP server on addr until ctx is done, then
// shuts the server down with a 5s grace period.
func Serve(ctx context.Context, addr string, h *Hub) error {
	server := &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go h.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[WEB] listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("[WEB] shutdown", "error", err)
		return err
	}
	slog.Info("[WEB] stopped")
	return nil
}

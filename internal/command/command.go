// Package command parses the operator's text commands and dispatches them
// to a session. The TUI, the web hub and batch mode all share it.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chaz8081/gattprobe/internal/ble"
	"github.com/chaz8081/gattprobe/internal/ble/protocol"
	"github.com/chaz8081/gattprobe/internal/session"
)

var (
	// ErrUnknown is returned for a command name that is not recognised.
	ErrUnknown = errors.New("unknown command")
	// ErrUsage is returned when a command has missing or bad arguments.
	ErrUsage = errors.New("usage")
	// ErrQuit is returned by quit and exit.
	ErrQuit = errors.New("quit")
)

// Session is the part of *session.Manager the dispatcher drives.
type Session interface {
	Scan() *session.Handle[[]ble.Device]
	Connect(address string) *session.Handle[struct{}]
	Disconnect() *session.Handle[struct{}]
	Read(sel session.Selector) *session.Handle[[]byte]
	Write(sel session.Selector, payload []byte, mode session.WriteMode) *session.Handle[struct{}]
	SetNotify(sel session.Selector, enable bool) *session.Handle[struct{}]
	ReadAllReadable() *session.Handle[int]
	Probe() *session.Handle[int]
	Measure() *session.Handle[int]
	BruteForce() *session.Handle[session.BruteResult]
	BruteForceAlt() *session.Handle[session.BruteResult]
	DumpDescriptors() *session.Handle[int]
	RefreshServiceCache() *session.Handle[int]
	Devices() []ble.Device
	Snapshot() session.Snapshot
}

var _ Session = (*session.Manager)(nil)

// Dispatcher turns command lines into session operations.
type Dispatcher struct {
	sess Session

	// Sync makes Execute wait for the submitted operation to finish and
	// return its error. Batch mode sets it so commands run in order.
	Sync bool
	// Ack, when set in Sync mode, receives the acknowledgement before the
	// operation starts; Execute then returns an empty acknowledgement.
	Ack func(string)
}

// New returns a dispatcher for sess.
func New(sess Session) *Dispatcher {
	return &Dispatcher{sess: sess}
}

// Help is the text printed by the help command.
const Help = `Commands:
  scan                         scan for nearby devices
  devices                      list the last scan results
  connect <index|address>      connect to a device
  disconnect                   close the session
  chars                        list cached characteristics
  read <sel>                   read a characteristic
  write <sel> <payload> [resp|noresp]
                               write hex ("01 02", "0x01,0x02") or text
  notify <sel> [on|off]        start or stop notifications
  readall                      read every readable characteristic
  descriptors                  dump descriptor values
  refresh                      re-discover services
  probe                        sweep vendor write characteristics
  measure                      run the measurement script
  brute                        brute-force the trigger characteristic
  brutealt                     brute-force the alternate characteristic
  status                       show session state
  quit                         exit
<sel> is an index from "chars" or a characteristic UUID.`

// Execute runs one command line and returns a short acknowledgement.
// Operation results are reported through the session's log sink.
func (d *Dispatcher) Execute(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "help", "?":
		return Help, nil
	case "quit", "exit":
		return "", ErrQuit
	case "scan":
		return start(ctx, d, "Scanning...", d.sess.Scan)
	case "devices":
		return d.devices(), nil
	case "connect":
		return d.connect(ctx, args)
	case "disconnect":
		return start(ctx, d, "Disconnecting...", d.sess.Disconnect)
	case "chars":
		return d.chars(), nil
	case "status":
		return d.status(), nil
	case "read":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: read <sel>", ErrUsage)
		}
		sel := session.ParseSelector(args[0])
		return start(ctx, d, "Reading "+sel.String()+"...", func() *session.Handle[[]byte] {
			return d.sess.Read(sel)
		})
	case "write":
		return d.write(ctx, args)
	case "notify":
		return d.notify(ctx, args)
	case "readall":
		return start(ctx, d, "Reading all readable characteristics...", d.sess.ReadAllReadable)
	case "descriptors":
		return start(ctx, d, "Dumping descriptors...", d.sess.DumpDescriptors)
	case "refresh":
		return start(ctx, d, "Refreshing services...", d.sess.RefreshServiceCache)
	case "probe":
		return start(ctx, d, "Probe started.", d.sess.Probe)
	case "measure":
		return start(ctx, d, "Measure started.", d.sess.Measure)
	case "brute":
		return start(ctx, d, "Brute force started.", d.sess.BruteForce)
	case "brutealt":
		return start(ctx, d, "Alternate brute force started.", d.sess.BruteForceAlt)
	default:
		return "", fmt.Errorf("%w: %q (try help)", ErrUnknown, name)
	}
}

// start submits an operation and returns ack. In Sync mode it waits for
// the operation, and when Ack is set the acknowledgement goes out through
// it before submission so it precedes the operation's own log lines.
func start[T any](ctx context.Context, d *Dispatcher, ack string, submit func() *session.Handle[T]) (string, error) {
	if !d.Sync {
		submit()
		return ack, nil
	}
	if d.Ack != nil {
		d.Ack(ack)
		ack = ""
	}
	_, err := submit().Wait(ctx)
	return ack, err
}

func (d *Dispatcher) connect(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: connect <index|address>", ErrUsage)
	}
	addr := args[0]
	if i, err := strconv.Atoi(addr); err == nil {
		devices := d.sess.Devices()
		if i < 0 || i >= len(devices) {
			return "", fmt.Errorf("%w: no device at index %d (run scan)", ErrUsage, i)
		}
		addr = devices[i].Address
	}
	return start(ctx, d, "Connecting to "+addr+"...", func() *session.Handle[struct{}] {
		return d.sess.Connect(addr)
	})
}

func (d *Dispatcher) write(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("%w: write <sel> <payload> [resp|noresp]", ErrUsage)
	}
	sel := session.ParseSelector(args[0])
	rest := args[1:]
	mode := session.WriteAuto
	switch strings.ToLower(rest[len(rest)-1]) {
	case "resp":
		mode, rest = session.WriteWithResponse, rest[:len(rest)-1]
	case "noresp":
		mode, rest = session.WriteWithoutResponse, rest[:len(rest)-1]
	}
	if len(rest) == 0 {
		return "", fmt.Errorf("%w: write needs a payload", ErrUsage)
	}
	payload := protocol.ParsePayload(strings.Join(rest, " "))
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUsage)
	}
	msg := fmt.Sprintf("Writing %d byte(s) to %s...", len(payload), sel)
	return start(ctx, d, msg, func() *session.Handle[struct{}] {
		return d.sess.Write(sel, payload, mode)
	})
}

func (d *Dispatcher) notify(ctx context.Context, args []string) (string, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", fmt.Errorf("%w: notify <sel> [on|off]", ErrUsage)
	}
	enable := true
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "on":
		case "off":
			enable = false
		default:
			return "", fmt.Errorf("%w: notify <sel> [on|off]", ErrUsage)
		}
	}
	sel := session.ParseSelector(args[0])
	verb := "Subscribing to "
	if !enable {
		verb = "Unsubscribing from "
	}
	return start(ctx, d, verb+sel.String()+"...", func() *session.Handle[struct{}] {
		return d.sess.SetNotify(sel, enable)
	})
}

func (d *Dispatcher) devices() string {
	devices := d.sess.Devices()
	if len(devices) == 0 {
		return "No devices. Run scan."
	}
	var b strings.Builder
	for i, dev := range devices {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s (%s) rssi=%d", i, dev.DisplayName(), dev.Address, dev.RSSI)
	}
	return b.String()
}

func (d *Dispatcher) chars() string {
	snap := d.sess.Snapshot()
	if len(snap.Characteristics) == 0 {
		return "No characteristics cached."
	}
	var b strings.Builder
	for i, c := range snap.Characteristics {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s %s", c.Index, c.UUID, c.Properties)
		if snap.Subscriptions[c.UUID] {
			b.WriteString(" (notifying)")
		}
	}
	return b.String()
}

func (d *Dispatcher) status() string {
	return StatusLine(d.sess.Snapshot())
}

// StatusLine renders a one-line summary of snap.
func StatusLine(snap session.Snapshot) string {
	s := "state=" + snap.State.String()
	if snap.Address != "" {
		s += " addr=" + snap.Address
	}
	s += fmt.Sprintf(" gen=%d", snap.Generation)
	if snap.SessionID != "" {
		s += " session=" + snap.SessionID
	}
	s += fmt.Sprintf(" chars=%d subs=%d", len(snap.Characteristics), len(snap.Subscriptions))
	if len(snap.Active) > 0 {
		s += " running=" + strings.Join(snap.Active, ",")
	}
	return s
}

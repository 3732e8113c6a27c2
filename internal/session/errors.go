package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaz8081/gattprobe/internal/ble"
)

// Error taxonomy. Every error carried by a Handle matches one of these via
// errors.Is.
var (
	ErrNotConnected  = errors.New("session: not connected")
	ErrNotReady      = errors.New("session: not ready")
	ErrUnsupported   = errors.New("session: operation not supported by characteristic")
	ErrStaleCache    = errors.New("session: service cache is stale")
	ErrTransport     = errors.New("session: transport failure")
	ErrTimeout       = errors.New("session: timed out")
	ErrConnectFailed = errors.New("session: failed to connect")
	ErrSuperseded    = errors.New("session: superseded by a newer connection")
	ErrClosed        = errors.New("session: closed")
)

// Classify maps a transport error onto the taxonomy. Errors that already
// belong to it pass through unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNotReady),
		errors.Is(err, ErrUnsupported), errors.Is(err, ErrStaleCache),
		errors.Is(err, ErrTransport), errors.Is(err, ErrTimeout),
		errors.Is(err, ErrConnectFailed), errors.Is(err, ErrSuperseded),
		errors.Is(err, ErrClosed):
		return err
	case errors.Is(err, ble.ErrNotConnected):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case ble.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrStaleCache, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

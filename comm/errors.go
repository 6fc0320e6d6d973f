package comm

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrChannelClosed indicates that the peer at the other end of a Channel
// terminated, or the local Communicator was closed, before the operation
// could complete.  It is fatal to the operation that observes it.
var ErrChannelClosed = errors.New("channel closed")

// A ConfigurationError reports a precondition violation that is detected
// locally before any message is sent: a wrong communicator size, a rank out
// of range, or a scatter sequence whose length differs from the size.
type ConfigurationError struct {
	Op       string // Operation that detected the problem
	Expected int    // Expected size or length
	Actual   int    // What was supplied
	Reason   string // Optional free-form explanation
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (expected %d, got %d)", e.Op, e.Reason, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: expected %d, got %d", e.Op, e.Expected, e.Actual)
}

// A ProtocolMisuse reports a caller error that the runtime happened to
// detect, such as reading the buffer of a request that is still pending.
// Many misuses, divergent collective order in particular, go undetected.
type ProtocolMisuse struct {
	Op     string
	Reason string
}

// Error implements the error interface.
func (e *ProtocolMisuse) Error() string {
	return fmt.Sprintf("%s: protocol misuse: %s", e.Op, e.Reason)
}

// IsChannelClosed reports whether err was caused by a closed channel.
func IsChannelClosed(err error) bool {
	return errors.Is(err, ErrChannelClosed)
}

// IsConfigurationError reports whether err was caused by a
// ConfigurationError and, if so, returns it.
func IsConfigurationError(err error) (*ConfigurationError, bool) {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

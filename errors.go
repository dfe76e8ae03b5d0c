package stm32boot

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrHandshakeFailed is returned when the sync byte is never acknowledged.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrNack is returned when the device rejects a well formed frame.
	ErrNack = errors.New("bootloader replied NACK")
	// ErrTimeout is returned when the device does not reply in time.
	ErrTimeout = errors.New("timed out waiting for bootloader")
	// ErrDesync is returned when the device replies with a byte that is neither ACK nor NACK.
	ErrDesync = errors.New("bootloader out of sync")
	// ErrNotReady is returned when a command is issued outside the Ready state.
	ErrNotReady = errors.New("session not ready")
	// ErrBooted is returned once the device has jumped to the application.
	ErrBooted = errors.New("device has left the bootloader")
)

// Outcome classifies the reply to a single frame.
type Outcome int

// Frame outcomes.
const (
	Ack Outcome = iota
	Nack
	Timeout
	Desync
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Nack:
		return "nack"
	case Timeout:
		return "timeout"
	case Desync:
		return "desync"
	default:
		return "invalid outcome"
	}
}

// FrameError reports a frame that was not acknowledged by the device.
type FrameError struct {
	Stage   string
	Outcome Outcome
	// Reply holds the unexpected byte for a Desync outcome.
	Reply byte
}

func (e *FrameError) Error() string {
	if e.Outcome == Desync {
		return fmt.Sprintf("%s: unexpected reply 0x%02X", e.Stage, e.Reply)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Unwrap())
}

func (e *FrameError) Unwrap() error {
	switch e.Outcome {
	case Nack:
		return ErrNack
	case Timeout:
		return ErrTimeout
	default:
		return ErrDesync
	}
}

// OutcomeOf extracts the frame outcome carried by err. It returns false for
// errors that did not come from an unacknowledged frame.
func OutcomeOf(err error) (Outcome, bool) {
	if err == nil {
		return Ack, true
	}
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.Outcome, true
	}
	return 0, false
}

// UnsupportedCommandError is returned, before anything is sent, when the
// device did not list the command in its Get reply.
type UnsupportedCommandError struct {
	Command Command
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("command %v (0x%02X) not supported by bootloader", e.Command, byte(e.Command))
}

// TransportError wraps a failure of the underlying channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidArgumentError is returned when a caller violates a documented
// constraint. Nothing is sent to the device.
type InvalidArgumentError struct {
	Op     string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid argument: %s", e.Op, e.Reason)
}

func invalidArgument(op, format string, args ...interface{}) error {
	return &InvalidArgumentError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// RetryError is returned once the retry policy gives up on an operation.
type RetryError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// ChunkError reports the image chunk at which a flash run stopped.
type ChunkError struct {
	Index   int
	Address uint32
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d at %08X: %v", e.Index, e.Address, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// VerifyError reports the first byte that differs after read-back.
type VerifyError struct {
	Address  uint32
	Expected byte
	Actual   byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("mismatch at %08X, expected %02X read %02X", e.Address, e.Expected, e.Actual)
}

func isTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

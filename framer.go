package stm32boot

import (
	"time"

	"github.com/pkg/errors"
)

// framer writes AN3155 frames and classifies the single byte reply. It never
// retries; that is left to RetryPolicy.
type framer struct {
	t Transport
}

func (f *framer) write(b []byte) error {
	for sent := 0; sent < len(b); {
		n, err := f.t.Write(b[sent:])
		if err != nil {
			return &TransportError{Op: "write", Err: err}
		}
		sent += n
	}
	return nil
}

// readFull reads exactly len(p) bytes, allowing timeout between bytes.
func (f *framer) readFull(stage string, p []byte, timeout time.Duration) error {
	for got := 0; got < len(p); {
		n, err := f.t.ReadTimeout(p[got:], timeout)
		if errors.Is(err, ErrTimeout) {
			return &FrameError{Stage: stage, Outcome: Timeout}
		}
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
		got += n
	}
	return nil
}

func (f *framer) awaitAck(stage string, timeout time.Duration) error {
	var reply [1]byte
	if err := f.readFull(stage, reply[:], timeout); err != nil {
		return err
	}
	switch reply[0] {
	case ackByte:
		return nil
	case nackByte:
		return &FrameError{Stage: stage, Outcome: Nack}
	default:
		return &FrameError{Stage: stage, Outcome: Desync, Reply: reply[0]}
	}
}

// sendByte sends [b, ^b]. Used for opcodes, the Read Memory length and the
// standard mass erase code.
func (f *framer) sendByte(stage string, b byte, timeout time.Duration) error {
	if err := f.write([]byte{b, complement(b)}); err != nil {
		return err
	}
	return f.awaitAck(stage, timeout)
}

func (f *framer) sendCommand(cmd Command, timeout time.Duration) error {
	return f.sendByte(cmd.String(), byte(cmd), timeout)
}

// sendFramed sends payload followed by its XOR checksum.
func (f *framer) sendFramed(stage string, payload []byte, timeout time.Duration) error {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, payload...)
	frame = append(frame, Checksum(payload...))
	if err := f.write(frame); err != nil {
		return err
	}
	return f.awaitAck(stage, timeout)
}

func (f *framer) sync(timeout time.Duration) error {
	if err := f.write([]byte{syncByte}); err != nil {
		return err
	}
	return f.awaitAck("sync", timeout)
}

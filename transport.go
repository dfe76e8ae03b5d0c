package stm32boot

import (
	"io"
	"time"
)

// Transport is the byte channel to the bootloader. Bytes written must arrive
// in order; nothing else is assumed about buffering.
type Transport interface {
	io.Writer
	// ReadTimeout reads up to len(p) bytes, waiting at most timeout for data
	// to arrive. It returns ErrTimeout if nothing was received.
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
	// Flush discards any received data that has not been read yet.
	Flush() error
	Close() error
}

// Signaler is implemented by transports that can drive the modem control
// lines, which boards commonly wire to the MCU's NRST and BOOT0 pins.
type Signaler interface {
	SetDTR(bool) error
	SetRTS(bool) error
}

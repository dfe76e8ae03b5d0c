package stm32boot

import (
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

type portTransport struct {
	name string
	port serial.Port
}

// OpenPort opens a serial port configured for the bootloader (8 data bits,
// even parity, one stop bit) using go.bug.st/serial. Unlike OpenSerial the
// returned transport implements Signaler, so a SignalScheme can drive the
// board's RESET and BOOT0 lines.
func OpenPort(name string, baud int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	return &portTransport{name: name, port: port}, nil
}

func (t *portTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *portTransport) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	n, err := t.port.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return n, nil
}

func (t *portTransport) Flush() error {
	if err := t.port.Drain(); err != nil {
		return err
	}
	return t.port.ResetInputBuffer()
}

func (t *portTransport) Close() error {
	return t.port.Close()
}

func (t *portTransport) SetDTR(dtr bool) error {
	return t.port.SetDTR(dtr)
}

func (t *portTransport) SetRTS(rts bool) error {
	return t.port.SetRTS(rts)
}

package stm32boot

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// pollInterval is the read timeout the port is opened with. Longer waits are
// made of several polls since tarm/serial fixes the timeout at open time.
const pollInterval = 100 * time.Millisecond

type serialTransport struct {
	portConfig serial.Config
	port       *serial.Port
}

// OpenSerial opens a serial port configured for the bootloader (8 data
// bits, even parity, one stop bit) using github.com/tarm/serial.
func OpenSerial(port string, baud int) (Transport, error) {
	t := new(serialTransport)

	t.portConfig.Name = port
	t.portConfig.Baud = baud
	t.portConfig.Size = 8
	t.portConfig.Parity = serial.ParityEven
	t.portConfig.StopBits = serial.Stop1
	t.portConfig.ReadTimeout = pollInterval

	var err error
	t.port, err = serial.OpenPort(&t.portConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", port)
	}
	// On Linux with USB serial ports, in order for flush to work properly
	// we need to delay a little before flushing to make sure that any
	// received data has made its way up the driver stack.
	// See https://stackoverflow.com/questions/13013387/clearing-the-serial-ports-buffer
	time.Sleep(time.Millisecond * 100)
	if err := t.port.Flush(); err != nil {
		t.port.Close()
		return nil, errors.Wrapf(err, "flush %s", port)
	}
	return t, nil
}

func (t *serialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *serialTransport) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		n, err := t.port.Read(p)
		if n > 0 {
			return n, nil
		}
		// A poll that expires is reported as io.EOF on posix systems.
		if err != nil && err != io.EOF {
			return 0, err
		}
		if !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}
	}
}

func (t *serialTransport) Flush() error {
	return t.port.Flush()
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}

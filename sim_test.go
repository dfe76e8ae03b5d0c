package stm32boot

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// simDevice is an in-memory AN3155 bootloader. Bytes written to it are parsed
// as they arrive and replies are queued for ReadTimeout, which returns
// ErrTimeout at once when the queue is empty.
type simDevice struct {
	version  byte
	options  [2]byte
	pid      uint16
	opcodes  []Command
	pageSize uint32
	mem      map[uint32]byte
	// readBack replaces bytes returned by Read Memory.
	readBack map[uint32]byte

	// hook may replace the reply at any stage of a command. A nil result
	// keeps the normal reply; an empty one sends nothing. A replaced reply
	// aborts the command.
	hook func(cmd Command, stage string) []byte

	mute     bool
	writeErr error

	synced bool
	booted bool
	closed bool

	in   []byte
	out  []byte
	step *simStep
	cmd  Command
	addr uint32

	frames     map[Command]int
	syncs      int
	written    int
	flushes    int
	resets     int
	erased     []uint16
	massErases []uint16
}

type simStep struct {
	need   func(in []byte) int
	handle func(frame []byte)
}

func newSimDevice() *simDevice {
	return &simDevice{
		version:  0x31,
		pid:      0x410,
		pageSize: 1024,
		opcodes: []Command{
			CmdGet, CmdGetVersion, CmdGetID, CmdReadMemory, CmdGo, CmdWriteMemory,
			CmdErase, CmdWriteProtect, CmdWriteUnprotect, CmdReadoutProtect, CmdReadoutUnprotect,
		},
		mem:      map[uint32]byte{},
		readBack: map[uint32]byte{},
		frames:   map[Command]int{},
	}
}

// extended swaps Erase for Extended Erase.
func (d *simDevice) extended() *simDevice {
	for i, op := range d.opcodes {
		if op == CmdErase {
			d.opcodes[i] = CmdExtendedErase
		}
	}
	return d
}

func (d *simDevice) Write(p []byte) (int, error) {
	if d.closed {
		return 0, errors.New("port closed")
	}
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.written += len(p)
	if d.mute || d.booted {
		return len(p), nil
	}
	d.in = append(d.in, p...)
	d.process()
	return len(p), nil
}

func (d *simDevice) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if d.closed {
		return 0, errors.New("port closed")
	}
	if len(d.out) == 0 {
		return 0, ErrTimeout
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *simDevice) Flush() error {
	d.flushes++
	d.out = nil
	return nil
}

func (d *simDevice) Close() error {
	d.closed = true
	return nil
}

func (d *simDevice) process() {
	for len(d.in) > 0 {
		if d.step == nil {
			if d.in[0] == syncByte {
				d.in = d.in[1:]
				d.syncs++
				if d.synced {
					d.out = append(d.out, nackByte)
				} else {
					d.synced = true
					d.out = append(d.out, ackByte)
				}
				continue
			}
			if !d.synced {
				d.in = d.in[1:]
				continue
			}
			d.step = d.commandStep()
		}
		n := d.step.need(d.in)
		if len(d.in) < n {
			return
		}
		frame := d.in[:n]
		d.in = d.in[n:]
		step := d.step
		d.step = nil
		step.handle(frame)
	}
}

// reply queues ACK followed by data, or NACK when ok is false, and reports
// whether the command goes on.
func (d *simDevice) reply(stage string, ok bool, data ...byte) bool {
	if d.hook != nil {
		if r := d.hook(d.cmd, stage); r != nil {
			d.out = append(d.out, r...)
			return false
		}
	}
	if !ok {
		d.out = append(d.out, nackByte)
		return false
	}
	d.out = append(d.out, ackByte)
	d.out = append(d.out, data...)
	return true
}

func (d *simDevice) supports(cmd Command) bool {
	for _, op := range d.opcodes {
		if op == cmd {
			return true
		}
	}
	return false
}

func fixed(n int) func([]byte) int {
	return func([]byte) int { return n }
}

func checksumOK(frame []byte) bool {
	return Checksum(frame[:len(frame)-1]...) == frame[len(frame)-1]
}

func (d *simDevice) commandStep() *simStep {
	return &simStep{need: fixed(2), handle: func(f []byte) {
		d.cmd = Command(f[0])
		if f[1] != complement(f[0]) || !d.supports(d.cmd) {
			d.reply("command", false)
			return
		}
		d.frames[d.cmd]++
		switch d.cmd {
		case CmdGet:
			data := []byte{byte(len(d.opcodes)), d.version}
			for _, op := range d.opcodes {
				data = append(data, byte(op))
			}
			d.reply("command", true, append(data, ackByte)...)
		case CmdGetVersion:
			d.reply("command", true, d.version, d.options[0], d.options[1], ackByte)
		case CmdGetID:
			d.reply("command", true, 1, byte(d.pid>>8), byte(d.pid), ackByte)
		case CmdReadMemory, CmdWriteMemory, CmdGo:
			if d.reply("command", true) {
				d.step = d.addressStep()
			}
		case CmdErase:
			if d.reply("command", true) {
				d.step = d.eraseStep()
			}
		case CmdExtendedErase:
			if d.reply("command", true) {
				d.step = d.extendedEraseStep()
			}
		case CmdWriteProtect:
			if d.reply("command", true) {
				d.step = d.listStep("sectors", func([]byte) { d.reset() })
			}
		case CmdWriteUnprotect, CmdReadoutProtect, CmdReadoutUnprotect:
			if d.reply("command", true) && d.reply("complete", true) {
				d.reset()
			}
		}
	}}
}

func (d *simDevice) addressStep() *simStep {
	return &simStep{need: fixed(5), handle: func(f []byte) {
		if !d.reply("address", checksumOK(f)) {
			return
		}
		d.addr = binary.BigEndian.Uint32(f[:4])
		switch d.cmd {
		case CmdReadMemory:
			d.step = d.readLengthStep()
		case CmdWriteMemory:
			d.step = d.listStep("data", d.store)
		case CmdGo:
			d.booted = true
		}
	}}
}

func (d *simDevice) readLengthStep() *simStep {
	return &simStep{need: fixed(2), handle: func(f []byte) {
		data := make([]byte, int(f[0])+1)
		for i := range data {
			data[i] = d.read(d.addr + uint32(i))
		}
		d.reply("length", f[1] == complement(f[0]), data...)
	}}
}

// listStep handles the [N-1, N bytes, checksum] frames.
func (d *simDevice) listStep(stage string, apply func([]byte)) *simStep {
	return &simStep{
		need: func(in []byte) int {
			if len(in) == 0 {
				return 1
			}
			return int(in[0]) + 3
		},
		handle: func(f []byte) {
			if d.reply(stage, checksumOK(f)) {
				apply(f[1 : len(f)-1])
			}
		},
	}
}

func (d *simDevice) eraseStep() *simStep {
	return &simStep{
		need: func(in []byte) int {
			if len(in) == 0 {
				return 1
			}
			if in[0] == 0xFF {
				return 2
			}
			return int(in[0]) + 3
		},
		handle: func(f []byte) {
			if f[0] == 0xFF {
				if d.reply("pages", f[1] == 0x00) {
					d.massErase(0xFFFF)
				}
				return
			}
			if !d.reply("pages", checksumOK(f)) {
				return
			}
			for _, p := range f[1 : len(f)-1] {
				d.erasePage(uint16(p))
			}
		},
	}
}

func (d *simDevice) extendedEraseStep() *simStep {
	return &simStep{
		need: func(in []byte) int {
			if len(in) < 2 {
				return 2
			}
			n := binary.BigEndian.Uint16(in)
			if n >= 0xFFF0 {
				return 3
			}
			return 2 + 2*(int(n)+1) + 1
		},
		handle: func(f []byte) {
			if !d.reply("pages", checksumOK(f)) {
				return
			}
			n := binary.BigEndian.Uint16(f)
			if n >= 0xFFF0 {
				d.massErase(n)
				return
			}
			for i := 2; i < len(f)-1; i += 2 {
				d.erasePage(binary.BigEndian.Uint16(f[i:]))
			}
		},
	}
}

func (d *simDevice) store(data []byte) {
	for i, b := range data {
		d.mem[d.addr+uint32(i)] = b
	}
}

func (d *simDevice) read(addr uint32) byte {
	if b, ok := d.readBack[addr]; ok {
		return b
	}
	if b, ok := d.mem[addr]; ok {
		return b
	}
	return 0xFF
}

func (d *simDevice) erasePage(page uint16) {
	d.erased = append(d.erased, page)
	start := defaultFlashBase + uint32(page)*d.pageSize
	for addr := range d.mem {
		if addr >= start && addr < start+d.pageSize {
			delete(d.mem, addr)
		}
	}
}

func (d *simDevice) massErase(code uint16) {
	d.massErases = append(d.massErases, code)
	d.mem = map[uint32]byte{}
}

func (d *simDevice) reset() {
	d.resets++
	d.synced = false
}

// signalDevice is a simDevice on a port with modem control lines.
type signalDevice struct {
	*simDevice
	events []string
}

func (s *signalDevice) SetDTR(v bool) error {
	s.events = append(s.events, levelEvent("dtr", v))
	return nil
}

func (s *signalDevice) SetRTS(v bool) error {
	s.events = append(s.events, levelEvent("rts", v))
	return nil
}

func levelEvent(line string, v bool) string {
	if v {
		return line + "=1"
	}
	return line + "=0"
}

func testConfig() Config {
	config := DefaultConfig()
	config.ReadTimeout = time.Millisecond
	config.Retry.Backoff = 0
	return config
}

// openSim returns a Ready session on d.
func openSim(t *testing.T, d *simDevice) *Session {
	t.Helper()
	s, err := Synchronize(d, testConfig())
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if _, err := s.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}
	return s
}

package stm32boot

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// scriptTransport records writes and replays a fixed reply stream.
type scriptTransport struct {
	written  []byte
	replies  []byte
	writeErr error
	readErr  error
}

func (s *scriptTransport) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.written = append(s.written, p...)
	return len(p), nil
}

func (s *scriptTransport) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.replies) == 0 {
		return 0, ErrTimeout
	}
	n := copy(p, s.replies)
	s.replies = s.replies[n:]
	return n, nil
}

func (s *scriptTransport) Flush() error { return nil }
func (s *scriptTransport) Close() error { return nil }

func TestFramerOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		replies  []byte
		outcome  Outcome
		sentinel error
	}{
		{"ack", []byte{ackByte}, Ack, nil},
		{"nack", []byte{nackByte}, Nack, ErrNack},
		{"timeout", nil, Timeout, ErrTimeout},
		{"desync", []byte{0xA5}, Desync, ErrDesync},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &scriptTransport{replies: tt.replies}
			f := framer{t: st}
			err := f.sendCommand(CmdReadMemory, time.Millisecond)
			if !bytes.Equal(st.written, []byte{0x11, 0xEE}) {
				t.Errorf("written % X", st.written)
			}
			outcome, ok := OutcomeOf(err)
			if !ok || outcome != tt.outcome {
				t.Fatalf("outcome %v %v, want %v (err %v)", outcome, ok, tt.outcome, err)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("%v is not %v", err, tt.sentinel)
			}
		})
	}
}

func TestFramerDesyncReply(t *testing.T) {
	f := framer{t: &scriptTransport{replies: []byte{0xA5}}}
	err := f.awaitAck("stage", time.Millisecond)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Reply != 0xA5 || fe.Stage != "stage" {
		t.Fatalf("got %#v", err)
	}
}

func TestFramerSendFramed(t *testing.T) {
	st := &scriptTransport{replies: []byte{ackByte}}
	f := framer{t: st}
	if err := f.sendFramed("address", encodeAddress(0x08000000), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x08, 0x00, 0x00, 0x00, 0x08}; !bytes.Equal(st.written, want) {
		t.Errorf("written % X, want % X", st.written, want)
	}
}

func TestFramerTransportErrors(t *testing.T) {
	f := framer{t: &scriptTransport{writeErr: errors.New("unplugged")}}
	err := f.sendCommand(CmdGet, time.Millisecond)
	if _, ok := OutcomeOf(err); ok || !isTransportError(err) {
		t.Errorf("write failure: %v", err)
	}

	f = framer{t: &scriptTransport{readErr: errors.New("unplugged")}}
	err = f.sendCommand(CmdGet, time.Millisecond)
	if _, ok := OutcomeOf(err); ok || !isTransportError(err) {
		t.Errorf("read failure: %v", err)
	}
}

func TestFramerReadFullAcrossReads(t *testing.T) {
	st := &scriptTransport{replies: []byte{1, 2, 3}}
	f := framer{t: st}
	buf := make([]byte, 4)
	err := f.readFull("data", buf, time.Millisecond)
	if outcome, _ := OutcomeOf(err); outcome != Timeout {
		t.Fatalf("short read: %v", err)
	}
}

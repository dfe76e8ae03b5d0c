package stm32boot

import (
	"fmt"
	"strings"
	"time"
)

// Line is a modem control line.
type Line int

// Modem control lines.
const (
	LineNone Line = iota
	LineRTS
	LineDTR
)

// Signal maps a logical pin (RESET or BOOT0) to a modem control line.
type Signal struct {
	Line Line
	// ActiveLow inverts the line level.
	ActiveLow bool
}

// ParseSignal parses "none", "rts", "dtr", "!rts" or "!dtr". A leading "!"
// marks the signal as active low.
func ParseSignal(s string) (Signal, error) {
	var sig Signal
	name := s
	if strings.HasPrefix(s, "!") {
		sig.ActiveLow = true
		name = strings.TrimPrefix(s, "!")
	}
	switch strings.ToLower(name) {
	case "rts":
		sig.Line = LineRTS
	case "dtr":
		sig.Line = LineDTR
	case "none", "":
		if sig.ActiveLow {
			return Signal{}, fmt.Errorf("incorrect signal format: %q", s)
		}
	default:
		return Signal{}, fmt.Errorf("incorrect signal format: %q", s)
	}
	return sig, nil
}

func (s Signal) String() string {
	var name string
	switch s.Line {
	case LineRTS:
		name = "rts"
	case LineDTR:
		name = "dtr"
	default:
		return "none"
	}
	if s.ActiveLow {
		return "!" + name
	}
	return name
}

func (s Signal) set(sig Signaler, active bool) error {
	level := active != s.ActiveLow
	switch s.Line {
	case LineRTS:
		return sig.SetRTS(level)
	case LineDTR:
		return sig.SetDTR(level)
	}
	return nil
}

// SignalScheme describes how a board exposes RESET and BOOT0 on the serial
// adapter's modem lines.
type SignalScheme struct {
	Reset Signal
	Boot  Signal
	// ResetFor is how long RESET is held active.
	ResetFor time.Duration
}

// enabled reports whether any line is in use.
func (s SignalScheme) enabled() bool {
	return s.Reset.Line != LineNone || s.Boot.Line != LineNone
}

func (s SignalScheme) setBoot(sig Signaler, active bool) error {
	return s.Boot.set(sig, active)
}

// pulseReset restarts the MCU. With BOOT0 held active it comes up in the ROM bootloader.
func (s SignalScheme) pulseReset(sig Signaler) error {
	if s.Reset.Line == LineNone {
		return nil
	}
	if err := s.Reset.set(sig, false); err != nil {
		return err
	}
	if err := s.Reset.set(sig, true); err != nil {
		return err
	}
	hold := s.ResetFor
	if hold <= 0 {
		hold = 10 * time.Millisecond
	}
	time.Sleep(hold)
	return s.Reset.set(sig, false)
}

package stm32boot

import (
	"strings"

	"github.com/pkg/errors"
)

// CapabilitySet is the bootloader version and the commands it reported in
// reply to Get.
type CapabilitySet struct {
	Version  byte
	Commands []Command
}

// Supports reports whether cmd was listed by the device.
func (c *CapabilitySet) Supports(cmd Command) bool {
	if c == nil {
		return false
	}
	for _, supported := range c.Commands {
		if supported == cmd {
			return true
		}
	}
	return false
}

// VersionString returns the bootloader version in major.minor form.
func (c CapabilitySet) VersionString() string {
	return versionString(c.Version)
}

func (c CapabilitySet) String() string {
	names := make([]string, len(c.Commands))
	for i, cmd := range c.Commands {
		names[i] = cmd.String()
	}
	return "v" + c.VersionString() + " [" + strings.Join(names, ", ") + "]"
}

// Discover issues Get and records the reported capabilities, moving the
// session to Ready. Any failure leaves the session Disconnected, since no
// further command can be validated without the capability set.
func (s *Session) Discover() (CapabilitySet, error) {
	switch s.state {
	case Synced, Ready:
	case Booted:
		return CapabilitySet{}, ErrBooted
	default:
		return CapabilitySet{}, errors.Wrapf(ErrNotReady, "cannot discover in state %v", s.state)
	}

	caps, err := s.get()
	if err != nil {
		s.caps = nil
		s.state = Disconnected
		return CapabilitySet{}, errors.Wrap(err, "get")
	}
	s.caps = &caps
	s.state = Ready
	pkgLog.Debugf("bootloader %v", caps)
	return caps, nil
}

// Capabilities returns the capability set found by Discover.
func (s *Session) Capabilities() (CapabilitySet, bool) {
	if s.caps == nil {
		return CapabilitySet{}, false
	}
	return *s.caps, true
}

func (s *Session) get() (CapabilitySet, error) {
	timeout := s.config.ReadTimeout
	if err := s.framer.sendCommand(CmdGet, timeout); err != nil {
		return CapabilitySet{}, err
	}

	// N is the number of opcodes; the version byte precedes them.
	var n [1]byte
	if err := s.framer.readFull("get length", n[:], timeout); err != nil {
		return CapabilitySet{}, err
	}
	if n[0] == 0 {
		return CapabilitySet{}, errors.New("malformed reply: no commands listed")
	}
	reply := make([]byte, int(n[0])+1)
	if err := s.framer.readFull("get reply", reply, timeout); err != nil {
		return CapabilitySet{}, errors.Wrapf(err, "malformed reply: expected %d bytes", len(reply))
	}
	if err := s.framer.awaitAck("get end", timeout); err != nil {
		return CapabilitySet{}, err
	}

	caps := CapabilitySet{Version: reply[0]}
	for _, op := range reply[1:] {
		caps.Commands = append(caps.Commands, Command(op))
	}
	return caps, nil
}

package stm32boot

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// GetVersion returns the bootloader version and option bytes.
func (s *Session) GetVersion() (VersionInfo, error) {
	if err := s.begin(CmdGetVersion, Reading); err != nil {
		return VersionInfo{}, err
	}
	var info VersionInfo
	err := s.retry("get version", func() error {
		timeout := s.config.ReadTimeout
		if err := s.framer.sendCommand(CmdGetVersion, timeout); err != nil {
			return err
		}
		var reply [3]byte
		if err := s.framer.readFull("version", reply[:], timeout); err != nil {
			return err
		}
		if err := s.framer.awaitAck("version end", timeout); err != nil {
			return err
		}
		info = VersionInfo{Version: reply[0], Options: [2]byte{reply[1], reply[2]}}
		return nil
	})
	s.end(err)
	return info, err
}

// GetID returns the product ID of the device.
func (s *Session) GetID() (uint16, error) {
	if err := s.begin(CmdGetID, Reading); err != nil {
		return 0, err
	}
	var pid uint16
	err := s.retry("get id", func() error {
		timeout := s.config.ReadTimeout
		if err := s.framer.sendCommand(CmdGetID, timeout); err != nil {
			return err
		}
		var n [1]byte
		if err := s.framer.readFull("id length", n[:], timeout); err != nil {
			return err
		}
		id := make([]byte, int(n[0])+1)
		if err := s.framer.readFull("id", id, timeout); err != nil {
			return err
		}
		if err := s.framer.awaitAck("id end", timeout); err != nil {
			return err
		}
		// STM32 devices report two bytes; keep the least significant ones
		// should a longer ID ever be returned.
		if len(id) < 2 {
			id = append([]byte{0}, id...)
		}
		pid = binary.BigEndian.Uint16(id[len(id)-2:])
		return nil
	})
	s.end(err)
	return pid, err
}

// ReadMemory reads length bytes (1 to 256) starting at address. Longer reads
// must be split by the caller.
func (s *Session) ReadMemory(address uint32, length int) ([]byte, error) {
	if length < 1 || length > MaxPacketSize {
		return nil, invalidArgument("read memory", "length %d not in 1..%d", length, MaxPacketSize)
	}
	if err := s.begin(CmdReadMemory, Reading); err != nil {
		return nil, err
	}
	var data []byte
	err := s.retry(fmt.Sprintf("read memory at %08X", address), func() error {
		timeout := s.config.ReadTimeout
		if err := s.framer.sendCommand(CmdReadMemory, timeout); err != nil {
			return err
		}
		if err := s.framer.sendFramed("read address", encodeAddress(address), timeout); err != nil {
			return err
		}
		if err := s.framer.sendByte("read length", byte(length-1), timeout); err != nil {
			return err
		}
		buf := make([]byte, length)
		if err := s.framer.readFull("read data", buf, timeout); err != nil {
			return err
		}
		data = buf
		return nil
	})
	s.end(err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteMemory writes data (1 to 256 bytes) starting at address.
func (s *Session) WriteMemory(address uint32, data []byte) error {
	if len(data) < 1 || len(data) > MaxPacketSize {
		return invalidArgument("write memory", "length %d not in 1..%d", len(data), MaxPacketSize)
	}
	if err := s.begin(CmdWriteMemory, Writing); err != nil {
		return err
	}
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, byte(len(data)-1))
	payload = append(payload, data...)

	err := s.retry(fmt.Sprintf("write memory at %08X", address), func() error {
		timeout := s.config.ReadTimeout
		if err := s.framer.sendCommand(CmdWriteMemory, timeout); err != nil {
			return err
		}
		if err := s.framer.sendFramed("write address", encodeAddress(address), timeout); err != nil {
			return err
		}
		return s.framer.sendFramed("write data", payload, timeout)
	})
	s.end(err)
	return err
}

// Go makes the device jump to the code at address, ending the bootloader
// session. Only the command frame is retried. The session becomes Booted once
// the address frame is sent, whether it is acknowledged or the reply is lost
// or garbled, since the application may start before the ACK goes out. The
// one exception is a NACK of the address: the device refused to jump and is
// still in its bootloader, so the session stays Ready and ErrNack is returned.
func (s *Session) Go(address uint32) error {
	if err := s.begin(CmdGo, Writing); err != nil {
		return err
	}
	err := s.retry(fmt.Sprintf("go %08X", address), func() error {
		return s.framer.sendCommand(CmdGo, s.config.ReadTimeout)
	})
	if err != nil {
		s.end(err)
		return err
	}

	err = s.framer.sendFramed("go address", encodeAddress(address), s.config.ReadTimeout)
	switch outcome, isFrame := OutcomeOf(err); {
	case err == nil:
	case isFrame && outcome == Nack:
		s.end(err)
		return err
	case isFrame:
		pkgLog.Debugf("go: %v, assuming the application started", err)
	default:
		s.end(err)
		return err
	}
	s.state = Booted
	return nil
}

// Reset is returned by commands after which the device restarts its
// bootloader. The session is Disconnected until Synchronize succeeds again.
type Reset struct {
	Command Command
}

func (r *Reset) String() string {
	return fmt.Sprintf("device reset after %v", r.Command)
}

// WriteProtect enables write protection for the given sectors.
func (s *Session) WriteProtect(sectors []byte) (*Reset, error) {
	if len(sectors) < 1 || len(sectors) > 255 {
		return nil, invalidArgument("write protect", "%d sectors not in 1..255", len(sectors))
	}
	payload := make([]byte, 0, len(sectors)+1)
	payload = append(payload, byte(len(sectors)-1))
	payload = append(payload, sectors...)

	return s.protect(CmdWriteProtect, func() error {
		return s.framer.sendFramed("write protect sectors", payload, s.config.ProtectTimeout)
	})
}

// WriteUnprotect disables write protection for the whole flash.
func (s *Session) WriteUnprotect() (*Reset, error) {
	return s.protect(CmdWriteUnprotect, s.awaitCompletion(CmdWriteUnprotect))
}

// ReadoutProtect enables flash read protection.
func (s *Session) ReadoutProtect() (*Reset, error) {
	return s.protect(CmdReadoutProtect, s.awaitCompletion(CmdReadoutProtect))
}

// ReadoutUnprotect disables flash read protection. The device mass erases
// its flash as part of the operation.
func (s *Session) ReadoutUnprotect() (*Reset, error) {
	return s.protect(CmdReadoutUnprotect, s.awaitCompletion(CmdReadoutUnprotect))
}

// awaitCompletion waits for the second ACK sent once the option bytes have
// been programmed.
func (s *Session) awaitCompletion(cmd Command) func() error {
	return func() error {
		return s.framer.awaitAck(cmd.String()+" complete", s.config.ProtectTimeout)
	}
}

// protect runs one of the option byte commands. Only the command frame is
// retried: once it is accepted the device may already be resetting, so the
// rest of the exchange is attempted once. The session always ends
// Disconnected.
func (s *Session) protect(cmd Command, rest func() error) (*Reset, error) {
	if err := s.begin(cmd, Protecting); err != nil {
		return nil, err
	}
	err := s.retry(cmd.String(), func() error {
		return s.framer.sendCommand(cmd, s.config.ReadTimeout)
	})
	if err == nil {
		err = rest()
	}
	s.state = Disconnected
	if err != nil {
		return nil, errors.Wrap(err, "device state unknown, resynchronise before continuing")
	}
	pkgLog.Infof("%v accepted, device is resetting", cmd)
	return &Reset{Command: cmd}, nil
}

package stm32boot

import (
	"fmt"
	"strconv"
)

// MassErase selects one of the mass erase modes.
type MassErase int

// Mass erase modes. The bank modes require Extended Erase.
const (
	NoMassErase MassErase = iota
	MassEraseGlobal
	MassEraseBank1
	MassEraseBank2
)

var massEraseCodes = map[MassErase]uint16{
	MassEraseGlobal: 0xFFFF,
	MassEraseBank1:  0xFFFE,
	MassEraseBank2:  0xFFFD,
}

// Limits of the erase page lists.
const (
	maxStandardPages = 255
	maxExtendedPages = 0xFFF0
)

// ErasePlan is either a mass erase or an ordered list of pages, encoded for
// the standard or the extended erase command.
type ErasePlan struct {
	Extended bool
	Mass     MassErase
	Pages    []uint16
}

// Command returns the erase command the plan is encoded for.
func (p ErasePlan) Command() Command {
	if p.Extended {
		return CmdExtendedErase
	}
	return CmdErase
}

func (p ErasePlan) String() string {
	kind := "erase"
	if p.Extended {
		kind = "extended erase"
	}
	switch p.Mass {
	case MassEraseGlobal:
		return kind + " (mass)"
	case MassEraseBank1:
		return kind + " (bank 1)"
	case MassEraseBank2:
		return kind + " (bank 2)"
	}
	switch len(p.Pages) {
	case 0:
		return kind + " (no pages)"
	case 1:
		return kind + " (page " + strconv.Itoa(int(p.Pages[0])) + ")"
	}
	return fmt.Sprintf("%s (%d pages, %d-%d)", kind, len(p.Pages), p.Pages[0], p.Pages[len(p.Pages)-1])
}

func (p ErasePlan) validate() error {
	const op = "erase"
	if p.Mass != NoMassErase {
		if _, ok := massEraseCodes[p.Mass]; !ok {
			return invalidArgument(op, "unknown mass erase mode %d", p.Mass)
		}
		if len(p.Pages) > 0 {
			return invalidArgument(op, "mass erase with a page list")
		}
		if !p.Extended && p.Mass != MassEraseGlobal {
			return invalidArgument(op, "bank erase requires extended erase")
		}
		return nil
	}
	if len(p.Pages) == 0 {
		return invalidArgument(op, "empty page list")
	}
	if p.Extended {
		if len(p.Pages) > maxExtendedPages {
			return invalidArgument(op, "%d pages exceeds %d", len(p.Pages), maxExtendedPages)
		}
		return nil
	}
	if len(p.Pages) > maxStandardPages {
		return invalidArgument(op, "%d pages exceeds %d", len(p.Pages), maxStandardPages)
	}
	for _, page := range p.Pages {
		if page > 0xFF {
			return invalidArgument(op, "page %d not addressable by standard erase", page)
		}
	}
	return nil
}

// payload returns the frame sent after the erase command, without its
// checksum. The standard mass erase is the only exception: it is sent as the
// complemented pair 0xFF 0x00 and payload returns nil for it.
func (p ErasePlan) payload() []byte {
	if p.Extended {
		if p.Mass != NoMassErase {
			code := massEraseCodes[p.Mass]
			return []byte{byte(code >> 8), byte(code)}
		}
		n := len(p.Pages) - 1
		b := make([]byte, 0, 2+2*len(p.Pages))
		b = append(b, byte(n>>8), byte(n))
		for _, page := range p.Pages {
			b = append(b, byte(page>>8), byte(page))
		}
		return b
	}
	if p.Mass != NoMassErase {
		return nil
	}
	b := make([]byte, 0, 1+len(p.Pages))
	b = append(b, byte(len(p.Pages)-1))
	for _, page := range p.Pages {
		b = append(b, byte(page))
	}
	return b
}

// Erase runs one erase plan. The plan's command must be supported by the
// device.
func (s *Session) Erase(plan ErasePlan) error {
	if err := plan.validate(); err != nil {
		return err
	}
	if err := s.begin(plan.Command(), Erasing); err != nil {
		return err
	}
	pkgLog.Debugf("%v", plan)
	err := s.retry(plan.String(), func() error {
		return s.erase(plan)
	})
	s.end(err)
	return err
}

func (s *Session) erase(plan ErasePlan) error {
	if err := s.framer.sendCommand(plan.Command(), s.config.ReadTimeout); err != nil {
		return err
	}
	if payload := plan.payload(); payload != nil {
		return s.framer.sendFramed("erase pages", payload, s.config.EraseTimeout)
	}
	return s.framer.sendByte("mass erase", 0xFF, s.config.EraseTimeout)
}

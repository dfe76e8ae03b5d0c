package stm32boot

// Region is a range of device memory.
type Region struct {
	Address uint32
	Length  int
}

// End returns the address following the last byte of the region.
func (r Region) End() uint64 {
	return uint64(r.Address) + uint64(r.Length)
}

// Check validates the region for op: it must be non-empty, fit the 32-bit
// address space, start on a multiple of alignment and lie inside the flash
// described by layout. A zero alignment or FlashSize skips that check.
func (r Region) Check(op string, alignment int, layout Layout) error {
	if r.Length <= 0 {
		return invalidArgument(op, "empty region at %08X", r.Address)
	}
	if r.End() > 1<<32 {
		return invalidArgument(op, "region at %08X does not fit the address space", r.Address)
	}
	if alignment > 1 && r.Address%uint32(alignment) != 0 {
		return invalidArgument(op, "address %08X is not aligned to %d bytes", r.Address, alignment)
	}
	if r.Address < layout.FlashBase {
		return invalidArgument(op, "address %08X below flash base %08X", r.Address, layout.FlashBase)
	}
	if layout.FlashSize != 0 && r.End() > uint64(layout.FlashBase)+uint64(layout.FlashSize) {
		return invalidArgument(op, "region ending at %08X does not fit %d bytes of flash", r.End(), layout.FlashSize)
	}
	return nil
}

package stm32boot

// Checksum returns the XOR of all bytes. The same fold is used for address,
// data and page list frames; a length byte that is part of the frame is
// included.
func Checksum(data ...byte) byte {
	var chk byte
	for _, b := range data {
		chk ^= b
	}
	return chk
}

// complement is the checksum of a single command byte.
func complement(b byte) byte {
	return b ^ 0xFF
}

func encodeAddress(addr uint32) []byte {
	return []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

package stm32boot

import (
	"io"
	"io/ioutil"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Image is a contiguous block of firmware to be programmed at Base.
type Image struct {
	Base uint32
	Data []byte
	// Entry is the start address found in the hex file, if any.
	Entry    uint32
	HasEntry bool
}

// Gaps between hex segments are filled with the erased flash value.
const fillByte = 0xFF

// LoadHex parses Intel HEX data into a single image spanning its lowest to
// its highest address.
func LoadHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, errors.Wrap(err, "parse hex")
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, errors.New("hex file contains no data")
	}

	first := segments[0]
	last := segments[len(segments)-1]
	for _, segment := range segments {
		pkgLog.Debugf("loaded segment at %X length %v", segment.Address, len(segment.Data))
	}
	base := first.Address
	size := last.Address + uint32(len(last.Data)) - base

	img := &Image{
		Base: base,
		Data: mem.ToBinary(base, size, fillByte),
	}
	img.Entry, img.HasEntry = mem.GetStartAddress()
	return img, nil
}

// LoadBinary reads a raw image to be programmed at base.
func LoadBinary(r io.Reader, base uint32) (*Image, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read binary")
	}
	if len(data) == 0 {
		return nil, errors.New("binary file is empty")
	}
	return &Image{Base: base, Data: data}, nil
}

// End returns the address following the last byte of the image.
func (img *Image) End() uint64 {
	return uint64(img.Base) + uint64(len(img.Data))
}

// Fits checks that the image lies inside the flash described by l.
func (img *Image) Fits(l Layout) error {
	return Region{Address: img.Base, Length: len(img.Data)}.Check("image", 0, l)
}

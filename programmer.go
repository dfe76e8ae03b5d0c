package stm32boot

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Layout describes the flash memory of the target.
type Layout struct {
	FlashBase uint32
	// FlashSize bounds the image when non-zero.
	FlashSize uint32
	// PageSize is the erase granularity. When zero it is looked up from
	// the product ID reported by Get ID.
	PageSize uint32
}

// EraseMode selects how Flash prepares the target range.
type EraseMode int

// Erase modes.
const (
	// ErasePages erases the pages covering the image.
	ErasePages EraseMode = iota
	// EraseMass erases the whole flash.
	EraseMass
	// EraseNone writes without erasing.
	EraseNone
)

// FlashOptions holds programming options.
type FlashOptions struct {
	Layout Layout
	Erase  EraseMode
	// If true, every chunk is read back and compared before moving on.
	Verify bool
	// If true, the device jumps to Entry (or the base address when Entry is
	// zero) once the image is written.
	Go    bool
	Entry uint32
	// Alignment pads the image with 0xFF up to a multiple of this size.
	Alignment int
	// Offset resumes an earlier run from a chunk boundary. Erasing is
	// skipped when resuming so that chunks already written survive.
	Offset   int
	Progress ProgressCallback
}

// DefaultFlashOptions returns options suitable for most STM32 devices.
func DefaultFlashOptions() FlashOptions {
	return FlashOptions{
		Layout:    Layout{FlashBase: defaultFlashBase},
		Erase:     ErasePages,
		Verify:    true,
		Alignment: 4,
	}
}

// Progress phases.
const (
	PhaseErasing  = "erasing"
	PhaseWriting  = "writing"
	PhaseBooting  = "booting"
	PhaseComplete = "complete"
)

// Progress is passed to the progress callback during Flash.
type Progress struct {
	Phase   string
	Chunk   int
	Chunks  int
	Written int
	Total   int
}

// ProgressCallback is called during Flash. It must return quickly.
type ProgressCallback func(Progress)

// ChunkStatus is the result of one chunk.
type ChunkStatus int

// Chunk states.
const (
	ChunkWritten ChunkStatus = iota
	ChunkVerified
	ChunkFailed
)

func (c ChunkStatus) String() string {
	switch c {
	case ChunkWritten:
		return "written"
	case ChunkVerified:
		return "verified"
	default:
		return "failed"
	}
}

// ChunkResult records what happened to one chunk.
type ChunkResult struct {
	Index   int
	Address uint32
	Length  int
	Status  ChunkStatus
	Err     error
}

// Report describes a flash run. It is returned even when Flash fails, and
// lists every chunk attempted so that the run can be resumed.
type Report struct {
	Base    uint32
	Length  int
	Offset  int
	Erase   []ErasePlan
	Chunks  []ChunkResult
	Entry   uint32
	Booted  bool
	State   State
	Elapsed time.Duration
}

// Written returns the number of image bytes acknowledged by the device,
// including those written by the run being resumed.
func (r *Report) Written() int {
	return r.NextOffset()
}

// NextOffset returns the image offset of the first chunk that was not
// written successfully.
func (r *Report) NextOffset() int {
	next := r.Offset
	for _, c := range r.Chunks {
		if c.Status == ChunkFailed {
			break
		}
		next += c.Length
	}
	return next
}

// Failed returns the chunk that stopped the run, if any.
func (r *Report) Failed() (ChunkResult, bool) {
	for _, c := range r.Chunks {
		if c.Status == ChunkFailed {
			return c, true
		}
	}
	return ChunkResult{}, false
}

// Complete reports whether the whole image was written.
func (r *Report) Complete() bool {
	return r.NextOffset() >= r.Length
}

// Chunk is one Write Memory worth of image data.
type Chunk struct {
	Index   int
	Address uint32
	Data    []byte
}

// chunker yields address ordered chunks of at most MaxPacketSize bytes.
type chunker struct {
	image  []byte
	base   uint32
	offset int
}

func (c *chunker) next() (Chunk, bool) {
	if c.offset >= len(c.image) {
		return Chunk{}, false
	}
	end := c.offset + MaxPacketSize
	if end > len(c.image) {
		end = len(c.image)
	}
	chunk := Chunk{
		Index:   c.offset / MaxPacketSize,
		Address: c.base + uint32(c.offset),
		Data:    c.image[c.offset:end],
	}
	c.offset = end
	return chunk, true
}

func chunkCount(length int) int {
	return (length + MaxPacketSize - 1) / MaxPacketSize
}

func padImage(image []byte, alignment int) []byte {
	if alignment <= 1 || len(image)%alignment == 0 {
		return image
	}
	padded := make([]byte, len(image), len(image)+alignment-len(image)%alignment)
	copy(padded, image)
	for len(padded)%alignment != 0 {
		padded = append(padded, 0xFF)
	}
	return padded
}

// Flash erases the range covered by image, writes it at base in 256-byte
// chunks under the retry policy and optionally verifies each chunk and
// starts the application. base must be a multiple of opts.Alignment and the
// image must fit opts.Layout; nothing is sent otherwise. The operation is not
// transactional: on failure the returned report lists the chunks that made
// it, and the device is left partially programmed. Cancellation is checked
// between chunks only.
func (s *Session) Flash(ctx context.Context, image []byte, base uint32, opts FlashOptions) (*Report, error) {
	start := time.Now()
	image = padImage(image, opts.Alignment)
	report := &Report{
		Base:   base,
		Length: len(image),
		Offset: opts.Offset,
		Entry:  base,
	}
	if opts.Entry != 0 {
		report.Entry = opts.Entry
	}
	defer func() {
		report.State = s.state
		report.Elapsed = time.Since(start)
	}()

	if err := (Region{Address: base, Length: len(image)}).Check("flash", opts.Alignment, opts.Layout); err != nil {
		return report, err
	}
	if opts.Offset < 0 || opts.Offset >= len(image) || opts.Offset%MaxPacketSize != 0 {
		return report, invalidArgument("flash", "offset %d is not a chunk boundary inside the image", opts.Offset)
	}

	if s.state == Synced {
		if _, err := s.Discover(); err != nil {
			return report, err
		}
	}
	if err := s.checkFlash(opts); err != nil {
		return report, err
	}

	if opts.Offset == 0 {
		plans, err := s.planErase(base, len(image), opts)
		if err != nil {
			return report, errors.Wrap(err, "plan erase")
		}
		for _, plan := range plans {
			if err := ctx.Err(); err != nil {
				return report, errors.Wrap(err, "flash cancelled")
			}
			s.reportProgress(opts, Progress{Phase: PhaseErasing, Total: len(image)})
			if err := s.Erase(plan); err != nil {
				return report, errors.Wrapf(err, "%v", plan)
			}
			report.Erase = append(report.Erase, plan)
		}
	}

	total := chunkCount(len(image))
	chunks := &chunker{image: image, base: base, offset: opts.Offset}
	for chunk, ok := chunks.next(); ok; chunk, ok = chunks.next() {
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, "flash cancelled")
		}

		result := ChunkResult{Index: chunk.Index, Address: chunk.Address, Length: len(chunk.Data)}
		err := s.writeChunk(chunk, opts.Verify)
		if err != nil {
			result.Status = ChunkFailed
			result.Err = err
			report.Chunks = append(report.Chunks, result)
			return report, &ChunkError{Index: chunk.Index, Address: chunk.Address, Err: err}
		}
		result.Status = ChunkWritten
		if opts.Verify {
			result.Status = ChunkVerified
		}
		report.Chunks = append(report.Chunks, result)

		s.reportProgress(opts, Progress{
			Phase:   PhaseWriting,
			Chunk:   chunk.Index + 1,
			Chunks:  total,
			Written: report.NextOffset(),
			Total:   len(image),
		})
	}
	pkgLog.Infof("wrote %d bytes at %08X", len(image)-opts.Offset, base+uint32(opts.Offset))

	if opts.Go {
		s.reportProgress(opts, Progress{Phase: PhaseBooting, Written: len(image), Total: len(image)})
		if err := s.Go(report.Entry); err != nil {
			return report, errors.Wrapf(err, "go %08X", report.Entry)
		}
		report.Booted = true
	}
	s.reportProgress(opts, Progress{Phase: PhaseComplete, Chunks: total, Chunk: total, Written: len(image), Total: len(image)})
	return report, nil
}

// checkFlash rejects a run the device cannot complete before anything is
// erased.
func (s *Session) checkFlash(opts FlashOptions) error {
	if s.state != Ready {
		if s.state == Booted {
			return ErrBooted
		}
		return errors.Wrapf(ErrNotReady, "cannot flash in state %v", s.state)
	}
	required := []Command{CmdWriteMemory}
	if opts.Verify {
		required = append(required, CmdReadMemory)
	}
	if opts.Go {
		required = append(required, CmdGo)
	}
	for _, cmd := range required {
		if !s.caps.Supports(cmd) {
			return &UnsupportedCommandError{Command: cmd}
		}
	}
	return nil
}

func (s *Session) writeChunk(chunk Chunk, verify bool) error {
	if err := s.WriteMemory(chunk.Address, chunk.Data); err != nil {
		return err
	}
	if !verify {
		return nil
	}
	data, err := s.ReadMemory(chunk.Address, len(chunk.Data))
	if err != nil {
		return errors.Wrap(err, "read back")
	}
	for i := range data {
		if data[i] != chunk.Data[i] {
			return &VerifyError{Address: chunk.Address + uint32(i), Expected: chunk.Data[i], Actual: data[i]}
		}
	}
	return nil
}

// planErase returns the erase commands covering [base, base+length).
func (s *Session) planErase(base uint32, length int, opts FlashOptions) ([]ErasePlan, error) {
	if opts.Erase == EraseNone {
		return nil, nil
	}
	extended := s.caps.Supports(CmdExtendedErase)
	if !extended && !s.caps.Supports(CmdErase) {
		return nil, &UnsupportedCommandError{Command: CmdErase}
	}
	if opts.Erase == EraseMass {
		return []ErasePlan{{Extended: extended, Mass: MassEraseGlobal}}, nil
	}

	layout, err := s.resolveLayout(opts.Layout)
	if err != nil {
		return nil, err
	}
	pages, err := layout.pages(base, length)
	if err != nil {
		return nil, err
	}

	batch := maxExtendedPages
	if !extended {
		batch = maxStandardPages
	}
	var plans []ErasePlan
	for len(pages) > 0 {
		n := len(pages)
		if n > batch {
			n = batch
		}
		plans = append(plans, ErasePlan{Extended: extended, Pages: pages[:n]})
		pages = pages[n:]
	}
	// Reject the whole range before the first batch is sent.
	for _, plan := range plans {
		if err := plan.validate(); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// resolveLayout fills in the page size from the device catalog when the
// caller did not give one.
func (s *Session) resolveLayout(layout Layout) (Layout, error) {
	if layout.PageSize != 0 {
		if layout.FlashBase == 0 {
			layout.FlashBase = defaultFlashBase
		}
		return layout, nil
	}
	if !s.caps.Supports(CmdGetID) {
		return layout, invalidArgument("erase", "page size unknown and device does not support %v", CmdGetID)
	}
	pid, err := s.GetID()
	if err != nil {
		return layout, errors.Wrap(err, "identify device")
	}
	dev, ok := LookupDevice(pid)
	if !ok {
		return layout, invalidArgument("erase", "page size unknown for product ID %03X, give a layout or use mass erase", pid)
	}
	pkgLog.Debugf("device %03X: %s, %d byte pages", pid, dev.Name, dev.PageSize)
	layout.PageSize = dev.PageSize
	if layout.FlashBase == 0 {
		layout.FlashBase = dev.FlashBase
	}
	return layout, nil
}

// pages returns the indices of the pages touched by [base, base+length).
func (l Layout) pages(base uint32, length int) ([]uint16, error) {
	region := Region{Address: base, Length: length}
	if err := region.Check("erase", 0, l); err != nil {
		return nil, err
	}
	end := region.End()
	first := uint64(base-l.FlashBase) / uint64(l.PageSize)
	last := (end - 1 - uint64(l.FlashBase)) / uint64(l.PageSize)
	if last > 0xFFFF {
		return nil, invalidArgument("erase", "page %d not addressable", last)
	}
	pages := make([]uint16, 0, last-first+1)
	for p := first; p <= last; p++ {
		pages = append(pages, uint16(p))
	}
	return pages, nil
}

func (s *Session) reportProgress(opts FlashOptions, p Progress) {
	if opts.Progress != nil {
		opts.Progress(p)
	}
}

// FlashImage flashes img at its base address. The image's start address is
// used as the entry point unless opts.Entry is set.
func (s *Session) FlashImage(ctx context.Context, img *Image, opts FlashOptions) (*Report, error) {
	if opts.Entry == 0 && img.HasEntry {
		opts.Entry = img.Entry
	}
	return s.Flash(ctx, img.Data, img.Base, opts)
}

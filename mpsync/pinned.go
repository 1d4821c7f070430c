package mpsync

// PinnedBuffer is a page-aligned host staging buffer: the slice a real
// device API would pin for DMA into/out of network payloads. This
// environment has no page-pinning syscall to call (no real device), but
// sizing staging allocations to a page multiple is still the relevant
// piece of API shape to reproduce, so Grow rounds up to pageSize
// (resolved per OS in pagesize_*.go).
type PinnedBuffer struct {
	data []byte
}

// NewPinnedBuffer allocates a staging buffer of at least size bytes,
// rounded up to a whole number of pages.
func NewPinnedBuffer(size int) *PinnedBuffer {
	b := &PinnedBuffer{}
	b.Grow(size)
	return b
}

// Grow ensures the buffer holds at least size bytes, reallocating (and
// rounding up to a page multiple) only if it must.
func (b *PinnedBuffer) Grow(size int) {
	if len(b.data) >= size {
		return
	}
	pages := (size + pageSize - 1) / pageSize
	b.data = make([]byte, pages*pageSize)
}

// Bytes returns the buffer's backing slice. Callers slice it down to the
// payload length they actually used.
func (b *PinnedBuffer) Bytes() []byte { return b.data }

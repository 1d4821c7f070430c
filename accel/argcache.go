package accel

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
)

// ArgCache is a shadow argument cache: setting a kernel argument on a
// real device is comparatively expensive, so a tool re-binds only the
// slots whose bytes changed since the last launch. It belongs to the
// tool (not the accelerator) and is only ever touched by the single
// pipeline thread, so it needs no internal synchronization beyond what
// its own mutex already gives it for safety against stray concurrent
// callers.
type ArgCache struct {
	mu   sync.Mutex
	last map[int][]byte
}

// NewArgCache creates an empty shadow cache.
func NewArgCache() *ArgCache {
	return &ArgCache{last: make(map[int][]byte)}
}

// SetIfChanged records val for slot and reports whether it differs from
// the previously cached value (slot never seen before counts as changed).
func (c *ArgCache) SetIfChanged(slot int, val []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.last[slot]
	if ok && bytes.Equal(prev, val) {
		return false
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	c.last[slot] = cp
	return true
}

// SetBufferIfChanged is SetIfChanged specialized for a buffer argument,
// keyed by the buffer's identity (its UUID bytes) so a reallocated
// buffer is detected as a change even though its contents aren't
// compared.
func (c *ArgCache) SetBufferIfChanged(slot int, buf *Buffer) bool {
	if buf == nil {
		return c.SetIfChanged(slot, nil)
	}
	id := buf.ID()
	return c.SetIfChanged(slot, id[:])
}

// SetFloat32IfChanged is SetIfChanged specialized for a float32 scalar.
func (c *ArgCache) SetFloat32IfChanged(slot int, v float32) bool {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return c.SetIfChanged(slot, b[:])
}

// SetUint32IfChanged is SetIfChanged specialized for a uint32/int scalar.
func (c *ArgCache) SetUint32IfChanged(slot int, v uint32) bool {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.SetIfChanged(slot, b[:])
}

package accel

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/google/uuid"
)

// Buffer is an opaque device buffer handle. Its backing storage stands in
// for device memory; callers interpret the bytes through the typed views
// below according to the variable's declared element type.
type Buffer struct {
	id   uuid.UUID
	mu   sync.RWMutex
	data []byte
}

func newBuffer(size uint64) *Buffer {
	return &Buffer{id: uuid.New(), data: make([]byte, size)}
}

// ID returns a stable identifier, useful for shadow-argument caches that
// need to detect that a kernel's bound buffer changed across calls.
func (b *Buffer) ID() uuid.UUID {
	return b.id
}

// Size reports the buffer's length in bytes.
func (b *Buffer) Size() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(len(b.data))
}

// Bytes returns a copy of the raw buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// WriteBytes overwrites len(src) bytes starting at offset.
func (b *Buffer) WriteBytes(offset uint64, src []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.data[offset:], src)
}

// ReadBytes copies len(dst) bytes starting at offset into dst.
func (b *Buffer) ReadBytes(offset uint64, dst []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	copy(dst, b.data[offset:offset+uint64(len(dst))])
}

// Float32 decodes the whole buffer as a little-endian float32 slice.
func (b *Buffer) Float32() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.data) / 4
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.data[i*4:]))
	}
	return out
}

// SetFloat32 encodes v into the buffer as little-endian float32 values.
func (b *Buffer) SetFloat32(v []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, f := range v {
		binary.LittleEndian.PutUint32(b.data[i*4:], math.Float32bits(f))
	}
}

// Float32At decodes the float32 at element index i.
func (b *Buffer) Float32At(i uint64) float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return math.Float32frombits(binary.LittleEndian.Uint32(b.data[i*4:]))
}

// SetFloat32At encodes v into the float32 slot at element index i.
func (b *Buffer) SetFloat32At(i uint64, v float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binary.LittleEndian.PutUint32(b.data[i*4:], math.Float32bits(v))
}

// Uint32At decodes the uint32 at element index i.
func (b *Buffer) Uint32At(i uint64) uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return binary.LittleEndian.Uint32(b.data[i*4:])
}

// SetUint32At encodes v into the uint32 slot at element index i.
func (b *Buffer) SetUint32At(i uint64, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binary.LittleEndian.PutUint32(b.data[i*4:], v)
}

// Int32At decodes the int32 at element index i.
func (b *Buffer) Int32At(i uint64) int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int32(binary.LittleEndian.Uint32(b.data[i*4:]))
}

// SetInt32At encodes v into the int32 slot at element index i.
func (b *Buffer) SetInt32At(i uint64, v int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binary.LittleEndian.PutUint32(b.data[i*4:], uint32(v))
}

// Uint32 decodes the whole buffer as a little-endian uint32 slice.
func (b *Buffer) Uint32() []uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.data) / 4
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b.data[i*4:])
	}
	return out
}

// SetUint32 encodes v into the buffer as little-endian uint32 values.
func (b *Buffer) SetUint32(v []uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, u := range v {
		binary.LittleEndian.PutUint32(b.data[i*4:], u)
	}
}

// Int32 decodes the whole buffer as a little-endian int32 slice.
func (b *Buffer) Int32() []int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.data) / 4
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b.data[i*4:]))
	}
	return out
}

// SetInt32 encodes v into the buffer as little-endian int32 values.
func (b *Buffer) SetInt32(v []int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range v {
		binary.LittleEndian.PutUint32(b.data[i*4:], uint32(n))
	}
}

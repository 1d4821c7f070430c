package registry

import (
	"sync"

	"github.com/sphforge/calcserver/accel"
)

// Variable is a named, typed cell in the registry: either scalar (value
// stored inline) or array (typed device buffer with known element
// count). Every variable tracks a writing event and a set of reading
// events, so a new write can be made to wait on every outstanding
// reader.
type Variable struct {
	Name string
	Type string

	info typeInfo

	IsArray       bool
	Reallocatable bool
	ElementCount  int
	Buffer        *accel.Buffer

	// Formula, if non-empty, is the expression last used to compute a
	// scalar variable's value; Populate uses it to recompute dependents
	// when an upstream variable changes.
	Formula string

	mu            sync.Mutex
	scalar        float64
	writingEvent  *accel.Event
	readingEvents map[*accel.Event]struct{}
}

// ElementSize is the per-element byte footprint.
func (v *Variable) ElementSize() int {
	return bytesFor(v.info)
}

// Components is the per-element component count.
func (v *Variable) Components() int {
	return componentsFor(v.info)
}

// Scalar returns the variable's inline scalar value. It is meaningless
// for array variables.
func (v *Variable) Scalar() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scalar
}

// SetScalar stores a new inline scalar value.
func (v *Variable) SetScalar(val float64) {
	v.mu.Lock()
	v.scalar = val
	v.mu.Unlock()
}

// WritingEvent returns the most recent event that mutates the
// variable's contents, or nil if it has never been written.
func (v *Variable) WritingEvent() *accel.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writingEvent
}

// ReadingEvents returns a snapshot of the outstanding reader events.
func (v *Variable) ReadingEvents() []*accel.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*accel.Event, 0, len(v.readingEvents))
	for e := range v.readingEvents {
		out = append(out, e)
	}
	return out
}

// publishWrite replaces the writing event and clears outstanding
// readers, since a write only proceeds after waiting on both.
func (v *Variable) publishWrite(e *accel.Event) {
	v.mu.Lock()
	v.writingEvent = e
	v.readingEvents = nil
	v.mu.Unlock()
}

// addReadingEvent registers e as a concurrent reader of v. Readers are
// shared: every read registers itself rather than replacing the set, so
// a subsequent write waits on all of them.
func (v *Variable) addReadingEvent(e *accel.Event) {
	v.mu.Lock()
	if v.readingEvents == nil {
		v.readingEvents = make(map[*accel.Event]struct{})
	}
	v.readingEvents[e] = struct{}{}
	v.mu.Unlock()
}

// setBuffer swaps the device buffer backing an array variable, used for
// the reallocatable-array path.
func (v *Variable) setBuffer(buf *accel.Buffer, elementCount int) {
	v.mu.Lock()
	v.Buffer = buf
	v.ElementCount = elementCount
	v.mu.Unlock()
}

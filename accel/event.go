package accel

import (
	"sync"

	"github.com/google/uuid"
)

// Status is one of an event's monotonic lifecycle states.
type Status int

const (
	StatusQueued Status = iota
	StatusSubmitted
	StatusRunning
	StatusComplete
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusSubmitted:
		return "submitted"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an opaque, reference-counted token with monotonic state
// transitions and host-side completion callbacks. A User Event is the
// same type, completed explicitly by host code via Complete/Fail instead
// of by a queue worker.
type Event struct {
	id uuid.UUID

	mu        sync.Mutex
	status    Status
	err       error
	refs      int
	done      chan struct{}
	callbacks []func(Status, error)
}

// NewEvent creates an event in the queued state with one implicit
// reference held by the caller.
func NewEvent() *Event {
	return &Event{
		id:     uuid.New(),
		status: StatusQueued,
		refs:   1,
		done:   make(chan struct{}),
	}
}

// NewUserEvent creates an event intended to be completed from host code
// rather than by a queue worker. It behaves identically to NewEvent; the
// distinction is purely in who calls Complete/Fail.
func NewUserEvent() *Event {
	return NewEvent()
}

// ID returns a stable identifier for logging and cache-key disambiguation.
func (e *Event) ID() uuid.UUID {
	return e.id
}

// Retain increments the reference count.
func (e *Event) Retain() {
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
}

// Release decrements the reference count. It never frees device state
// itself (the owning buffer/variable does that); it exists so wait-list
// bookkeeping mirrors a real accelerator API's retain/release discipline.
func (e *Event) Release() {
	e.mu.Lock()
	e.refs--
	e.mu.Unlock()
}

// setStatus performs a monotonic transition and fires any registered
// callbacks once the event reaches a terminal state.
func (e *Event) setStatus(status Status, err error) {
	e.mu.Lock()
	if e.status == StatusComplete || e.status == StatusError {
		e.mu.Unlock()
		return
	}
	e.status = status
	e.err = err
	terminal := status == StatusComplete || status == StatusError
	var cbs []func(Status, error)
	if terminal {
		cbs = append(cbs, e.callbacks...)
		close(e.done)
	}
	e.mu.Unlock()

	for _, cb := range cbs {
		cb(status, err)
	}
}

// Submit, Run, Complete and Fail drive the event through its lifecycle.
// Complete/Fail are also how user events are signalled from host code.
func (e *Event) Submit() { e.setStatus(StatusSubmitted, nil) }
func (e *Event) Run()    { e.setStatus(StatusRunning, nil) }
func (e *Event) Complete() {
	e.setStatus(StatusComplete, nil)
}
func (e *Event) Fail(err error) {
	e.setStatus(StatusError, err)
}

// OnComplete registers a host-side callback invoked once the event
// reaches a terminal state. If the event is already terminal, the
// callback runs synchronously and immediately.
func (e *Event) OnComplete(cb func(status Status, err error)) {
	e.mu.Lock()
	if e.status == StatusComplete || e.status == StatusError {
		status, err := e.status, e.err
		e.mu.Unlock()
		cb(status, err)
		return
	}
	e.callbacks = append(e.callbacks, cb)
	e.mu.Unlock()
}

// Wait blocks until the event reaches a terminal state and returns its
// error, if any.
func (e *Event) Wait() error {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// StatusNow reports the event's current state.
func (e *Event) StatusNow() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SyncUserEvent registers a callback on device that completes user with
// the same terminal status, bridging an asynchronous device event into a
// user event gate.
func SyncUserEvent(user, device *Event) {
	device.OnComplete(func(status Status, err error) {
		if status == StatusError {
			user.Fail(err)
			return
		}
		user.Complete()
	})
}

// DedupRetain de-duplicates a slice of events by identity, retains each
// survivor once, and returns the deduplicated slice. Tools use it to
// build a wait list from their declared dependencies without retaining
// the same event twice.
func DedupRetain(events []*Event) []*Event {
	seen := make(map[*Event]struct{}, len(events))
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		if e == nil {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		e.Retain()
		out = append(out, e)
	}
	return out
}

// ReleaseAll releases every event in the wait list.
func ReleaseAll(events []*Event) {
	for _, e := range events {
		e.Release()
	}
}

// WaitAll blocks on every event in the list and returns the first error
// encountered, continuing to drain the rest so no callback is orphaned.
func WaitAll(events []*Event) error {
	var first error
	for _, e := range events {
		if err := e.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

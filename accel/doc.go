// Package accel is the accelerator facade: a thin abstraction over an
// OpenCL-like compute API used by the calculation server. It models a
// context, one in-order command queue per logical stream, kernel
// compilation with a source-keyed cache, device buffers, and events with
// retain/release and host-side completion callbacks.
//
// There is no cgo device binding here. Kernel entry points are dispatched
// by name to Go implementations registered with RegisterKernel, the same
// way a real OpenCL runtime dispatches a compiled binary's entry point.
// Buffers are backed by host memory standing in for device memory; the
// facade still enforces the single in-order queue and event-ordering
// discipline described in the calculation server's concurrency model, so
// code written against it behaves the same way it would against a real
// device queue.
package accel

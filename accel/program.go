package accel

import (
	"sync"

	"github.com/google/uuid"
)

// KernelArg is one positional argument bound to a kernel launch: either a
// device buffer or an inline scalar value (int32/uint32/float32/int).
// Each entry point has a fixed argument order and set of names; callers
// are expected to pass them in that order.
type KernelArg struct {
	Buffer *Buffer
	Scalar any
}

// KernelFunc is the Go implementation standing in for a compiled device
// kernel. workSize is the number of work-items the launch was requested
// over (the accelerator facade doesn't interpret it, just threads it
// through for the implementation's own use). prog gives the
// implementation access to its own compile flags, so one registered
// entry point can specialize its behavior per Program (e.g. an
// operator name or a comparison predicate folded into Flags at compile
// time) without needing a distinct registration per variant.
type KernelFunc func(prog *Program, workSize int, args []KernelArg) error

var (
	kernelRegistryMu sync.RWMutex
	kernelRegistry   = map[string]KernelFunc{}
)

// RegisterKernel installs the Go implementation for a fixed kernel entry
// point name (e.g. "reduction", "iCell", "iHoc", "linkList", "n_mask",
// "set_mask"). Tool packages call this from an init() func, the same
// dispatch-by-name registration shape used elsewhere for pluggable
// backends: a package registers itself under a string key and the
// facade looks it up lazily at compile time instead of holding a
// compile-time import of every implementation.
func RegisterKernel(entryPoint string, fn KernelFunc) {
	kernelRegistryMu.Lock()
	defer kernelRegistryMu.Unlock()
	if _, exists := kernelRegistry[entryPoint]; exists {
		panic("accel: kernel already registered: " + entryPoint)
	}
	kernelRegistry[entryPoint] = fn
}

func lookupKernel(entryPoint string) (KernelFunc, bool) {
	kernelRegistryMu.RLock()
	defer kernelRegistryMu.RUnlock()
	fn, ok := kernelRegistry[entryPoint]
	return fn, ok
}

// programKey is the kernel compile cache key: source text, compile flags
// (which fold in macros such as -DHAVE_2D/3D, -DT=, -DLOCAL_WORK_SIZE=,
// or an operator/predicate name), and entry point.
type programKey struct {
	source     string
	flags      string
	entryPoint string
}

// Program is a compiled kernel, reused across tools/iterations that
// share the same (source, flags, entry point) triple.
type Program struct {
	id         uuid.UUID
	EntryPoint string
	Flags      string
	fn         KernelFunc
}

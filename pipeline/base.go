// Package pipeline implements the calculation server's tool base and
// execution loop: the wait-list collection, out-event publication, and
// per-tool wall-time profiling shared by every concrete tool, plus the
// ordered Pipeline driver itself.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/registry"
)

// ExecFunc is a tool's own per-tool work, given the already-deduplicated,
// already-retained wait list. Returning a nil event means the tool
// performed no asynchronous device work and its declared outputs are
// not updated.
type ExecFunc func(waitList []*accel.Event) (*accel.Event, error)

// Tool is the contract every concrete tool satisfies.
type Tool interface {
	Name() string
	Setup() error
	Execute() error
	Once() bool
	InputDeps() []string
	OutputDeps() []string
	Stats() Stats
}

// Stats holds a tool's wall-clock profiling counters.
type Stats struct {
	Last     time.Duration
	Avg      time.Duration
	Variance time.Duration
	Samples  int
}

const statsWindow = 64

// Base is an embeddable implementation of the generic tool driver: it
// gathers the wait list from declared dependencies, invokes the
// tool-specific ExecFunc, publishes the out-event, and records elapsed
// wall time. Concrete tools embed Base and call Run from their own
// Execute method, passing their own execute func as exec.
type Base struct {
	name    string
	once    bool
	inputs  []string
	outputs []string

	Registry *registry.Registry
	Log      *slog.Logger

	mu          sync.Mutex
	executed    bool
	allocBytes  uint64
	samples     []float64
	substages   map[string]*Substage
}

// NewBase constructs a Base for a tool named name with the given
// declared input/output variable names.
func NewBase(name string, once bool, inputs, outputs []string, reg *registry.Registry, log *slog.Logger) *Base {
	if log == nil {
		log = slog.Default()
	}
	return &Base{
		name:      name,
		once:      once,
		inputs:    inputs,
		outputs:   outputs,
		Registry:  reg,
		Log:       log,
		substages: make(map[string]*Substage),
	}
}

func (b *Base) Name() string       { return b.name }
func (b *Base) Once() bool         { return b.once }
func (b *Base) InputDeps() []string  { return b.inputs }
func (b *Base) OutputDeps() []string { return b.outputs }

// Stats reports the tool's last/avg/variance wall-time counters,
// computed over a bounded trailing window via gonum/stat.
func (b *Base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return Stats{}
	}
	last := b.samples[len(b.samples)-1]
	mean, variance := stat.MeanVariance(b.samples, nil)
	return Stats{
		Last:     time.Duration(last),
		Avg:      time.Duration(mean),
		Variance: time.Duration(variance),
		Samples:  len(b.samples),
	}
}

func (b *Base) recordElapsed(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, float64(d))
	if len(b.samples) > statsWindow {
		b.samples = b.samples[len(b.samples)-statsWindow:]
	}
}

// AllocatedBytes reports the tool's running device-allocation counter.
func (b *Base) AllocatedBytes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocBytes
}

// AddAllocatedBytes accumulates into the tool's allocation counter.
func (b *Base) AddAllocatedBytes(n uint64) {
	b.mu.Lock()
	b.allocBytes += n
	b.mu.Unlock()
}

// Run is the generic tool driver:
//
//  1. collect the wait list from each input's writing event (deduped,
//     retained); also wait on each output's writing event and
//     outstanding readers, since a write must not race a concurrent
//     reader — readers are tracked uniformly rather than dropped once a
//     new writer arrives;
//  2. invoke exec, the tool's own execute work;
//  3. publish the returned out-event as the new writing event on every
//     output, and register it as a reading event on every input that is
//     not also an output;
//  4. release the wait-list's retained tokens;
//  5. record wall-clock elapsed time.
//
// Once tools only run this once; subsequent calls are no-ops.
func (b *Base) Run(exec ExecFunc) error {
	b.mu.Lock()
	if b.once && b.executed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	start := time.Now()

	waitList, err := b.gatherWaitList()
	if err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}

	out, err := exec(waitList)
	if err != nil {
		accel.ReleaseAll(waitList)
		b.Log.Error("tool execute failed", "tool", b.name, "err", err)
		return fmt.Errorf("%s: %w", b.name, err)
	}

	if out != nil {
		outSet := toSet(b.outputs)
		for _, name := range b.outputs {
			if err := b.Registry.PublishWrite(name, out); err != nil {
				accel.ReleaseAll(waitList)
				return fmt.Errorf("%s: publish %q: %w", b.name, name, err)
			}
		}
		for _, name := range b.inputs {
			if outSet[name] {
				continue
			}
			if err := b.Registry.AddReadingEvent(name, out); err != nil {
				accel.ReleaseAll(waitList)
				return fmt.Errorf("%s: register reader %q: %w", b.name, name, err)
			}
		}
	}

	accel.ReleaseAll(waitList)

	b.mu.Lock()
	b.executed = true
	b.mu.Unlock()
	elapsed := time.Since(start)
	b.recordElapsed(elapsed)
	b.Log.Debug("tool executed", "tool", b.name, "elapsed", elapsed)
	return nil
}

func (b *Base) gatherWaitList() ([]*accel.Event, error) {
	var raw []*accel.Event
	for _, name := range b.inputs {
		v, err := b.Registry.MustGet(name)
		if err != nil {
			return nil, err
		}
		if we := v.WritingEvent(); we != nil {
			raw = append(raw, we)
		}
	}
	for _, name := range b.outputs {
		v, err := b.Registry.MustGet(name)
		if err != nil {
			return nil, err
		}
		if we := v.WritingEvent(); we != nil {
			raw = append(raw, we)
		}
		raw = append(raw, v.ReadingEvents()...)
	}
	return accel.DedupRetain(raw), nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

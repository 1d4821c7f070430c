package pipeline

import (
	"fmt"
	"log/slog"
)

// Pipeline is the ordered sequence of tools executed once per iteration.
// It owns its tools; the tool after t is reached through
// Pipeline.ToolAt(Pipeline.IndexOf(t)+1), and tools hold no pointer
// back into the Pipeline (which would make Tool and Pipeline a
// reference cycle).
type Pipeline struct {
	log   *slog.Logger
	tools []Tool

	current int
}

// New builds a Pipeline over tools in the given execution order.
func New(log *slog.Logger, tools ...Tool) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{log: log, tools: tools}
}

// Tools returns the pipeline's tool sequence.
func (p *Pipeline) Tools() []Tool { return p.tools }

// ToolAt returns the tool at index i, or nil if i is out of range.
// Together with IndexOf it resolves "the next tool" of a given tool
// (ToolAt(IndexOf(t)+1)) without the pipeline and its tools forming a
// reference cycle.
func (p *Pipeline) ToolAt(i int) Tool {
	if i < 0 || i >= len(p.tools) {
		return nil
	}
	return p.tools[i]
}

// IndexOf returns the index of tool t within the pipeline, or -1.
func (p *Pipeline) IndexOf(t Tool) int {
	for i, other := range p.tools {
		if other == t {
			return i
		}
	}
	return -1
}

// Setup resolves every tool's variable references and compiles its
// kernels, in pipeline order.
func (p *Pipeline) Setup() error {
	for _, t := range p.tools {
		if err := t.Setup(); err != nil {
			return fmt.Errorf("setup %s: %w", t.Name(), err)
		}
	}
	return nil
}

// Step executes one simulation iteration: every tool's Execute, in
// order (event-chain correctness between tools depends on this strict
// ordering). A fatal error from any tool terminates the step and is
// returned to the caller; that error is fatal to the whole run.
func (p *Pipeline) Step() error {
	for i, t := range p.tools {
		p.current = i
		if err := t.Execute(); err != nil {
			p.log.Error("tool execute failed", "tool", t.Name(), "index", i, "err", err)
			return fmt.Errorf("pipeline step: tool %q (index %d): %w", t.Name(), i, err)
		}
	}
	return nil
}

// CurrentIndex reports the index of the tool currently (or most
// recently) executing.
func (p *Pipeline) CurrentIndex() int { return p.current }

// Run drives n iterations by calling Step n times, stopping at the
// first error.
func (p *Pipeline) Run(n int) error {
	p.log.Info("pipeline run starting", "iterations", n, "tools", len(p.tools))
	for i := 0; i < n; i++ {
		if err := p.Step(); err != nil {
			return err
		}
	}
	p.log.Info("pipeline run complete", "iterations", n)
	return nil
}

package pipeline

import (
	"errors"
	"testing"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/registry"
)

var errTest = errors.New("boom")

// fakeTool is a minimal Tool used to exercise the generic driver without
// pulling in any concrete tool package.
type fakeTool struct {
	*Base
	exec  ExecFunc
	setup func() error
}

func (f *fakeTool) Setup() error {
	if f.setup != nil {
		return f.setup()
	}
	return nil
}

func (f *fakeTool) Execute() error { return f.Run(f.exec) }

func newFakeTool(name string, once bool, inputs, outputs []string, reg *registry.Registry, exec ExecFunc) *fakeTool {
	return &fakeTool{Base: NewBase(name, once, inputs, outputs, reg, nil), exec: exec}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	ctx := accel.NewContext(nil, 0)
	t.Cleanup(ctx.Close)
	return registry.New(ctx, 3, nil)
}

func TestRunPublishesOutEventOnOutputs(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Register("a", "float", "", "1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var ran bool
	tool := newFakeTool("producer", false, nil, []string{"a"}, reg, func(wait []*accel.Event) (*accel.Event, error) {
		ran = true
		e := accel.NewEvent()
		e.Complete()
		return e, nil
	})

	if err := tool.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !ran {
		t.Fatal("exec was not invoked")
	}
	if reg.Get("a").WritingEvent() == nil {
		t.Fatal("expected writing event to be published")
	}
}

func TestEventChainCorrectness(t *testing.T) {
	// For writer A then reader B of variable v, B's out-event must have
	// A's out-event in its wait list.
	reg := newTestRegistry(t)
	if _, err := reg.Register("v", "float", "", "0"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var seenWaitList []*accel.Event
	writer := newFakeTool("writer", false, nil, []string{"v"}, reg, func(wait []*accel.Event) (*accel.Event, error) {
		e := accel.NewEvent()
		e.Complete()
		return e, nil
	})
	reader := newFakeTool("reader", false, []string{"v"}, nil, reg, func(wait []*accel.Event) (*accel.Event, error) {
		seenWaitList = wait
		e := accel.NewEvent()
		e.Complete()
		return e, nil
	})

	if err := writer.Execute(); err != nil {
		t.Fatalf("writer.Execute() error = %v", err)
	}
	writerOut := reg.Get("v").WritingEvent()

	if err := reader.Execute(); err != nil {
		t.Fatalf("reader.Execute() error = %v", err)
	}

	found := false
	for _, e := range seenWaitList {
		if e == writerOut {
			found = true
		}
	}
	if !found {
		t.Fatal("reader's wait list did not include writer's out-event")
	}

	// The reader must also now be registered as v's reader.
	readers := reg.Get("v").ReadingEvents()
	if len(readers) != 1 {
		t.Fatalf("len(ReadingEvents()) = %d, want 1", len(readers))
	}
}

func TestOnceToolRunsExactlyOnce(t *testing.T) {
	reg := newTestRegistry(t)
	var calls int
	tool := newFakeTool("setup-only", true, nil, nil, reg, func(wait []*accel.Event) (*accel.Event, error) {
		calls++
		return nil, nil
	})

	for i := 0; i < 3; i++ {
		if err := tool.Execute(); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestPipelineStepRunsToolsInOrder(t *testing.T) {
	reg := newTestRegistry(t)
	var order []string
	mk := func(name string) Tool {
		return newFakeTool(name, false, nil, nil, reg, func(wait []*accel.Event) (*accel.Event, error) {
			order = append(order, name)
			return nil, nil
		})
	}
	p := New(nil, mk("a"), mk("b"), mk("c"))
	if err := p.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := p.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
}

func TestPipelineStepFailsFast(t *testing.T) {
	reg := newTestRegistry(t)
	boom := newFakeTool("boom", false, nil, nil, reg, func(wait []*accel.Event) (*accel.Event, error) {
		return nil, errTest
	})
	p := New(nil, boom)
	if err := p.Step(); err == nil {
		t.Fatal("expected Step() to propagate tool error")
	}
}

func TestSubstageRecordsElapsed(t *testing.T) {
	reg := newTestRegistry(t)
	tool := newFakeTool("t", false, nil, nil, reg, nil)
	s := tool.Substage("phase1")
	s.Begin()
	s.End()
	stats := s.Stats()
	if stats.Samples != 1 {
		t.Fatalf("Samples = %d, want 1", stats.Samples)
	}
}

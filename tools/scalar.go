package tools

import (
	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/calcerr"
	"github.com/sphforge/calcserver/pipeline"
	"github.com/sphforge/calcserver/registry"
)

// ScalarExpr recomputes a scalar variable from an expression over other
// registered scalars every time it runs, the way a spreadsheet cell
// recomputes from its formula. Unlike Variable.Formula (evaluated once
// at register time, then only recascaded through Populate), a
// ScalarExpr tool is scheduled in the pipeline like any other tool, so
// it can depend on array-derived scalars that change every iteration
// (a Reduction's output, for instance).
type ScalarExpr struct {
	*pipeline.Base

	reg    *registry.Registry
	output string
	expr   string
}

// NewScalarExpr builds a tool that writes expr's value into the scalar
// variable output on every Execute. inputs lists the scalar variables
// expr references, so the tool waits on their writing events before
// evaluating — Evaluate itself has no way to know which variables a
// text expression touches until it parses it, so the dependency must
// be declared up front for the wait list to be correct.
func NewScalarExpr(name, output, expr string, inputs []string, reg *registry.Registry) *ScalarExpr {
	return &ScalarExpr{
		Base:   pipeline.NewBase(name, false, inputs, []string{output}, reg, nil),
		reg:    reg,
		output: output,
		expr:   expr,
	}
}

func (t *ScalarExpr) Setup() error {
	_, err := t.reg.MustGet(t.output)
	return err
}

func (t *ScalarExpr) Execute() error {
	return t.Run(t.execute)
}

func (t *ScalarExpr) execute(waitList []*accel.Event) (*accel.Event, error) {
	if err := accel.WaitAll(waitList); err != nil {
		return nil, err
	}
	val, err := t.reg.Evaluate(t.expr)
	if err != nil {
		return nil, err
	}
	outVar, err := t.reg.MustGet(t.output)
	if err != nil {
		return nil, err
	}
	outVar.SetScalar(val)

	out := accel.NewEvent()
	out.Complete()
	if err := t.reg.Populate(outVar); err != nil {
		return nil, err
	}
	return out, nil
}

// SetScalar writes a fixed, host-supplied value into a scalar variable
// every time it runs. It exists alongside ScalarExpr for the common
// case of a host-driven control value (a timestep, a toggle) that
// isn't itself a function of other registered variables.
type SetScalar struct {
	*pipeline.Base

	reg    *registry.Registry
	output string
	value  float64
}

// NewSetScalar builds a tool that writes value into output on every
// Execute. Call SetValue to change the value between Step calls.
func NewSetScalar(name, output string, value float64, reg *registry.Registry) *SetScalar {
	return &SetScalar{
		Base:   pipeline.NewBase(name, false, nil, []string{output}, reg, nil),
		reg:    reg,
		output: output,
		value:  value,
	}
}

// SetValue changes the value this tool writes on its next Execute.
func (t *SetScalar) SetValue(v float64) {
	t.value = v
}

func (t *SetScalar) Setup() error {
	_, err := t.reg.MustGet(t.output)
	return err
}

func (t *SetScalar) Execute() error {
	return t.Run(t.execute)
}

func (t *SetScalar) execute(waitList []*accel.Event) (*accel.Event, error) {
	if err := accel.WaitAll(waitList); err != nil {
		return nil, err
	}
	outVar, err := t.reg.MustGet(t.output)
	if err != nil {
		return nil, err
	}
	outVar.SetScalar(t.value)

	out := accel.NewEvent()
	out.Complete()
	if err := t.reg.Populate(outVar); err != nil {
		return nil, err
	}
	return out, nil
}

// Assert evaluates a boolean expression every time it runs and fails
// the step with ErrAssertionFailed if the result is zero. It declares
// no outputs: it's a pure invariant check over its input variables.
type Assert struct {
	*pipeline.Base

	reg  *registry.Registry
	expr string
}

// NewAssert builds a tool that evaluates expr on every Execute and
// fails if the result is zero. inputs lists the scalar variables expr
// references, so the tool waits on their writing events like any other
// reader.
func NewAssert(name, expr string, inputs []string, reg *registry.Registry) *Assert {
	return &Assert{
		Base: pipeline.NewBase(name, false, inputs, nil, reg, nil),
		reg:  reg,
		expr: expr,
	}
}

func (t *Assert) Execute() error {
	return t.Run(t.execute)
}

func (t *Assert) execute(waitList []*accel.Event) (*accel.Event, error) {
	if err := accel.WaitAll(waitList); err != nil {
		return nil, err
	}
	val, err := t.reg.Evaluate(t.expr)
	if err != nil {
		return nil, err
	}
	if val == 0 {
		return nil, calcerr.ErrAssertionFailed
	}
	out := accel.NewEvent()
	out.Complete()
	return out, nil
}

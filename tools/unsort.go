package tools

import (
	"fmt"
	"strconv"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/pipeline"
	"github.com/sphforge/calcserver/registry"
)

func init() {
	accel.RegisterKernel("unsort", unsortKernel)
}

// unsortKernel emits args[0] (data) into args[2] (output) in the order
// given by the index array args[1], without mutating the source. The
// per-element byte width is folded into prog.Flags since data arrays
// hold elements of whatever width their registered type has, not just
// float32 words.
func unsortKernel(prog *accel.Program, workSize int, args []accel.KernelArg) error {
	if len(args) != 3 {
		return fmt.Errorf("unsort: expected 3 args, got %d", len(args))
	}
	widthStr, ok := flagValue(prog.Flags, "ELEMSIZE")
	if !ok {
		return fmt.Errorf("unsort: missing ELEMSIZE flag")
	}
	width, err := strconv.Atoi(widthStr)
	if err != nil || width <= 0 {
		return fmt.Errorf("unsort: bad ELEMSIZE flag %q", widthStr)
	}

	data, perm, out := args[0].Buffer, args[1].Buffer, args[2].Buffer
	elem := make([]byte, width)
	for i := 0; i < workSize; i++ {
		src := uint64(perm.Uint32At(uint64(i)))
		data.ReadBytes(src*uint64(width), elem)
		out.WriteBytes(uint64(i)*uint64(width), elem)
	}
	return nil
}

// Unsort materializes a field in permuted order: output[i] =
// data[perm[i]]. It is used to produce a field in cell-sorted order
// without disturbing the field's own storage, and reused by the
// multi-process Sync exchanger to build mask-sorted per-field copies
// ahead of sending contiguous ranges to remote peers.
type Unsort struct {
	*pipeline.Base

	ctx *accel.Context
	reg *registry.Registry

	data, perm, output string
	elemSize           int

	queue   *accel.Queue
	program *accel.Program
}

// NewUnsort builds a tool that writes data permuted by perm into
// output on every Execute.
func NewUnsort(name, data, perm, output string, reg *registry.Registry, ctx *accel.Context) *Unsort {
	return &Unsort{
		Base:   pipeline.NewBase(name, false, []string{data, perm}, []string{output}, reg, nil),
		ctx:    ctx,
		reg:    reg,
		data:   data,
		perm:   perm,
		output: output,
	}
}

func (u *Unsort) Setup() error {
	dataVar, err := u.reg.MustGet(u.data)
	if err != nil {
		return err
	}
	if _, err := u.reg.MustGet(u.perm); err != nil {
		return err
	}
	if _, err := u.reg.MustGet(u.output); err != nil {
		return err
	}
	u.elemSize = dataVar.ElementSize()
	prog, err := u.ctx.Compile("unsort", fmt.Sprintf("-DELEMSIZE=%d", u.elemSize), "unsort")
	if err != nil {
		return err
	}
	u.program = prog
	u.queue = u.ctx.Queue(u.Name())
	return nil
}

func (u *Unsort) Execute() error { return u.Run(u.execute) }

func (u *Unsort) execute(waitList []*accel.Event) (*accel.Event, error) {
	dataVar, err := u.reg.MustGet(u.data)
	if err != nil {
		return nil, err
	}
	permVar, err := u.reg.MustGet(u.perm)
	if err != nil {
		return nil, err
	}
	outVar, err := u.reg.MustGet(u.output)
	if err != nil {
		return nil, err
	}

	args := []accel.KernelArg{{Buffer: dataVar.Buffer}, {Buffer: permVar.Buffer}, {Buffer: outVar.Buffer}}
	out := u.ctx.EnqueueKernel(u.queue, u.program, permVar.ElementCount, args, waitList)
	return out, nil
}

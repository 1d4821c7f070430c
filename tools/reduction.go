package tools

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/pipeline"
	"github.com/sphforge/calcserver/registry"
)

// reductionLocalSize is the fixed work-group size each reduction pass
// folds under. A real device would query this from the compiled
// kernel's preferred work-group size multiple; the software backend
// has no such concept, so every pass shrinks the element count by this
// constant factor until one element remains.
const reductionLocalSize = 256

func init() {
	accel.RegisterKernel("reduction", reductionKernel)
}

// reductionKernel folds local runs of elements under the operator named
// in prog.Flags, writing one output element per run. Runs shorter than
// the local size are padded with the operator's identity value.
func reductionKernel(prog *accel.Program, workSize int, args []accel.KernelArg) error {
	if len(args) != 2 {
		return fmt.Errorf("reduction: expected 2 args, got %d", len(args))
	}
	opName, ok := flagValue(prog.Flags, "OP")
	if !ok {
		return fmt.Errorf("reduction: missing OP flag")
	}
	op, err := opByName(opName)
	if err != nil {
		return err
	}

	in := args[0].Buffer
	out := args[1].Buffer
	n := in.Size() / 4
	groups := (n + reductionLocalSize - 1) / reductionLocalSize

	for g := uint64(0); g < groups; g++ {
		acc := op.Identity
		start := g * reductionLocalSize
		end := start + reductionLocalSize
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			acc = op.Apply(acc, in.Float32At(i))
		}
		out.SetFloat32At(g, acc)
	}
	return nil
}

func flagValue(flags, key string) (string, bool) {
	prefix := "-D" + key + "="
	for i := 0; i+len(prefix) <= len(flags); i++ {
		if flags[i:i+len(prefix)] == prefix {
			j := i + len(prefix)
			for j < len(flags) && flags[j] != ' ' {
				j++
			}
			return flags[i+len(prefix) : j], true
		}
	}
	return "", false
}

// Reduction folds an array variable down to a single scalar under an
// associative operator, by repeated passes that each shrink the element
// count by a factor of reductionLocalSize until one element remains (a
// parallel tree reduction). LinkList derives the bounding min/max it
// needs to size its cell grid with the same Op fold (foldFloat32), not
// through this tool.
type Reduction struct {
	*pipeline.Base

	ctx *accel.Context
	reg *registry.Registry

	input  string
	output string
	op     Op

	queue   *accel.Queue
	program *accel.Program

	passSizes []int
	passBufs  []*accel.Buffer // passBufs[0] is never owned by Reduction; it is the input's own buffer
}

// NewReduction builds a Reduction tool that folds the array variable
// input into the scalar variable output under op.
func NewReduction(name string, input, output string, op Op, reg *registry.Registry, ctx *accel.Context) *Reduction {
	return &Reduction{
		Base:   pipeline.NewBase(name, false, []string{input}, []string{output}, reg, nil),
		ctx:    ctx,
		reg:    reg,
		input:  input,
		output: output,
		op:     op,
	}
}

func (r *Reduction) Setup() error {
	if _, err := r.reg.MustGet(r.input); err != nil {
		return err
	}
	if _, err := r.reg.MustGet(r.output); err != nil {
		return err
	}
	prog, err := r.ctx.Compile("reduction", "-DOP="+r.op.Name, "reduction")
	if err != nil {
		return err
	}
	r.program = prog
	r.queue = r.ctx.Queue(r.Name())
	return nil
}

// passPlan returns the element count feeding into each fold pass (not
// including the final single-element result), shrinking by
// reductionLocalSize on every pass until one element remains. An
// already-scalar input (n<=1) needs no passes at all.
func passPlan(n int) []int {
	var sizes []int
	for n > 1 {
		sizes = append(sizes, n)
		n = (n + reductionLocalSize - 1) / reductionLocalSize
	}
	return sizes
}

// refreshBuffers rebuilds the intermediate pass buffers if the input's
// element count (or buffer identity, after a reallocation) no longer
// matches the cached plan, freeing the buffers it replaces. There is
// one buffer per pass boundary: bufs[0] is the input's own buffer,
// bufs[i] for i>0 holds pass i-1's output, and the last is the single
// folded element.
func (r *Reduction) refreshBuffers(inVar *registry.Variable) error {
	sizes := passPlan(inVar.ElementCount)
	if len(sizes) == len(r.passSizes) && len(r.passBufs) > 0 && r.passBufs[0] == inVar.Buffer {
		same := true
		for i, n := range sizes {
			if n != r.passSizes[i] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}

	if len(r.passBufs) > 1 {
		for _, old := range r.passBufs[1:] {
			r.ctx.FreeBuffer(old)
		}
	}

	bufs := make([]*accel.Buffer, len(sizes)+1)
	bufs[0] = inVar.Buffer
	for i, n := range sizes {
		outCount := (n + reductionLocalSize - 1) / reductionLocalSize
		buf, err := r.ctx.AllocBuffer(uint64(outCount) * 4)
		if err != nil {
			return err
		}
		r.AddAllocatedBytes(uint64(outCount) * 4)
		bufs[i+1] = buf
	}
	r.passSizes = sizes
	r.passBufs = bufs
	return nil
}

func (r *Reduction) Execute() error {
	return r.Run(r.execute)
}

func (r *Reduction) execute(waitList []*accel.Event) (*accel.Event, error) {
	inVar, err := r.reg.MustGet(r.input)
	if err != nil {
		return nil, err
	}
	outVar, err := r.reg.MustGet(r.output)
	if err != nil {
		return nil, err
	}

	if err := r.refreshBuffers(inVar); err != nil {
		return nil, err
	}
	sizes, bufs := r.passSizes, r.passBufs

	prev := waitList
	var last *accel.Event
	for i, n := range sizes {
		args := []accel.KernelArg{{Buffer: bufs[i]}, {Buffer: bufs[i+1]}}
		last = r.ctx.EnqueueKernel(r.queue, r.program, n, args, prev)
		prev = []*accel.Event{last}
	}

	final := bufs[len(bufs)-1]

	var hostVal [4]byte
	readEvt, err := r.ctx.EnqueueRead(r.queue, final, 0, hostVal[:], prev, true)
	if err != nil {
		return nil, err
	}
	if err := readEvt.Wait(); err != nil {
		return nil, err
	}
	result := float64(math.Float32frombits(binary.LittleEndian.Uint32(hostVal[:])))
	outVar.SetScalar(result)

	user := accel.NewUserEvent()
	if err := r.reg.Populate(outVar); err != nil {
		return nil, err
	}
	user.Complete()

	marker := accel.NewEvent()
	accel.SyncUserEvent(marker, user)
	return marker, nil
}

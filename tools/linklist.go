package tools

import (
	"fmt"
	"math"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/calcerr"
	"github.com/sphforge/calcserver/pipeline"
	"github.com/sphforge/calcserver/registry"
)

// EmptyCell is the sentinel ihoc/next value meaning "no particle".
const EmptyCell = ^uint32(0)

// cellGuard is the number of guard cells padded onto each axis on both
// sides of the occupied domain (3 per side, 6 total), so a particle
// right at the domain boundary never indexes outside the grid.
const cellGuard = 6
const cellGuardPerSide = cellGuard / 2

func init() {
	accel.RegisterKernel("iCell", icellKernel)
	accel.RegisterKernel("iHoc", ihocKernel)
	accel.RegisterKernel("linkList", linkListKernel)
}

// icellKernel fills args[1] (icell, uint32 per particle) from args[0]
// (positions, dims-or-fewer float components per particle, possibly
// padded to a wider vector) using the cell-grid origin and edge folded
// into the trailing scalar args: rMinX, rMinY, rMinZ, edge, nx, ny, nz,
// dims, stride.
func icellKernel(prog *accel.Program, workSize int, args []accel.KernelArg) error {
	if len(args) != 11 {
		return fmt.Errorf("iCell: expected 11 args, got %d", len(args))
	}
	r, icell := args[0].Buffer, args[1].Buffer
	rMin := [3]float32{args[2].Scalar.(float32), args[3].Scalar.(float32), args[4].Scalar.(float32)}
	edge := args[5].Scalar.(float32)
	nCells := [3]int32{args[6].Scalar.(int32), args[7].Scalar.(int32), args[8].Scalar.(int32)}
	dims := int(args[9].Scalar.(int32))
	stride := int(args[10].Scalar.(int32))

	for i := 0; i < workSize; i++ {
		var axis [3]int32
		for d := 0; d < dims; d++ {
			comp := r.Float32At(uint64(i)*uint64(stride) + uint64(d))
			axis[d] = int32(math.Floor(float64((comp-rMin[d])/edge))) + cellGuardPerSide
		}
		cell := uint32(axis[0])
		if dims > 1 {
			cell += uint32(nCells[0]) * uint32(axis[1])
		}
		if dims > 2 {
			cell += uint32(nCells[0]) * uint32(nCells[1]) * uint32(axis[2])
		}
		icell.SetUint32At(uint64(i), cell)
	}
	return nil
}

// ihocKernel scans the sorted cell-index array args[0] once, recording
// in args[1] (ihoc, length args[2] = n_cells.total) the first sorted
// position at which each cell value appears; cells that never appear
// keep the EmptyCell sentinel.
func ihocKernel(prog *accel.Program, workSize int, args []accel.KernelArg) error {
	if len(args) != 3 {
		return fmt.Errorf("iHoc: expected 3 args, got %d", len(args))
	}
	sorted, ihoc := args[0].Buffer, args[1].Buffer
	n := workSize

	total := int(args[2].Scalar.(int32))
	for c := 0; c < total; c++ {
		ihoc.SetUint32At(uint64(c), EmptyCell)
	}

	last := int64(-1)
	for i := 0; i < n; i++ {
		c := sorted.Uint32At(uint64(i))
		if int64(c) != last {
			ihoc.SetUint32At(uint64(c), uint32(i))
			last = int64(c)
		}
	}
	return nil
}

// linkListKernel builds the next-pointer chain over sorted order:
// next[i] points at the following sorted index sharing the same cell,
// or EmptyCell if i is the last particle of its cell. Walking from
// ihoc[c] through next therefore visits every particle in cell c.
func linkListKernel(prog *accel.Program, workSize int, args []accel.KernelArg) error {
	if len(args) != 2 {
		return fmt.Errorf("linkList: expected 2 args, got %d", len(args))
	}
	sorted, next := args[0].Buffer, args[1].Buffer
	n := workSize
	for i := 0; i < n; i++ {
		if i+1 < n && sorted.Uint32At(uint64(i+1)) == sorted.Uint32At(uint64(i)) {
			next.SetUint32At(uint64(i), uint32(i+1))
		} else {
			next.SetUint32At(uint64(i), EmptyCell)
		}
	}
	return nil
}

// LinkList is the spatial neighbour-search core: given particle
// positions, it produces the per-particle cell index, the head-of-cell
// table, and a linked traversal order for iterating a cell's particles.
// One execute runs, in order: an axis-wise min/max fold (the two
// Reduction sub-tools, inlined via the same Op abstraction Reduction
// uses rather than nested pipeline.Tool instances, since the axis
// buffers are LinkList's own scratch space and never need a registry
// event of their own), cell-grid sizing with ihoc reallocation, iCell,
// a radix sort of the cell indices, iHoc, and linkList.
type LinkList struct {
	*pipeline.Base

	ctx *accel.Context
	reg *registry.Registry

	positions, support, h string
	icell, ihoc           string
	sortedToOriginal       string
	originalToSorted       string
	next                   string

	nCellsName string

	queue                              *accel.Queue
	icellProgram, ihocProgram, linkProgram, radixProgram *accel.Program

	axisScratch [3][]float32
}

// NewLinkList builds a LinkList tool. positions is a vec-typed array
// variable; support and h are scalar variables whose product is the
// cell edge length. icell, ihoc, sortedToOriginal, originalToSorted
// and next are array variables this tool writes; ihoc is made
// reallocatable at Setup since the cell grid can grow.
func NewLinkList(name, positions, support, h, icell, ihoc, sortedToOriginal, originalToSorted, next string, reg *registry.Registry, ctx *accel.Context) *LinkList {
	return &LinkList{
		Base: pipeline.NewBase(name, false,
			[]string{positions, support, h},
			[]string{icell, ihoc, sortedToOriginal, originalToSorted, next}, reg, nil),
		ctx:              ctx,
		reg:              reg,
		positions:        positions,
		support:          support,
		h:                h,
		icell:            icell,
		ihoc:             ihoc,
		sortedToOriginal: sortedToOriginal,
		originalToSorted: originalToSorted,
		next:             next,
		nCellsName:       name + "__n_cells",
	}
}

func (l *LinkList) Setup() error {
	posVar, err := l.reg.MustGet(l.positions)
	if err != nil {
		return err
	}
	if !posVar.IsArray {
		return fmt.Errorf("link-list %q: positions %q: %w", l.Name(), l.positions, calcerr.ErrInvalidVariableType)
	}
	for _, name := range []string{l.support, l.h, l.icell, l.ihoc, l.sortedToOriginal, l.originalToSorted, l.next} {
		if _, err := l.reg.MustGet(name); err != nil {
			return err
		}
	}
	if l.reg.Get(l.nCellsName) == nil {
		if _, err := l.reg.Register(l.nCellsName, "unsigned int*", "4", ""); err != nil {
			return err
		}
	}
	if err := l.reg.SetReallocatable(l.ihoc); err != nil {
		return err
	}

	var err2 error
	if l.icellProgram, err2 = l.ctx.Compile("iCell", "", "iCell"); err2 != nil {
		return err2
	}
	if l.ihocProgram, err2 = l.ctx.Compile("iHoc", "", "iHoc"); err2 != nil {
		return err2
	}
	if l.linkProgram, err2 = l.ctx.Compile("linkList", "", "linkList"); err2 != nil {
		return err2
	}
	if l.radixProgram, err2 = l.ctx.Compile("radixsort", "", "radixsort"); err2 != nil {
		return err2
	}
	l.queue = l.ctx.Queue(l.Name())
	return nil
}

func (l *LinkList) Execute() error { return l.Run(l.execute) }

func (l *LinkList) execute(waitList []*accel.Event) (*accel.Event, error) {
	if err := accel.WaitAll(waitList); err != nil {
		return nil, err
	}

	posVar, err := l.reg.MustGet(l.positions)
	if err != nil {
		return nil, err
	}
	dims := l.reg.Dims()
	stride := posVar.Components()
	n := posVar.ElementCount

	var rMin, rMax [3]float32
	for d := 0; d < dims; d++ {
		axis := l.axisBuffer(d, n)
		for i := 0; i < n; i++ {
			axis[i] = posVar.Buffer.Float32At(uint64(i)*uint64(stride) + uint64(d))
		}
		rMin[d] = foldFloat32(axis, OpMin)
		rMax[d] = foldFloat32(axis, OpMax)
	}

	supportVar, err := l.reg.MustGet(l.support)
	if err != nil {
		return nil, err
	}
	hVar, err := l.reg.MustGet(l.h)
	if err != nil {
		return nil, err
	}
	edge := float32(supportVar.Scalar() * hVar.Scalar())
	if edge == 0 {
		return nil, fmt.Errorf("link-list %q: %w", l.Name(), calcerr.ErrZeroCellEdge)
	}

	var nCells [3]int32
	total := int32(1)
	for d := 0; d < dims; d++ {
		nCells[d] = int32(math.Ceil(float64((rMax[d]-rMin[d])/edge))) + cellGuard
		total *= nCells[d]
	}
	for d := dims; d < 3; d++ {
		nCells[d] = 1
	}

	nCellsVar, err := l.reg.MustGet(l.nCellsName)
	if err != nil {
		return nil, err
	}
	for d := 0; d < 3; d++ {
		nCellsVar.Buffer.SetUint32At(uint64(d), uint32(nCells[d]))
	}
	nCellsVar.Buffer.SetUint32At(3, uint32(total))

	ihocVar, err := l.reg.MustGet(l.ihoc)
	if err != nil {
		return nil, err
	}
	if ihocVar.ElementCount < int(total) {
		if err := l.reg.Reallocate(l.ihoc, int(total)); err != nil {
			return nil, err
		}
		ihocVar, err = l.reg.MustGet(l.ihoc)
		if err != nil {
			return nil, err
		}
	}

	icellVar, err := l.reg.MustGet(l.icell)
	if err != nil {
		return nil, err
	}
	icellArgs := []accel.KernelArg{
		{Buffer: posVar.Buffer}, {Buffer: icellVar.Buffer},
		{Scalar: rMin[0]}, {Scalar: rMin[1]}, {Scalar: rMin[2]},
		{Scalar: edge},
		{Scalar: nCells[0]}, {Scalar: nCells[1]}, {Scalar: nCells[2]},
		{Scalar: int32(dims)}, {Scalar: int32(stride)},
	}
	icellEvt := l.ctx.EnqueueKernel(l.queue, l.icellProgram, n, icellArgs, nil)

	sortedToOrigVar, err := l.reg.MustGet(l.sortedToOriginal)
	if err != nil {
		return nil, err
	}
	origToSortedVar, err := l.reg.MustGet(l.originalToSorted)
	if err != nil {
		return nil, err
	}
	sortedIcellVar, err := l.sortedIcellVar(n)
	if err != nil {
		return nil, err
	}
	radixArgs := []accel.KernelArg{
		{Buffer: icellVar.Buffer}, {Buffer: sortedIcellVar.Buffer},
		{Buffer: sortedToOrigVar.Buffer}, {Buffer: origToSortedVar.Buffer},
	}
	sortEvt := l.ctx.EnqueueKernel(l.queue, l.radixProgram, n, radixArgs, []*accel.Event{icellEvt})

	ihocArgs := []accel.KernelArg{
		{Buffer: sortedIcellVar.Buffer}, {Buffer: ihocVar.Buffer}, {Scalar: total},
	}
	ihocEvt := l.ctx.EnqueueKernel(l.queue, l.ihocProgram, n, ihocArgs, []*accel.Event{sortEvt})

	nextVar, err := l.reg.MustGet(l.next)
	if err != nil {
		return nil, err
	}
	linkArgs := []accel.KernelArg{{Buffer: sortedIcellVar.Buffer}, {Buffer: nextVar.Buffer}}
	linkEvt := l.ctx.EnqueueKernel(l.queue, l.linkProgram, n, linkArgs, []*accel.Event{ihocEvt})

	if err := l.reg.Populate(nCellsVar); err != nil {
		return nil, err
	}
	return linkEvt, nil
}

// axisBuffer returns (allocating/growing on demand) the host scratch
// slice used to extract one axis of the position array for folding.
func (l *LinkList) axisBuffer(axis, n int) []float32 {
	if len(l.axisScratch[axis]) < n {
		l.axisScratch[axis] = make([]float32, n)
	}
	return l.axisScratch[axis][:n]
}

// sortedIcellVar lazily registers the internal array variable holding
// the radix sort's sorted cell-index output, growing it to at least n
// elements if it already exists but is now too small.
func (l *LinkList) sortedIcellVar(n int) (*registry.Variable, error) {
	name := l.Name() + "__sorted_icell"
	v := l.reg.Get(name)
	if v == nil {
		nv, err := l.reg.Register(name, "unsigned int*", fmt.Sprint(n), "")
		if err != nil {
			return nil, err
		}
		if err := l.reg.SetReallocatable(name); err != nil {
			return nil, err
		}
		return nv, nil
	}
	if v.ElementCount < n {
		if err := l.reg.Reallocate(name, n); err != nil {
			return nil, err
		}
		return l.reg.MustGet(name)
	}
	return v, nil
}

package tools

import (
	"fmt"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/pipeline"
	"github.com/sphforge/calcserver/registry"
)

const radixDigitBits = 8

func init() {
	accel.RegisterKernel("radixsort", radixsortKernel)
}

// radixsortKernel is an LSD radix sort over the uint32 keys in args[0],
// 8 bits per digit over 4 passes (a stand-in for the counting-sort
// histogram pass a real device kernel would run per digit). It writes
// the sorted keys to args[1], the sorted-to-original index permutation
// to args[2], and the original-to-sorted inverse to args[3]. Each pass
// is a stable counting sort, so equal keys keep their original relative
// order.
func radixsortKernel(prog *accel.Program, workSize int, args []accel.KernelArg) error {
	if len(args) != 4 {
		return fmt.Errorf("radixsort: expected 4 args, got %d", len(args))
	}
	keysBuf, sortedBuf, sortedToOrig, origToSorted := args[0].Buffer, args[1].Buffer, args[2].Buffer, args[3].Buffer

	n := workSize
	keys := make([]uint32, n)
	idx := make([]uint32, n)
	for i := 0; i < n; i++ {
		keys[i] = keysBuf.Uint32At(uint64(i))
		idx[i] = uint32(i)
	}

	const buckets = 1 << radixDigitBits
	tmpKeys := make([]uint32, n)
	tmpIdx := make([]uint32, n)
	for shift := uint(0); shift < 32; shift += radixDigitBits {
		var count [buckets + 1]int
		for _, k := range keys {
			count[((k>>shift)&(buckets-1))+1]++
		}
		for b := 0; b < buckets; b++ {
			count[b+1] += count[b]
		}
		for i := 0; i < n; i++ {
			d := (keys[i] >> shift) & (buckets - 1)
			pos := count[d]
			count[d]++
			tmpKeys[pos] = keys[i]
			tmpIdx[pos] = idx[i]
		}
		keys, tmpKeys = tmpKeys, keys
		idx, tmpIdx = tmpIdx, idx
	}

	for i := 0; i < n; i++ {
		sortedBuf.SetUint32At(uint64(i), keys[i])
		sortedToOrig.SetUint32At(uint64(i), idx[i])
		origToSorted.SetUint32At(uint64(idx[i]), uint32(i))
	}
	return nil
}

// RadixSort sorts an integer key array, publishing the sorted keys plus
// both permutations: sortedToOriginal maps a sorted index to the
// original index that landed there, originalToSorted is its inverse.
// Particles are bucketed by cell index this way ahead of a neighbour
// search.
type RadixSort struct {
	*pipeline.Base

	ctx *accel.Context
	reg *registry.Registry

	keys, sortedKeys, sortedToOriginal, originalToSorted string

	queue   *accel.Queue
	program *accel.Program
}

// NewRadixSort builds a tool that sorts the array variable keys into
// sortedKeys, publishing the two permutation arrays alongside it.
func NewRadixSort(name, keys, sortedKeys, sortedToOriginal, originalToSorted string, reg *registry.Registry, ctx *accel.Context) *RadixSort {
	return &RadixSort{
		Base: pipeline.NewBase(name, false, []string{keys},
			[]string{sortedKeys, sortedToOriginal, originalToSorted}, reg, nil),
		ctx:              ctx,
		reg:              reg,
		keys:             keys,
		sortedKeys:       sortedKeys,
		sortedToOriginal: sortedToOriginal,
		originalToSorted: originalToSorted,
	}
}

func (s *RadixSort) Setup() error {
	for _, name := range []string{s.keys, s.sortedKeys, s.sortedToOriginal, s.originalToSorted} {
		if _, err := s.reg.MustGet(name); err != nil {
			return err
		}
	}
	prog, err := s.ctx.Compile("radixsort", "", "radixsort")
	if err != nil {
		return err
	}
	s.program = prog
	s.queue = s.ctx.Queue(s.Name())
	return nil
}

func (s *RadixSort) Execute() error { return s.Run(s.execute) }

func (s *RadixSort) execute(waitList []*accel.Event) (*accel.Event, error) {
	keysVar, err := s.reg.MustGet(s.keys)
	if err != nil {
		return nil, err
	}
	sortedVar, err := s.reg.MustGet(s.sortedKeys)
	if err != nil {
		return nil, err
	}
	sortedToOrigVar, err := s.reg.MustGet(s.sortedToOriginal)
	if err != nil {
		return nil, err
	}
	origToSortedVar, err := s.reg.MustGet(s.originalToSorted)
	if err != nil {
		return nil, err
	}

	args := []accel.KernelArg{
		{Buffer: keysVar.Buffer},
		{Buffer: sortedVar.Buffer},
		{Buffer: sortedToOrigVar.Buffer},
		{Buffer: origToSortedVar.Buffer},
	}
	out := s.ctx.EnqueueKernel(s.queue, s.program, keysVar.ElementCount, args, waitList)
	return out, nil
}

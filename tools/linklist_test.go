package tools

import (
	"fmt"
	"testing"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/registry"
)

func TestRadixSortSortsAndPermutes(t *testing.T) {
	reg, ctx := newTestSetup(t)

	keys, err := reg.Register("keys", "unsigned int*", "5", "")
	if err != nil {
		t.Fatalf("Register(keys) error = %v", err)
	}
	keys.Buffer.SetUint32([]uint32{5, 5, 2, 5, 2})

	for _, name := range []string{"sorted", "sorted_to_orig", "orig_to_sorted"} {
		if _, err := reg.Register(name, "unsigned int*", "5", ""); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	tool := NewRadixSort("sort_keys", "keys", "sorted", "sorted_to_orig", "orig_to_sorted", reg, ctx)
	if err := tool.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := tool.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := reg.Get("sorted").WritingEvent().Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	gotSorted := reg.Get("sorted").Buffer.Uint32()
	want := []uint32{2, 2, 5, 5, 5}
	for i := range want {
		if gotSorted[i] != want[i] {
			t.Fatalf("sorted = %v, want %v", gotSorted, want)
		}
	}

	origKeys := keys.Buffer.Uint32()
	sortedToOrig := reg.Get("sorted_to_orig").Buffer.Uint32()
	origToSorted := reg.Get("orig_to_sorted").Buffer.Uint32()
	for sortedIdx, origIdx := range sortedToOrig {
		if origToSorted[origIdx] != uint32(sortedIdx) {
			t.Fatalf("permutation inconsistency at sorted index %d", sortedIdx)
		}
		if origKeys[origIdx] != gotSorted[sortedIdx] {
			t.Fatalf("sorted[%d]=%d does not match keys[%d]=%d", sortedIdx, gotSorted[sortedIdx], origIdx, origKeys[origIdx])
		}
	}
}

func TestUnsortAppliesPermutation(t *testing.T) {
	reg, ctx := newTestSetup(t)

	data, err := reg.Register("field", "float*", "4", "")
	if err != nil {
		t.Fatalf("Register(field) error = %v", err)
	}
	data.Buffer.SetFloat32([]float32{10, 20, 30, 40})

	perm, err := reg.Register("perm", "unsigned int*", "4", "")
	if err != nil {
		t.Fatalf("Register(perm) error = %v", err)
	}
	perm.Buffer.SetUint32([]uint32{3, 1, 0, 2})

	if _, err := reg.Register("field_sorted", "float*", "4", ""); err != nil {
		t.Fatalf("Register(field_sorted) error = %v", err)
	}

	tool := NewUnsort("unsort_field", "field", "perm", "field_sorted", reg, ctx)
	if err := tool.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := tool.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := reg.Get("field_sorted").WritingEvent().Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	got := reg.Get("field_sorted").Buffer.Float32()
	want := []float32{40, 20, 10, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("field_sorted = %v, want %v", got, want)
		}
	}
	if data.Buffer.Float32()[0] != 10 {
		t.Fatal("unsort must not mutate its source")
	}
}

// TestLinkListCellAssignmentAndHeadOfCell exercises the radixsort/iHoc/
// linkList kernels directly over a fixed cell-index fixture, matching
// the documented link-list scenario: particles at cells [5,5,2,5,2]
// sort to [2,2,5,5,5] with n_cells.total=8, giving ihoc[2]=0, ihoc[5]=2.
func TestLinkListCellAssignmentAndHeadOfCell(t *testing.T) {
	_, ctx := newTestSetup(t)

	radixProg, err := ctx.Compile("radixsort", "", "radixsort")
	if err != nil {
		t.Fatalf("compile radixsort error = %v", err)
	}
	ihocProg, err := ctx.Compile("iHoc", "", "iHoc")
	if err != nil {
		t.Fatalf("compile iHoc error = %v", err)
	}
	linkProg, err := ctx.Compile("linkList", "", "linkList")
	if err != nil {
		t.Fatalf("compile linkList error = %v", err)
	}

	icell, err := ctx.AllocBuffer(5 * 4)
	if err != nil {
		t.Fatal(err)
	}
	icell.SetUint32([]uint32{5, 5, 2, 5, 2})
	sorted, _ := ctx.AllocBuffer(5 * 4)
	sortedToOrig, _ := ctx.AllocBuffer(5 * 4)
	origToSorted, _ := ctx.AllocBuffer(5 * 4)
	ihoc, _ := ctx.AllocBuffer(8 * 4)
	next, _ := ctx.AllocBuffer(5 * 4)

	q := ctx.Queue("test")
	sortEvt := ctx.EnqueueKernel(q, radixProg, 5, []accel.KernelArg{
		{Buffer: icell}, {Buffer: sorted}, {Buffer: sortedToOrig}, {Buffer: origToSorted},
	}, nil)
	ihocEvt := ctx.EnqueueKernel(q, ihocProg, 5, []accel.KernelArg{
		{Buffer: sorted}, {Buffer: ihoc}, {Scalar: int32(8)},
	}, []*accel.Event{sortEvt})
	linkEvt := ctx.EnqueueKernel(q, linkProg, 5, []accel.KernelArg{
		{Buffer: sorted}, {Buffer: next},
	}, []*accel.Event{ihocEvt})
	if err := linkEvt.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if got := ihoc.Uint32At(2); got != 0 {
		t.Fatalf("ihoc[2] = %d, want 0", got)
	}
	if got := ihoc.Uint32At(5); got != 2 {
		t.Fatalf("ihoc[5] = %d, want 2", got)
	}
	for _, c := range []uint64{0, 1, 3, 4, 6, 7} {
		if got := ihoc.Uint32At(c); got != EmptyCell {
			t.Fatalf("ihoc[%d] = %d, want EmptyCell (cell absent)", c, got)
		}
	}

	origIcell := icell.Uint32()
	sortedIcell := sorted.Uint32()
	origIdx := sortedToOrig.Uint32()
	for i := 0; i < 5; i++ {
		cell := origIcell[i]
		cursor := ihoc.Uint32At(uint64(cell))
		reached := false
		for cursor != EmptyCell {
			if origIdx[cursor] == uint32(i) {
				reached = true
				break
			}
			if sortedIcell[cursor] != cell {
				t.Fatalf("walked into a different cell before reaching particle %d", i)
			}
			cursor = next.Uint32At(uint64(cursor))
		}
		if !reached {
			t.Fatalf("walking the linked list from ihoc[icell[%d]]=%d never reached particle %d", i, cell, i)
		}
	}
}

func newDims2Setup(t *testing.T) (*registry.Registry, *accel.Context) {
	t.Helper()
	ctx := accel.NewContext(nil, 0)
	t.Cleanup(ctx.Close)
	return registry.New(ctx, 2, nil), ctx
}

func registerLinkListVars(t *testing.T, reg *registry.Registry, n int, positions []float32, support, h float64) {
	t.Helper()
	pos, err := reg.Register("r", "vec2*", fmt.Sprint(n), "")
	if err != nil {
		t.Fatalf("Register(r) error = %v", err)
	}
	pos.Buffer.SetFloat32(positions)
	if _, err := reg.Register("support", "float", "", fmt.Sprint(support)); err != nil {
		t.Fatalf("Register(support) error = %v", err)
	}
	if _, err := reg.Register("h", "float", "", fmt.Sprint(h)); err != nil {
		t.Fatalf("Register(h) error = %v", err)
	}
	if _, err := reg.Register("icell", "unsigned int*", fmt.Sprint(n), ""); err != nil {
		t.Fatalf("Register(icell) error = %v", err)
	}
	if _, err := reg.Register("ihoc", "unsigned int*", "4", ""); err != nil {
		t.Fatalf("Register(ihoc) error = %v", err)
	}
	if _, err := reg.Register("sorted_to_orig", "unsigned int*", fmt.Sprint(n), ""); err != nil {
		t.Fatalf("Register(sorted_to_orig) error = %v", err)
	}
	if _, err := reg.Register("orig_to_sorted", "unsigned int*", fmt.Sprint(n), ""); err != nil {
		t.Fatalf("Register(orig_to_sorted) error = %v", err)
	}
	if _, err := reg.Register("next", "unsigned int*", fmt.Sprint(n), ""); err != nil {
		t.Fatalf("Register(next) error = %v", err)
	}
}

func TestLinkListComputesCellGridAndCoverage(t *testing.T) {
	reg, ctx := newDims2Setup(t)
	registerLinkListVars(t, reg, 4, []float32{0, 0, 2, 3, -1, 4, 5, -2}, 2, 1)

	ll := NewLinkList("link_list", "r", "support", "h", "icell", "ihoc", "sorted_to_orig", "orig_to_sorted", "next", reg, ctx)
	if err := ll.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := ll.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := reg.Get("next").WritingEvent().Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	nCells := reg.Get("link_list__n_cells").Buffer.Uint32()
	want := []uint32{9, 9, 1, 81}
	for i := range want {
		if nCells[i] != want[i] {
			t.Fatalf("n_cells = %v, want %v", nCells, want)
		}
	}

	ihoc := reg.Get("ihoc")
	if ihoc.ElementCount != 81 {
		t.Fatalf("ihoc.ElementCount = %d, want 81 (reallocated to n_cells.total)", ihoc.ElementCount)
	}

	icell := reg.Get("icell").Buffer.Uint32()
	next := reg.Get("next").Buffer
	sortedToOrig := reg.Get("sorted_to_orig").Buffer.Uint32()
	for i := 0; i < 4; i++ {
		cell := icell[i]
		cursor := ihoc.Buffer.Uint32At(uint64(cell))
		reached := false
		for cursor != EmptyCell {
			if sortedToOrig[cursor] == uint32(i) {
				reached = true
				break
			}
			cursor = next.Uint32At(uint64(cursor))
		}
		if !reached {
			t.Fatalf("particle %d (cell %d) unreachable from ihoc", i, cell)
		}
	}
}

func TestLinkListReallocatesIhocWhenDomainGrows(t *testing.T) {
	reg, ctx := newDims2Setup(t)
	registerLinkListVars(t, reg, 2, []float32{0, 0, 1, 1}, 1, 1)

	ll := NewLinkList("ll", "r", "support", "h", "icell", "ihoc", "sorted_to_orig", "orig_to_sorted", "next", reg, ctx)
	if err := ll.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := ll.Execute(); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	firstCount := reg.Get("ihoc").ElementCount
	firstBuf := reg.Get("ihoc").Buffer

	reg.Get("r").Buffer.SetFloat32([]float32{0, 0, 3, 3})
	if err := ll.Execute(); err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	secondCount := reg.Get("ihoc").ElementCount
	secondBuf := reg.Get("ihoc").Buffer

	if secondCount <= firstCount {
		t.Fatalf("ihoc.ElementCount did not grow: first=%d second=%d", firstCount, secondCount)
	}
	if secondBuf == firstBuf {
		t.Fatal("ihoc buffer identity did not change across reallocation")
	}
}

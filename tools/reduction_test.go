package tools

import (
	"fmt"
	"testing"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/registry"
)

func newTestSetup(t *testing.T) (*registry.Registry, *accel.Context) {
	t.Helper()
	ctx := accel.NewContext(nil, 0)
	t.Cleanup(ctx.Close)
	return registry.New(ctx, 3, nil), ctx
}

func TestReductionSum(t *testing.T) {
	reg, ctx := newTestSetup(t)

	v, err := reg.Register("r", "float*", "4", "")
	if err != nil {
		t.Fatalf("Register(r) error = %v", err)
	}
	v.Buffer.SetFloat32([]float32{1, 2, 3, 4})

	if _, err := reg.Register("total", "float", "", "0"); err != nil {
		t.Fatalf("Register(total) error = %v", err)
	}

	tool := NewReduction("sum_r", "r", "total", OpSum, reg, ctx)
	if err := tool.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := tool.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := reg.Get("total").Scalar(); got != 10 {
		t.Fatalf("total = %v, want 10", got)
	}
}

func TestReductionMinMax(t *testing.T) {
	reg, ctx := newTestSetup(t)

	v, err := reg.Register("r", "float*", "5", "")
	if err != nil {
		t.Fatalf("Register(r) error = %v", err)
	}
	v.Buffer.SetFloat32([]float32{4, -2, 9, 0, 3})

	if _, err := reg.Register("lo", "float", "", "0"); err != nil {
		t.Fatalf("Register(lo) error = %v", err)
	}
	if _, err := reg.Register("hi", "float", "", "0"); err != nil {
		t.Fatalf("Register(hi) error = %v", err)
	}

	minTool := NewReduction("min_r", "r", "lo", OpMin, reg, ctx)
	maxTool := NewReduction("max_r", "r", "hi", OpMax, reg, ctx)
	for _, tl := range []*Reduction{minTool, maxTool} {
		if err := tl.Setup(); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if err := tl.Execute(); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}

	if got := reg.Get("lo").Scalar(); got != -2 {
		t.Fatalf("lo = %v, want -2", got)
	}
	if got := reg.Get("hi").Scalar(); got != 9 {
		t.Fatalf("hi = %v, want 9", got)
	}
}

func TestReductionMultiplePasses(t *testing.T) {
	reg, ctx := newTestSetup(t)

	const n = reductionLocalSize*2 + 3
	v, err := reg.Register("big", "float*", fmt.Sprint(n), "")
	if err != nil {
		t.Fatalf("Register(big) error = %v", err)
	}
	vals := make([]float32, n)
	want := float32(0)
	for i := range vals {
		vals[i] = 1
		want++
	}
	v.Buffer.SetFloat32(vals)

	if _, err := reg.Register("total", "float", "", "0"); err != nil {
		t.Fatalf("Register(total) error = %v", err)
	}

	tool := NewReduction("sum_big", "big", "total", OpSum, reg, ctx)
	if err := tool.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := tool.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := reg.Get("total").Scalar(); float32(got) != want {
		t.Fatalf("total = %v, want %v", got, want)
	}
}

func TestReductionPublishesOutEventAndPopulatesDependent(t *testing.T) {
	reg, ctx := newTestSetup(t)

	v, err := reg.Register("r", "float*", "3", "")
	if err != nil {
		t.Fatalf("Register(r) error = %v", err)
	}
	v.Buffer.SetFloat32([]float32{1, 1, 1})

	if _, err := reg.Register("total", "float", "", "0"); err != nil {
		t.Fatalf("Register(total) error = %v", err)
	}
	if _, err := reg.Register("doubled", "float", "", "total * 2"); err != nil {
		t.Fatalf("Register(doubled) error = %v", err)
	}

	tool := NewReduction("sum_r", "r", "total", OpSum, reg, ctx)
	if err := tool.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := tool.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if reg.Get("total").WritingEvent() == nil {
		t.Fatal("expected total's writing event to be published")
	}
	if got := reg.Get("doubled").Scalar(); got != 6 {
		t.Fatalf("doubled = %v, want 6 (populate cascade)", got)
	}
}

package tools

import (
	"errors"
	"testing"

	"github.com/sphforge/calcserver/calcerr"
)

func TestScalarExprRecomputesEveryRun(t *testing.T) {
	reg, _ := newTestSetup(t)
	if _, err := reg.Register("a", "float", "", "2"); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}
	if _, err := reg.Register("b", "float", "", "0"); err != nil {
		t.Fatalf("Register(b) error = %v", err)
	}

	tool := NewScalarExpr("b_from_a", "b", "a * 3", []string{"a"}, reg)
	if err := tool.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := tool.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := reg.Get("b").Scalar(); got != 6 {
		t.Fatalf("b = %v, want 6", got)
	}

	reg.Get("a").SetScalar(10)
	if err := tool.Execute(); err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if got := reg.Get("b").Scalar(); got != 30 {
		t.Fatalf("b = %v, want 30 after recompute", got)
	}
}

func TestSetScalarWritesHostValue(t *testing.T) {
	reg, _ := newTestSetup(t)
	if _, err := reg.Register("dt", "float", "", "0"); err != nil {
		t.Fatalf("Register(dt) error = %v", err)
	}

	tool := NewSetScalar("set_dt", "dt", 0.01, reg)
	if err := tool.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := reg.Get("dt").Scalar(); got != 0.01 {
		t.Fatalf("dt = %v, want 0.01", got)
	}

	tool.SetValue(0.02)
	if err := tool.Execute(); err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if got := reg.Get("dt").Scalar(); got != 0.02 {
		t.Fatalf("dt = %v, want 0.02", got)
	}
}

func TestAssertPassesAndFails(t *testing.T) {
	reg, _ := newTestSetup(t)
	if _, err := reg.Register("n", "int", "", "10"); err != nil {
		t.Fatalf("Register(n) error = %v", err)
	}

	ok := NewAssert("n_positive", "n > 0", []string{"n"}, reg)
	if err := ok.Execute(); err != nil {
		t.Fatalf("Execute() error = %v, want pass", err)
	}

	reg.Get("n").SetScalar(0)
	fail := NewAssert("n_positive_again", "n > 0", []string{"n"}, reg)
	err := fail.Execute()
	if !errors.Is(err, calcerr.ErrAssertionFailed) {
		t.Fatalf("error = %v, want ErrAssertionFailed", err)
	}
}

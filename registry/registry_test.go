package registry

import (
	"errors"
	"testing"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/calcerr"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx := accel.NewContext(nil, 0)
	t.Cleanup(ctx.Close)
	return New(ctx, 3, nil)
}

func TestRegisterScalarAndGet(t *testing.T) {
	r := newTestRegistry(t)
	v, err := r.Register("N", "int", "", "10")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if v.Scalar() != 10 {
		t.Fatalf("Scalar() = %v, want 10", v.Scalar())
	}
	if got := r.Get("N"); got != v {
		t.Fatalf("Get(%q) = %v, want %v", "N", got, v)
	}
	if got := r.Get("missing"); got != nil {
		t.Fatalf("Get(missing) = %v, want nil", got)
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("N", "int", "", "1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := r.Register("N", "int", "", "1")
	if !errors.Is(err, calcerr.ErrDuplicateName) {
		t.Fatalf("error = %v, want ErrDuplicateName", err)
	}
}

func TestRegisterArrayAllocatesBuffer(t *testing.T) {
	r := newTestRegistry(t)
	v, err := r.Register("r", "vec*", "4", "")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if v.ElementCount != 4 {
		t.Fatalf("ElementCount = %d, want 4", v.ElementCount)
	}
	if v.Buffer == nil {
		t.Fatal("expected a device buffer to be allocated")
	}
	if got, want := v.Buffer.Size(), uint64(4*v.ElementSize()); got != want {
		t.Fatalf("Buffer.Size() = %d, want %d", got, want)
	}
}

func TestEvaluateExpression(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("N", "int", "", "10"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.Register("h", "float", "", "0.1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := r.Evaluate("(N > 0) && (h > 0)")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != 1 {
		t.Fatalf("Evaluate() = %v, want 1", got)
	}
}

func TestEvaluateAssertFailsOnZero(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("N", "int", "", "10"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.Register("h", "float", "", "0"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := r.Evaluate("(N > 0) && (h > 0)")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != 0 {
		t.Fatalf("Evaluate() = %v, want 0", got)
	}
}

func TestEvaluateBadExpression(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Evaluate("N +* 1")
	if !errors.Is(err, calcerr.ErrBadExpression) {
		t.Fatalf("error = %v, want ErrBadExpression", err)
	}
}

func TestEvaluateUnknownVariable(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Evaluate("unknownVar + 1")
	if !errors.Is(err, calcerr.ErrInvalidVariable) {
		t.Fatalf("error = %v, want ErrInvalidVariable", err)
	}
}

func TestPopulateCascadesDependents(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("a", "float", "", "2"); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}
	b, err := r.Register("b", "float", "", "a * 3")
	if err != nil {
		t.Fatalf("Register(b) error = %v", err)
	}
	if b.Scalar() != 6 {
		t.Fatalf("b.Scalar() = %v, want 6", b.Scalar())
	}
	c, err := r.Register("c", "float", "", "b + 1")
	if err != nil {
		t.Fatalf("Register(c) error = %v", err)
	}
	if c.Scalar() != 7 {
		t.Fatalf("c.Scalar() = %v, want 7", c.Scalar())
	}

	a := r.Get("a")
	a.SetScalar(10)
	if err := r.Populate(a); err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	if got := r.Get("b").Scalar(); got != 30 {
		t.Fatalf("b.Scalar() after populate = %v, want 30", got)
	}
	if got := r.Get("c").Scalar(); got != 31 {
		t.Fatalf("c.Scalar() after populate = %v, want 31", got)
	}
}

func TestReallocateSwapsBufferAndReleasesOld(t *testing.T) {
	r := newTestRegistry(t)
	v, err := r.Register("ihoc", "unsigned int*", "16", "")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.SetReallocatable("ihoc"); err != nil {
		t.Fatalf("SetReallocatable() error = %v", err)
	}
	oldBuf := v.Buffer

	if err := r.Reallocate("ihoc", 64); err != nil {
		t.Fatalf("Reallocate() error = %v", err)
	}
	if v.ElementCount != 64 {
		t.Fatalf("ElementCount = %d, want 64", v.ElementCount)
	}
	if v.Buffer == oldBuf {
		t.Fatal("expected a new buffer after reallocation")
	}
}

func TestReallocateRequiresReallocatableFlag(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("ihoc", "unsigned int*", "16", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := r.Reallocate("ihoc", 64)
	if !errors.Is(err, calcerr.ErrInvalidVariableType) {
		t.Fatalf("error = %v, want ErrInvalidVariableType", err)
	}
}

func TestPublishWriteClearsReaders(t *testing.T) {
	r := newTestRegistry(t)
	v, err := r.Register("x", "float", "", "1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	reader := accel.NewEvent()
	if err := r.AddReadingEvent("x", reader); err != nil {
		t.Fatalf("AddReadingEvent() error = %v", err)
	}
	if len(v.ReadingEvents()) != 1 {
		t.Fatalf("ReadingEvents() len = %d, want 1", len(v.ReadingEvents()))
	}

	writer := accel.NewEvent()
	if err := r.PublishWrite("x", writer); err != nil {
		t.Fatalf("PublishWrite() error = %v", err)
	}
	if v.WritingEvent() != writer {
		t.Fatal("expected writing event to be the published writer")
	}
	if len(v.ReadingEvents()) != 0 {
		t.Fatalf("ReadingEvents() len = %d, want 0 after publish", len(v.ReadingEvents()))
	}
}

// Package registry implements the calculation server's variable
// registry: name-to-variable lookup, type parsing, scalar arithmetic
// evaluation, and event lifecycle bookkeeping.
package registry

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"sync"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/calcerr"
)

// Registry is the process-wide mapping from variable name to a typed
// cell. It is constructed once at setup and passed explicitly rather
// than reached for as a singleton.
type Registry struct {
	ctx  *accel.Context
	dims int
	log  *slog.Logger

	mu   sync.RWMutex
	vars map[string]*Variable

	// dependents maps a variable name to the set of variable names whose
	// Formula references it, supporting Populate's cascade.
	dependents map[string]map[string]struct{}

	eval *Evaluator
}

// New constructs a Registry bound to ctx for buffer allocation. dims is
// 2 or 3 and selects the platform-default vector width.
func New(ctx *accel.Context, dims int, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		ctx:        ctx,
		dims:       dims,
		log:        log,
		vars:       make(map[string]*Variable),
		dependents: make(map[string]map[string]struct{}),
	}
	r.eval = NewEvaluator(r.lookupScalar)
	return r
}

func (r *Registry) lookupScalar(name string) (float64, bool) {
	r.mu.RLock()
	v, ok := r.vars[name]
	r.mu.RUnlock()
	if !ok || v.IsArray {
		return 0, false
	}
	return v.Scalar(), true
}

// Dims reports the build's dimensionality (2 or 3).
func (r *Registry) Dims() int { return r.dims }

// Register adds a new variable. typ is the textual type designator;
// sizeExpr is evaluated to obtain an array's element count (ignored for
// scalars); initExpr is evaluated to obtain the initial scalar value
// (ignored for arrays, may be empty to default to zero).
func (r *Registry) Register(name, typ, sizeExpr, initExpr string) (*Variable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.vars[name]; exists {
		return nil, fmt.Errorf("register %q: %w", name, calcerr.ErrDuplicateName)
	}

	info, err := parseType(typ, r.dims)
	if err != nil {
		return nil, err
	}

	v := &Variable{Name: name, Type: typ, info: info, IsArray: info.isArray}

	// r.mu is already held for writing here, so expressions are evaluated
	// against r.vars directly rather than through r.eval, whose lookup
	// takes r.mu for reading.
	eval := NewEvaluator(func(ref string) (float64, bool) {
		rv, ok := r.vars[ref]
		if !ok || rv.IsArray {
			return 0, false
		}
		return rv.Scalar(), true
	})

	if info.isArray {
		count := 0
		if sizeExpr != "" {
			n, err := eval.Evaluate(sizeExpr)
			if err != nil {
				return nil, fmt.Errorf("register %q: size expression: %w", name, err)
			}
			count = int(n)
		}
		buf, err := r.ctx.AllocBuffer(uint64(count * bytesFor(info)))
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
		v.ElementCount = count
		v.Buffer = buf
	} else {
		val := 0.0
		if initExpr != "" {
			val, err = eval.Evaluate(initExpr)
			if err != nil {
				return nil, fmt.Errorf("register %q: init expression: %w", name, err)
			}
			v.Formula = initExpr
			r.recordDependencies(name, initExpr)
		}
		v.SetScalar(val)
	}

	r.vars[name] = v
	r.log.Debug("variable registered", "name", name, "type", typ, "is_array", info.isArray)
	return v, nil
}

// recordDependencies scans expr's identifiers and records name as a
// dependent of each one referenced, for Populate's cascade.
func (r *Registry) recordDependencies(name, expr string) {
	node, err := parser.ParseExprFrom(token.NewFileSet(), "", expr, 0)
	if err != nil {
		return
	}
	ast.Inspect(node, func(n ast.Node) bool {
		id, ok := n.(*ast.Ident)
		if !ok {
			return true
		}
		if id.Name == name {
			return true
		}
		set, ok := r.dependents[id.Name]
		if !ok {
			set = make(map[string]struct{})
			r.dependents[id.Name] = set
		}
		set[name] = struct{}{}
		return true
	})
}

// Get returns the named variable, or nil if absent.
func (r *Registry) Get(name string) *Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vars[name]
}

// MustGet is Get plus ErrInvalidVariable on a miss, for tool setup code
// that requires its declared dependencies to exist.
func (r *Registry) MustGet(name string) (*Variable, error) {
	v := r.Get(name)
	if v == nil {
		return nil, fmt.Errorf("get %q: %w", name, calcerr.ErrInvalidVariable)
	}
	return v, nil
}

// Evaluate parses and evaluates a numeric expression over registered
// scalars.
func (r *Registry) Evaluate(expr string) (float64, error) {
	return r.eval.Evaluate(expr)
}

// SetReallocatable marks an array variable as eligible to have its
// device buffer swapped at runtime.
func (r *Registry) SetReallocatable(name string) error {
	v, err := r.MustGet(name)
	if err != nil {
		return err
	}
	if !v.IsArray {
		return fmt.Errorf("set reallocatable %q: %w", name, calcerr.ErrInvalidVariableType)
	}
	v.Reallocatable = true
	return nil
}

// Reallocate swaps a reallocatable array variable's device buffer for a
// newly allocated one of newElementCount elements, releasing the old
// buffer. Callers are responsible for having already synchronously
// waited on all outstanding users of the old buffer.
func (r *Registry) Reallocate(name string, newElementCount int) error {
	v, err := r.MustGet(name)
	if err != nil {
		return err
	}
	if !v.IsArray || !v.Reallocatable {
		return fmt.Errorf("reallocate %q: %w", name, calcerr.ErrInvalidVariableType)
	}
	newBuf, err := r.ctx.AllocBuffer(uint64(newElementCount * v.ElementSize()))
	if err != nil {
		return fmt.Errorf("reallocate %q: %w", name, err)
	}
	old := v.Buffer
	v.setBuffer(newBuf, newElementCount)
	r.ctx.FreeBuffer(old)
	r.log.Debug("variable reallocated", "name", name, "element_count", newElementCount)
	return nil
}

// AddReadingEvent registers e as a reader of the named variable.
func (r *Registry) AddReadingEvent(name string, e *accel.Event) error {
	v, err := r.MustGet(name)
	if err != nil {
		return err
	}
	v.addReadingEvent(e)
	return nil
}

// PublishWrite sets e as the named variable's new writing event and
// clears its outstanding readers.
func (r *Registry) PublishWrite(name string, e *accel.Event) error {
	v, err := r.MustGet(name)
	if err != nil {
		return err
	}
	v.publishWrite(e)
	if err := r.Populate(v); err != nil {
		return err
	}
	return nil
}

// Populate recomputes every scalar whose Formula references v,
// cascading to their own dependents in turn. It must be called
// whenever a scalar result becomes available from a completion
// callback, since Evaluate snapshots referenced values at call time.
func (r *Registry) Populate(v *Variable) error {
	return r.populateName(v.Name, make(map[string]struct{}))
}

func (r *Registry) populateName(name string, visited map[string]struct{}) error {
	if _, seen := visited[name]; seen {
		return nil
	}
	visited[name] = struct{}{}

	r.mu.RLock()
	dependents := make([]string, 0, len(r.dependents[name]))
	for dep := range r.dependents[name] {
		dependents = append(dependents, dep)
	}
	r.mu.RUnlock()

	for _, dep := range dependents {
		v := r.Get(dep)
		if v == nil || v.Formula == "" {
			continue
		}
		val, err := r.eval.Evaluate(v.Formula)
		if err != nil {
			return fmt.Errorf("populate %q: %w", dep, err)
		}
		v.SetScalar(val)
		if err := r.populateName(dep, visited); err != nil {
			return err
		}
	}
	return nil
}

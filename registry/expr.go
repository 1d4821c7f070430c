package registry

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/sphforge/calcserver/calcerr"
)

// Evaluator evaluates scalar arithmetic/boolean expressions over
// registered scalar variables. Booleans are represented as 1.0/0.0,
// C-style truthiness, so a tool asserting an invariant can simply test
// the result against zero.
//
// There's no expression-evaluation library in go.mod (see DESIGN.md),
// so this parses the expression text as a Go expression with go/parser
// and walks the resulting AST.
type Evaluator struct {
	lookup func(name string) (float64, bool)
}

// NewEvaluator builds an Evaluator backed by lookup, which resolves an
// identifier to a registered scalar's current value.
func NewEvaluator(lookup func(name string) (float64, bool)) *Evaluator {
	return &Evaluator{lookup: lookup}
}

// Evaluate parses and evaluates expr, snapshotting referenced scalars'
// values at call time.
func (ev *Evaluator) Evaluate(expr string) (float64, error) {
	node, err := parser.ParseExprFrom(token.NewFileSet(), "", expr, 0)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w: %v", expr, calcerr.ErrBadExpression, err)
	}
	var unsupported ast.Node
	ast.Inspect(node, func(n ast.Node) bool {
		switch n.(type) {
		case nil, *ast.ParenExpr, *ast.BasicLit, *ast.Ident, *ast.UnaryExpr, *ast.BinaryExpr:
			return true
		}
		if unsupported == nil {
			unsupported = n
		}
		return false
	})
	if unsupported != nil {
		return 0, fmt.Errorf("parse %q: %w: unsupported expression node %T", expr, calcerr.ErrBadExpression, unsupported)
	}
	return ev.eval(node)
}

func (ev *Evaluator) eval(n ast.Expr) (float64, error) {
	switch e := n.(type) {
	case *ast.ParenExpr:
		return ev.eval(e.X)
	case *ast.BasicLit:
		return evalLit(e)
	case *ast.Ident:
		return ev.evalIdent(e)
	case *ast.UnaryExpr:
		return ev.evalUnary(e)
	case *ast.BinaryExpr:
		return ev.evalBinary(e)
	default:
		return 0, fmt.Errorf("evaluate: %w: unsupported expression node %T", calcerr.ErrBadExpression, n)
	}
}

func evalLit(e *ast.BasicLit) (float64, error) {
	switch e.Kind {
	case token.INT, token.FLOAT:
		v, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("evaluate literal %q: %w: %v", e.Value, calcerr.ErrBadExpression, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("evaluate literal %q: %w: unsupported literal kind", e.Value, calcerr.ErrBadExpression)
	}
}

func (ev *Evaluator) evalIdent(e *ast.Ident) (float64, error) {
	switch e.Name {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	if ev.lookup == nil {
		return 0, fmt.Errorf("evaluate %q: %w: no variable lookup configured", e.Name, calcerr.ErrBadExpression)
	}
	v, ok := ev.lookup(e.Name)
	if !ok {
		return 0, fmt.Errorf("evaluate %q: %w", e.Name, calcerr.ErrInvalidVariable)
	}
	return v, nil
}

func (ev *Evaluator) evalUnary(e *ast.UnaryExpr) (float64, error) {
	x, err := ev.eval(e.X)
	if err != nil {
		return 0, err
	}
	switch e.Op {
	case token.SUB:
		return -x, nil
	case token.ADD:
		return x, nil
	case token.NOT:
		return boolf(x == 0), nil
	default:
		return 0, fmt.Errorf("evaluate: %w: unsupported unary operator %s", calcerr.ErrBadExpression, e.Op)
	}
}

func (ev *Evaluator) evalBinary(e *ast.BinaryExpr) (float64, error) {
	x, err := ev.eval(e.X)
	if err != nil {
		return 0, err
	}

	// Short-circuit && and || rather than evaluating both sides.
	switch e.Op {
	case token.LAND:
		if x == 0 {
			return 0, nil
		}
		y, err := ev.eval(e.Y)
		if err != nil {
			return 0, err
		}
		return boolf(y != 0), nil
	case token.LOR:
		if x != 0 {
			return 1, nil
		}
		y, err := ev.eval(e.Y)
		if err != nil {
			return 0, err
		}
		return boolf(y != 0), nil
	}

	y, err := ev.eval(e.Y)
	if err != nil {
		return 0, err
	}

	switch e.Op {
	case token.ADD:
		return x + y, nil
	case token.SUB:
		return x - y, nil
	case token.MUL:
		return x * y, nil
	case token.QUO:
		if y == 0 {
			return 0, fmt.Errorf("evaluate: %w: division by zero", calcerr.ErrBadExpression)
		}
		return x / y, nil
	case token.EQL:
		return boolf(x == y), nil
	case token.NEQ:
		return boolf(x != y), nil
	case token.LSS:
		return boolf(x < y), nil
	case token.LEQ:
		return boolf(x <= y), nil
	case token.GTR:
		return boolf(x > y), nil
	case token.GEQ:
		return boolf(x >= y), nil
	default:
		return 0, fmt.Errorf("evaluate: %w: unsupported binary operator %s", calcerr.ErrBadExpression, e.Op)
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

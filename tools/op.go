package tools

import "fmt"

// Op is an associative binary operator a tree reduction folds an array
// under. Name is folded into a kernel's compile flags so one registered
// reduction entry point can serve every operator without a distinct
// registration per variant.
type Op struct {
	Name     string
	Identity float32
	Apply    func(a, b float32) float32
}

var (
	OpSum = Op{Name: "sum", Identity: 0, Apply: func(a, b float32) float32 { return a + b }}
	OpMin = Op{Name: "min", Identity: float32max, Apply: func(a, b float32) float32 {
		if a < b {
			return a
		}
		return b
	}}
	OpMax = Op{Name: "max", Identity: -float32max, Apply: func(a, b float32) float32 {
		if a > b {
			return a
		}
		return b
	}}
	OpProd = Op{Name: "prod", Identity: 1, Apply: func(a, b float32) float32 { return a * b }}
)

const float32max = 3.4028235e38

// foldFloat32 applies op across data on the host, the same fold
// reductionKernel performs per local run, for callers (LinkList's
// axis-wise min/max) that need the result immediately rather than
// through a separate registry round trip.
func foldFloat32(data []float32, op Op) float32 {
	acc := op.Identity
	for _, v := range data {
		acc = op.Apply(acc, v)
	}
	return acc
}

func opByName(name string) (Op, error) {
	switch name {
	case OpSum.Name:
		return OpSum, nil
	case OpMin.Name:
		return OpMin, nil
	case OpMax.Name:
		return OpMax, nil
	case OpProd.Name:
		return OpProd, nil
	default:
		return Op{}, fmt.Errorf("unknown reduction operator %q", name)
	}
}

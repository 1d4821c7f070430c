package mpsync

import (
	"fmt"

	"github.com/sphforge/calcserver/calcerr"
	"github.com/sphforge/calcserver/registry"
)

// FieldDescriptor is the wire-format description of one synced field:
// its per-element byte footprint and component multiplier. Scalar
// int/unsigned/float map to their wire equivalents with multiplier 1;
// vector forms multiply by their component count (2, 3, 4, or the
// platform default for an unsuffixed vec/ivec/uivec).
type FieldDescriptor struct {
	Type         string
	ElementBytes int
	Components   int
}

// DescribeField resolves a field's registry type string to its wire
// descriptor. A type the registry itself cannot parse is fatal as
// ErrBadType: the source maps every field type through one shared
// table, and a type with no entry there is as fatal as it is here.
func DescribeField(typ string, dims int) (FieldDescriptor, error) {
	bytes, err := registry.TypeToBytes(typ, dims)
	if err != nil {
		return FieldDescriptor{}, fmt.Errorf("mpsync: describe field type %q: %w", typ, calcerr.ErrBadType)
	}
	components, err := registry.TypeToComponents(typ, dims)
	if err != nil {
		return FieldDescriptor{}, fmt.Errorf("mpsync: describe field type %q: %w", typ, calcerr.ErrBadType)
	}
	return FieldDescriptor{Type: typ, ElementBytes: bytes, Components: components}, nil
}

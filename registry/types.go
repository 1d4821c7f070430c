package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sphforge/calcserver/calcerr"
)

// elementBase is the scalar base kind underlying a variable's declared
// type, resolved once at register() time rather than compared against
// the type string at hot paths.
type elementBase int

const (
	baseInt elementBase = iota
	baseUint
	baseFloat
)

// typeInfo is the parsed form of a variable's textual type designator.
type typeInfo struct {
	base       elementBase
	components int // 1 for a plain scalar element, else 2, 3 or 4
	isArray    bool
	raw        string
}

// componentSize is the per-component footprint in bytes: every
// recognized element kind (int, unsigned int, float) is a 32-bit value.
const componentSize = 4

// parseType parses a textual type designator:
//
//	int, unsigned int, float                     -- scalar element kinds
//	vec2/vec3/vec4, ivec2/ivec3/ivec4,
//	uivec2/uivec3/uivec4                         -- explicit-width vectors
//	vec, ivec, uivec                             -- platform-default width
//	any of the above suffixed with "*"           -- array (pointer) form
//
// dims selects the platform-default vector width: 2 components in a 2D
// build, 4 components in a 3D build.
func parseType(t string, dims int) (typeInfo, error) {
	raw := strings.TrimSpace(t)
	isArray := strings.HasSuffix(raw, "*")
	name := strings.TrimSpace(strings.TrimSuffix(raw, "*"))

	info := typeInfo{isArray: isArray, raw: raw}

	switch name {
	case "int":
		info.base, info.components = baseInt, 1
		return info, nil
	case "unsigned int":
		info.base, info.components = baseUint, 1
		return info, nil
	case "float":
		info.base, info.components = baseFloat, 1
		return info, nil
	}

	base, prefixLen, ok := vectorPrefix(name)
	if !ok {
		return typeInfo{}, fmt.Errorf("parse type %q: %w", t, calcerr.ErrUnknownType)
	}
	suffix := name[prefixLen:]
	if suffix == "" {
		info.base = base
		info.components = defaultVectorWidth(dims)
		return info, nil
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || (n != 2 && n != 3 && n != 4) {
		return typeInfo{}, fmt.Errorf("parse type %q: %w", t, calcerr.ErrUnknownType)
	}
	info.base = base
	info.components = n
	return info, nil
}

func vectorPrefix(name string) (base elementBase, prefixLen int, ok bool) {
	switch {
	case strings.HasPrefix(name, "uivec"):
		return baseUint, len("uivec"), true
	case strings.HasPrefix(name, "ivec"):
		return baseInt, len("ivec"), true
	case strings.HasPrefix(name, "vec"):
		return baseFloat, len("vec"), true
	default:
		return 0, 0, false
	}
}

// defaultVectorWidth resolves the platform-default vec/ivec/uivec width:
// two components in a 2D build, four in a 3D build. This is not simply
// "dims": 3D vectors are padded to 4 components for device alignment.
func defaultVectorWidth(dims int) int {
	if dims <= 2 {
		return 2
	}
	return 4
}

// bytesFor returns the per-element byte footprint of info.
func bytesFor(info typeInfo) int {
	return info.components * componentSize
}

// componentsFor returns the per-element component count of info.
func componentsFor(info typeInfo) int {
	return info.components
}

// TypeToBytes maps a type name to its per-element byte footprint.
func TypeToBytes(typ string, dims int) (int, error) {
	info, err := parseType(typ, dims)
	if err != nil {
		return 0, err
	}
	return bytesFor(info), nil
}

// TypeToComponents maps a type name to its per-element component count.
func TypeToComponents(typ string, dims int) (int, error) {
	info, err := parseType(typ, dims)
	if err != nil {
		return 0, err
	}
	return componentsFor(info), nil
}

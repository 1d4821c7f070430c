// Package calcerr defines the error taxonomy shared by every layer of the
// calculation server. Each sentinel is meant to be wrapped with %w
// alongside contextual detail, not returned bare.
package calcerr

import "errors"

var (
	// ErrInvalidVariable is returned for lookup of an unregistered name.
	ErrInvalidVariable = errors.New("invalid variable")

	// ErrInvalidVariableType is returned for a scalar/array or type
	// mismatch against what a caller expected.
	ErrInvalidVariableType = errors.New("invalid variable type")

	// ErrInvalidVariableLength is returned when two arrays that are
	// expected to agree in length (e.g. mask and a synced field) don't.
	ErrInvalidVariableLength = errors.New("invalid variable length")

	// ErrBadExpression is returned for an expression parse or type error.
	ErrBadExpression = errors.New("bad expression")

	// ErrAcceleratorError wraps any underlying device API failure.
	ErrAcceleratorError = errors.New("accelerator error")

	// ErrOutOfMemory is returned for a host or device allocation failure.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrAssertionFailed is returned by the Assert tool when its
	// expression evaluates to zero.
	ErrAssertionFailed = errors.New("assertion failed")

	// ErrBadType is returned when a message-passing type descriptor is
	// missing for a field's element type.
	ErrBadType = errors.New("unsupported message-passing type")

	// ErrDuplicateName is returned by Registry.Register for a name that
	// is already registered.
	ErrDuplicateName = errors.New("duplicate variable name")

	// ErrZeroCellEdge is returned by LinkList when support*h resolves to
	// zero, which would make every cell-grid dimension undefined.
	ErrZeroCellEdge = errors.New("zero cell-grid edge")

	// ErrUnknownType is returned by Registry.Register when the type
	// string cannot be parsed.
	ErrUnknownType = errors.New("unknown variable type")
)

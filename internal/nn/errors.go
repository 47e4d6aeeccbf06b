package nn

import "errors"

// Error taxonomy shared by the node lifecycle, the memory manager and
// the layer implementations. Every failure is raised synchronously at
// the call that detected it; nothing in this package retries.
var (
	// ErrInvalidArgument covers malformed property values, shape
	// mismatches, zero-sized dimensions and duplicate/unknown names.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotSupported marks an operation that is structurally
	// meaningless for the target, such as a backward pass on a
	// graph source node.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNotInitialized marks an operation attempted before the
	// required initialization step has run.
	ErrNotInitialized = errors.New("not initialized")
)

package tensor

import "errors"

// Common errors.
var (
	ErrInvalidDim    = errors.New("invalid tensor dimension")
	ErrUninitialized = errors.New("tensor is not initialized")
	ErrShapeMismatch = errors.New("tensor shapes do not match")
	ErrOutOfBounds   = errors.New("view extends beyond the underlying buffer")
	ErrDTypeMismatch = errors.New("operation not supported for this data type")
)

// Copyright 2026 The NNTrainer Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor is the public surface of the tensor core: rank-4
// dimensions, buffers, and tensors that may alias shared storage at
// an element offset.
package tensor

import "github.com/kparichay/nntrainer/internal/tensor"

// MaxDim is the fixed rank of every TensorDim.
const MaxDim = tensor.MaxDim

// TensorDim is a rank-4 shape: batch, channel, height, width.
type TensorDim = tensor.TensorDim

// DataType selects the element storage format.
type DataType = tensor.DataType

// Element storage formats.
const (
	Float32 = tensor.Float32
	Float16 = tensor.Float16
)

// Tensor is a shaped view over a byte buffer, possibly shared with
// other tensors at an element offset.
type Tensor = tensor.Tensor

// Sentinel errors of the tensor core.
var (
	ErrInvalidDim    = tensor.ErrInvalidDim
	ErrUninitialized = tensor.ErrUninitialized
	ErrShapeMismatch = tensor.ErrShapeMismatch
	ErrOutOfBounds   = tensor.ErrOutOfBounds
	ErrDTypeMismatch = tensor.ErrDTypeMismatch
)

// NewDim creates a fully specified rank-4 shape.
func NewDim(batch, channel, height, width int) TensorDim {
	return tensor.NewDim(batch, channel, height, width)
}

// NewDimFlat creates a flat 1:1:1:n shape.
func NewDimFlat(n int) TensorDim { return tensor.NewDimFlat(n) }

// New allocates a zeroed float32 tensor.
func New(dim TensorDim) (*Tensor, error) { return tensor.New(dim) }

// NewTyped allocates a zeroed tensor with an explicit data type.
func NewTyped(dim TensorDim, dtype DataType) (*Tensor, error) {
	return tensor.NewTyped(dim, dtype)
}

// NewLazy creates a shape-only tensor; storage arrives through
// Allocate or BindTo.
func NewLazy(dim TensorDim) *Tensor { return tensor.NewLazy(dim) }

// Dot computes a matrix product, optionally transposing either
// operand.
func Dot(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	return tensor.Dot(a, b, transA, transB)
}

// AddInPlace adds src into dst with tail broadcasting.
func AddInPlace(dst, src *Tensor) error { return tensor.AddInPlace(dst, src) }

// SumBatch folds the batch axis to one.
func SumBatch(t *Tensor) (*Tensor, error) { return tensor.SumBatch(t) }

// TransposeAxes permutes the four axes into a new tensor.
func TransposeAxes(t *Tensor, axes [MaxDim]int) (*Tensor, error) {
	return tensor.TransposeAxes(t, axes)
}

package tensor

import "fmt"

// MaxDim is the fixed rank of every TensorDim.
const MaxDim = 4

// TensorDim describes the shape of a rank-4 tensor in
// batch x channel x height x width order. Unused axes are held at 1,
// so a flat vector of n elements is (1, 1, 1, n).
type TensorDim struct {
	dim [MaxDim]int
}

// NewDim creates a TensorDim from batch, channel, height and width.
func NewDim(batch, channel, height, width int) TensorDim {
	return TensorDim{dim: [MaxDim]int{batch, channel, height, width}}
}

// NewDimFlat creates a TensorDim for a flat buffer of n elements.
func NewDimFlat(n int) TensorDim {
	return NewDim(1, 1, 1, n)
}

// Batch returns the batch dimension.
func (d TensorDim) Batch() int { return d.dim[0] }

// Channel returns the channel dimension.
func (d TensorDim) Channel() int { return d.dim[1] }

// Height returns the height dimension.
func (d TensorDim) Height() int { return d.dim[2] }

// Width returns the width dimension.
func (d TensorDim) Width() int { return d.dim[3] }

// At returns the dimension at the given axis (0 = batch .. 3 = width).
func (d TensorDim) At(axis int) int {
	if axis < 0 || axis >= MaxDim {
		panic(fmt.Sprintf("axis %d out of range for rank-%d dim", axis, MaxDim))
	}
	return d.dim[axis]
}

// WithBatch returns a copy of the dim with the batch axis replaced.
// Per-sample layout is unchanged, so buffers sized for the old batch
// remain byte-compatible per sample.
func (d TensorDim) WithBatch(batch int) TensorDim {
	d.dim[0] = batch
	return d
}

// WithChannel returns a copy of the dim with the channel axis replaced.
func (d TensorDim) WithChannel(channel int) TensorDim {
	d.dim[1] = channel
	return d
}

// WithHeight returns a copy of the dim with the height axis replaced.
func (d TensorDim) WithHeight(height int) TensorDim {
	d.dim[2] = height
	return d
}

// WithWidth returns a copy of the dim with the width axis replaced.
func (d TensorDim) WithWidth(width int) TensorDim {
	d.dim[3] = width
	return d
}

// DataLen returns the total number of elements.
func (d TensorDim) DataLen() int {
	return d.dim[0] * d.dim[1] * d.dim[2] * d.dim[3]
}

// SampleLen returns the number of elements per batch entry.
func (d TensorDim) SampleLen() int {
	return d.dim[1] * d.dim[2] * d.dim[3]
}

// Validate checks that every axis is positive.
func (d TensorDim) Validate() error {
	for i, v := range d.dim {
		if v <= 0 {
			return fmt.Errorf("%w: axis %d is %d (must be > 0)", ErrInvalidDim, i, v)
		}
	}
	return nil
}

// Equal reports whether two dims match on every axis.
func (d TensorDim) Equal(other TensorDim) bool {
	return d.dim == other.dim
}

// String returns the dim as "batch:channel:height:width".
func (d TensorDim) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", d.dim[0], d.dim[1], d.dim[2], d.dim[3])
}

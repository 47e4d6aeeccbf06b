package tensor

import (
	"fmt"

	"github.com/kparichay/nntrainer/internal/parallel"
)

// Dot computes a matrix product of two tensors, treating each operand
// as a (DataLen()/Width()) x Width() row-major matrix. transA and
// transB transpose the respective operand before multiplying.
//
// The result keeps a's leading axes with the width replaced by the
// output column count; under transA it collapses to a plain matrix.
// This is the only contraction the fully connected and
// time-distributed paths need.
func Dot(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	if a.Uninitialized() || b.Uninitialized() {
		return nil, ErrUninitialized
	}

	aRows := a.Dim().DataLen() / a.Dim().Width()
	aCols := a.Dim().Width()
	if transA {
		aRows, aCols = aCols, aRows
	}
	bRows := b.Dim().DataLen() / b.Dim().Width()
	bCols := b.Dim().Width()
	if transB {
		bRows, bCols = bCols, bRows
	}
	if aCols != bRows {
		return nil, fmt.Errorf("%w: dot %v x %v (transA=%v transB=%v)",
			ErrShapeMismatch, a.Dim(), b.Dim(), transA, transB)
	}

	var outDim TensorDim
	if transA {
		outDim = NewDim(1, 1, aRows, bCols)
	} else {
		outDim = a.Dim().WithWidth(bCols)
	}
	out, err := New(outDim)
	if err != nil {
		return nil, err
	}

	ad, bd, od := a.Float32s(), b.Float32s(), out.Float32s()
	lda := a.Dim().Width()
	ldb := b.Dim().Width()

	parallel.Rows(aRows, func(i int) {
		for k := 0; k < aCols; k++ {
			var av float32
			if transA {
				av = ad[k*lda+i]
			} else {
				av = ad[i*lda+k]
			}
			if av == 0 {
				continue
			}
			row := od[i*bCols : (i+1)*bCols]
			if transB {
				for j := 0; j < bCols; j++ {
					row[j] += av * bd[j*ldb+k]
				}
			} else {
				brow := bd[k*ldb : k*ldb+bCols]
				for j := 0; j < bCols; j++ {
					row[j] += av * brow[j]
				}
			}
		}
	})

	return out, nil
}

// AddInPlace adds other into t element-wise. A right operand with
// batch 1 and matching sample layout broadcasts across t's batch,
// which is how a bias row is applied.
func AddInPlace(t, other *Tensor) error {
	if t.Uninitialized() || other.Uninitialized() {
		return ErrUninitialized
	}
	td, od := t.Float32s(), other.Float32s()
	switch {
	case len(td) == len(od):
		for i := range td {
			td[i] += od[i]
		}
	case len(td)%len(od) == 0:
		n := len(od)
		for i := range td {
			td[i] += od[i%n]
		}
	default:
		return fmt.Errorf("%w: add %v += %v", ErrShapeMismatch, t.Dim(), other.Dim())
	}
	return nil
}

// AddScaledInPlace computes t += alpha * other. Shapes must carry the
// same element count.
func AddScaledInPlace(t, other *Tensor, alpha float32) error {
	if t.Uninitialized() || other.Uninitialized() {
		return ErrUninitialized
	}
	td, od := t.Float32s(), other.Float32s()
	if len(td) != len(od) {
		return fmt.Errorf("%w: axpy %v += %v", ErrShapeMismatch, t.Dim(), other.Dim())
	}
	for i := range td {
		td[i] += alpha * od[i]
	}
	return nil
}

// ScaleInPlace multiplies every element of t by alpha.
func ScaleInPlace(t *Tensor, alpha float32) {
	td := t.Float32s()
	for i := range td {
		td[i] *= alpha
	}
}

// SumBatch reduces t over the batch axis into a (1, c, h, w) tensor.
// Used to fold per-sample bias gradients into one row.
func SumBatch(t *Tensor) (*Tensor, error) {
	if t.Uninitialized() {
		return nil, ErrUninitialized
	}
	out, err := New(t.Dim().WithBatch(1))
	if err != nil {
		return nil, err
	}
	td, od := t.Float32s(), out.Float32s()
	n := t.Dim().SampleLen()
	for i, v := range td {
		od[i%n] += v
	}
	return out, nil
}

// TransposeAxes returns a new owning tensor with axes permuted.
// axes is the destination ordering over source axes, e.g.
// [2 1 0 3] swaps batch and height (the time-major transform).
func TransposeAxes(t *Tensor, axes [MaxDim]int) (*Tensor, error) {
	if t.Uninitialized() {
		return nil, ErrUninitialized
	}
	var seen [MaxDim]bool
	for _, ax := range axes {
		if ax < 0 || ax >= MaxDim || seen[ax] {
			return nil, fmt.Errorf("%w: transpose axes %v", ErrInvalidDim, axes)
		}
		seen[ax] = true
	}

	src := t.Dim()
	dst := NewDim(src.At(axes[0]), src.At(axes[1]), src.At(axes[2]), src.At(axes[3]))
	out, err := New(dst)
	if err != nil {
		return nil, err
	}

	srcStride := [MaxDim]int{
		src.Channel() * src.Height() * src.Width(),
		src.Height() * src.Width(),
		src.Width(),
		1,
	}
	td, od := t.Float32s(), out.Float32s()
	pos := 0
	for i0 := 0; i0 < dst.At(0); i0++ {
		for i1 := 0; i1 < dst.At(1); i1++ {
			for i2 := 0; i2 < dst.At(2); i2++ {
				base := i0*srcStride[axes[0]] + i1*srcStride[axes[1]] + i2*srcStride[axes[2]]
				s3 := srcStride[axes[3]]
				for i3 := 0; i3 < dst.At(3); i3++ {
					od[pos] = td[base+i3*s3]
					pos++
				}
			}
		}
	}
	return out, nil
}

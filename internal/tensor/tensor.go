// Package tensor implements the rank-4 tensor and the shared-buffer
// aliasing primitive the memory planner is built on.
//
// A Tensor is a (buffer handle, element offset, dim) tuple. It can be
// in one of three states:
//   - uninitialized: no buffer attached (the canonical empty sentinel)
//   - owning: sole view over a buffer it allocated itself
//   - aliasing: a window into a buffer owned by another tensor
//
// Aliasing tensors hold only the shared handle plus an offset, so two
// views can be tested for storage identity without touching pointers.
// The package performs no lifetime checks on aliases; the memory
// manager is responsible for never resetting a buffer that still has
// live views.
package tensor

import (
	"fmt"
	"math/rand"
	"unsafe"

	"github.com/x448/float16"
)

// Buffer is the single owning handle for one contiguous allocation.
// Every tensor carved out of it shares this handle.
type Buffer struct {
	data []byte
}

// newBuffer allocates a zeroed buffer of the given byte size.
func newBuffer(byteSize int) *Buffer {
	return &Buffer{data: make([]byte, byteSize)}
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Tensor is a shape-described view over a byte buffer.
type Tensor struct {
	buf    *Buffer
	dim    TensorDim
	dtype  DataType
	offset int // element offset into buf
	shared bool
}

// New allocates an owning Float32 tensor of the given dim.
func New(dim TensorDim) (*Tensor, error) {
	return NewTyped(dim, Float32)
}

// NewTyped allocates an owning tensor of the given dim and element type.
func NewTyped(dim TensorDim, dtype DataType) (*Tensor, error) {
	if err := dim.Validate(); err != nil {
		return nil, err
	}
	return &Tensor{
		buf:   newBuffer(dim.DataLen() * dtype.Size()),
		dim:   dim,
		dtype: dtype,
	}, nil
}

// NewUninit returns the uninitialized sentinel tensor. It carries no
// buffer and no shape; binding it is a later, explicit step.
func NewUninit() *Tensor {
	return &Tensor{dtype: Float32}
}

// NewLazy returns an unallocated tensor that remembers its dim.
// Storage is attached later, either by Allocate or by binding an
// alias from a shared arena.
func NewLazy(dim TensorDim) *Tensor {
	return &Tensor{dim: dim, dtype: Float32}
}

// Allocate materializes storage for a lazily created tensor.
// No-op when a buffer is already attached.
func (t *Tensor) Allocate() error {
	if t.buf != nil {
		return nil
	}
	if err := t.dim.Validate(); err != nil {
		return err
	}
	t.buf = newBuffer(t.dim.DataLen() * t.dtype.Size())
	return nil
}

// BindTo points this tensor at another tensor's storage. The view
// keeps its own dim, which must fit inside the target's window.
func (t *Tensor) BindTo(src *Tensor) error {
	if src.buf == nil {
		return ErrUninitialized
	}
	if t.dim.DataLen() > src.dim.DataLen() {
		return fmt.Errorf("%w: bind %v onto %v", ErrShapeMismatch, t.dim, src.dim)
	}
	t.buf = src.buf
	t.dtype = src.dtype
	t.offset = src.offset
	t.shared = true
	return nil
}

// SharedTensor returns a tensor that reads and writes this tensor's
// storage, starting at the given element offset, shaped as dim.
// The returned view holds the same buffer handle; it never outlives
// safety checks beyond the bounds test done here.
func (t *Tensor) SharedTensor(dim TensorDim, offset int) (*Tensor, error) {
	if t.buf == nil {
		return nil, ErrUninitialized
	}
	if err := dim.Validate(); err != nil {
		return nil, err
	}
	if offset < 0 || (offset+dim.DataLen())*t.dtype.Size() > len(t.buf.data) {
		return nil, fmt.Errorf("%w: offset %d, view %d elements, buffer %d bytes",
			ErrOutOfBounds, offset, dim.DataLen(), len(t.buf.data))
	}
	return &Tensor{
		buf:    t.buf,
		dim:    dim,
		dtype:  t.dtype,
		offset: t.offset + offset,
		shared: true,
	}, nil
}

// Dim returns the tensor's shape.
func (t *Tensor) Dim() TensorDim { return t.dim }

// DType returns the element type.
func (t *Tensor) DType() DataType { return t.dtype }

// Offset returns the element offset of this view into its buffer.
func (t *Tensor) Offset() int { return t.offset }

// Uninitialized reports whether the tensor has no storage attached.
func (t *Tensor) Uninitialized() bool { return t.buf == nil }

// IsShared reports whether this tensor aliases another tensor's buffer.
func (t *Tensor) IsShared() bool { return t.shared }

// SharesStorageWith reports whether two tensors are views over the
// same buffer at the same offset. This is the identity test used to
// decide whether a transpose must copy or a reshape suffices.
func (t *Tensor) SharesStorageWith(other *Tensor) bool {
	if t.buf == nil || other.buf == nil {
		return false
	}
	return t.buf == other.buf && t.offset == other.offset
}

// SameBuffer reports whether two tensors share an underlying buffer,
// regardless of their offsets.
func (t *Tensor) SameBuffer(other *Tensor) bool {
	return t.buf != nil && t.buf == other.buf
}

// Reshape replaces the dim without touching storage. The element
// count must not change; use CopyReshape to materialize a resize.
func (t *Tensor) Reshape(dim TensorDim) error {
	if err := dim.Validate(); err != nil {
		return err
	}
	if dim.DataLen() != t.dim.DataLen() {
		return fmt.Errorf("%w: reshape %v -> %v changes element count",
			ErrShapeMismatch, t.dim, dim)
	}
	t.dim = dim
	return nil
}

// CopyReshape returns a new owning tensor of the requested dim with
// as many elements as fit copied over from this tensor.
func (t *Tensor) CopyReshape(dim TensorDim) (*Tensor, error) {
	out, err := NewTyped(dim, t.dtype)
	if err != nil {
		return nil, err
	}
	if t.buf != nil {
		copy(out.buf.data, t.bytes())
	}
	return out, nil
}

// SetBatch rewrites the batch axis in place. Valid because batch
// changes do not alter per-sample layout; no reallocation happens
// and aliases into arenas sized for the old batch become stale.
func (t *Tensor) SetBatch(batch int) error {
	if batch <= 0 {
		return fmt.Errorf("%w: batch %d", ErrInvalidDim, batch)
	}
	t.dim = t.dim.WithBatch(batch)
	return nil
}

// bytes returns this view's backing byte window.
func (t *Tensor) bytes() []byte {
	start := t.offset * t.dtype.Size()
	return t.buf.data[start : start+t.dim.DataLen()*t.dtype.Size()]
}

// Float32s returns a zero-copy []float32 view of the tensor data.
// Panics on an uninitialized tensor or non-Float32 storage; callers
// on compute paths are expected to have bound Float32 buffers.
func (t *Tensor) Float32s() []float32 {
	if t.buf == nil {
		panic("tensor: Float32s on uninitialized tensor")
	}
	if t.dtype != Float32 {
		panic("tensor: Float32s on " + t.dtype.String() + " tensor")
	}
	b := t.bytes()
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), t.dim.DataLen())
}

// GetValue returns the element at (batch, channel, height, width).
func (t *Tensor) GetValue(b, c, h, w int) float32 {
	idx := t.index(b, c, h, w)
	if t.dtype == Float16 {
		raw := t.bytes()
		return float16.Frombits(uint16(raw[2*idx]) | uint16(raw[2*idx+1])<<8).Float32()
	}
	return t.Float32s()[idx]
}

// SetValue stores the element at (batch, channel, height, width).
func (t *Tensor) SetValue(b, c, h, w int, v float32) {
	idx := t.index(b, c, h, w)
	if t.dtype == Float16 {
		bits := float16.Fromfloat32(v).Bits()
		raw := t.bytes()
		raw[2*idx] = byte(bits)
		raw[2*idx+1] = byte(bits >> 8)
		return
	}
	t.Float32s()[idx] = v
}

func (t *Tensor) index(b, c, h, w int) int {
	d := t.dim
	if b >= d.Batch() || c >= d.Channel() || h >= d.Height() || w >= d.Width() ||
		b < 0 || c < 0 || h < 0 || w < 0 {
		panic(fmt.Sprintf("tensor: index (%d,%d,%d,%d) out of bounds for %v", b, c, h, w, d))
	}
	return ((b*d.Channel()+c)*d.Height()+h)*d.Width() + w
}

// SetZero fills the tensor with zeros.
func (t *Tensor) SetZero() {
	b := t.bytes()
	for i := range b {
		b[i] = 0
	}
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	data := t.Float32s()
	for i := range data {
		data[i] = v
	}
}

// FillUniform fills the tensor with samples from U(lo, hi).
func (t *Tensor) FillUniform(lo, hi float32) {
	data := t.Float32s()
	for i := range data {
		//nolint:gosec // math/rand is fine for weight initialization
		data[i] = lo + rand.Float32()*(hi-lo)
	}
}

// FillNormal fills the tensor with samples from N(mean, stddev^2).
func (t *Tensor) FillNormal(mean, stddev float32) {
	data := t.Float32s()
	for i := range data {
		data[i] = mean + float32(rand.NormFloat64())*stddev
	}
}

// CopyFrom copies element data from src into this tensor. Shapes must
// carry the same element count; dims may differ.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if t.buf == nil || src.buf == nil {
		return ErrUninitialized
	}
	if t.dim.DataLen() != src.dim.DataLen() {
		return fmt.Errorf("%w: copy %v -> %v", ErrShapeMismatch, src.dim, t.dim)
	}
	if t.dtype != src.dtype {
		return ErrDTypeMismatch
	}
	copy(t.bytes(), src.bytes())
	return nil
}

// Clone returns an owning deep copy of this view's data.
func (t *Tensor) Clone() (*Tensor, error) {
	out, err := NewTyped(t.dim, t.dtype)
	if err != nil {
		return nil, err
	}
	copy(out.buf.data, t.bytes())
	return out, nil
}

// String returns a human-readable representation.
func (t *Tensor) String() string {
	switch {
	case t.buf == nil:
		return "Tensor<uninitialized>"
	case t.shared:
		return fmt.Sprintf("Tensor[%s]%v @+%d (shared)", t.dtype, t.dim, t.offset)
	default:
		return fmt.Sprintf("Tensor[%s]%v", t.dtype, t.dim)
	}
}

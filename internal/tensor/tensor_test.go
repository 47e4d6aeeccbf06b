package tensor

import (
	"errors"
	"testing"
)

func TestNewAllocatesZeroed(t *testing.T) {
	ts, err := New(NewDim(2, 1, 3, 4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := ts.Float32s()
	if len(data) != 24 {
		t.Errorf("Float32s length = %d, want 24", len(data))
	}
	for i, v := range data {
		if v != 0 {
			t.Fatalf("element %d = %v, want 0", i, v)
		}
	}

	// Zero-copy check.
	data[0] = 42
	if ts.Float32s()[0] != 42 {
		t.Error("Float32s must return a zero-copy view")
	}
}

func TestNewRejectsZeroDim(t *testing.T) {
	if _, err := New(NewDim(2, 0, 3, 4)); !errors.Is(err, ErrInvalidDim) {
		t.Errorf("New with zero dim: err = %v, want ErrInvalidDim", err)
	}
}

func TestSharedTensorAliasesParent(t *testing.T) {
	parent, _ := New(NewDimFlat(32))
	view, err := parent.SharedTensor(NewDim(1, 1, 1, 8), 16)
	if err != nil {
		t.Fatalf("SharedTensor: %v", err)
	}
	if !view.IsShared() {
		t.Error("view should report shared storage")
	}
	if view.Offset() != 16 {
		t.Errorf("view offset = %d, want 16", view.Offset())
	}

	// Writes through the view land in the parent.
	view.Float32s()[0] = 7
	if parent.Float32s()[16] != 7 {
		t.Error("write through view did not reach parent storage")
	}

	// Nested views accumulate offsets.
	sub, err := view.SharedTensor(NewDim(1, 1, 1, 4), 2)
	if err != nil {
		t.Fatalf("nested SharedTensor: %v", err)
	}
	sub.Float32s()[0] = 9
	if parent.Float32s()[18] != 9 {
		t.Error("nested view offset not applied")
	}
}

func TestSharedTensorBounds(t *testing.T) {
	parent, _ := New(NewDimFlat(16))
	if _, err := parent.SharedTensor(NewDimFlat(8), 12); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("out-of-bounds view: err = %v, want ErrOutOfBounds", err)
	}
	if _, err := parent.SharedTensor(NewDimFlat(8), -1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("negative offset: err = %v, want ErrOutOfBounds", err)
	}
}

func TestSharesStorageWith(t *testing.T) {
	parent, _ := New(NewDimFlat(32))
	a, _ := parent.SharedTensor(NewDimFlat(8), 0)
	b, _ := parent.SharedTensor(NewDimFlat(8), 0)
	c, _ := parent.SharedTensor(NewDimFlat(8), 8)
	other, _ := New(NewDimFlat(8))

	if !a.SharesStorageWith(b) {
		t.Error("same buffer, same offset: want identity")
	}
	if a.SharesStorageWith(c) {
		t.Error("same buffer, different offset: want no identity")
	}
	if !a.SameBuffer(c) {
		t.Error("same buffer regardless of offset: want SameBuffer")
	}
	if a.SharesStorageWith(other) || a.SameBuffer(other) {
		t.Error("distinct buffers must not compare as shared")
	}
}

func TestReshapeMetadataOnly(t *testing.T) {
	ts, _ := New(NewDim(2, 1, 3, 4))
	ts.Float32s()[5] = 1.5

	if err := ts.Reshape(NewDim(6, 1, 1, 4)); err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	if ts.Float32s()[5] != 1.5 {
		t.Error("reshape must not move data")
	}

	if err := ts.Reshape(NewDim(2, 1, 3, 5)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("element-count-changing reshape: err = %v, want ErrShapeMismatch", err)
	}
}

func TestCopyReshapeMaterializes(t *testing.T) {
	ts, _ := New(NewDimFlat(4))
	ts.Fill(2)
	out, err := ts.CopyReshape(NewDimFlat(8))
	if err != nil {
		t.Fatalf("CopyReshape: %v", err)
	}
	if out.SameBuffer(ts) {
		t.Error("CopyReshape must allocate fresh storage")
	}
	data := out.Float32s()
	if data[3] != 2 || data[4] != 0 {
		t.Errorf("CopyReshape payload = %v", data)
	}
}

func TestLazyAllocateAndBind(t *testing.T) {
	lazy := NewLazy(NewDim(2, 1, 1, 4))
	if !lazy.Uninitialized() {
		t.Fatal("lazy tensor must start uninitialized")
	}
	if err := lazy.Allocate(); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if lazy.Uninitialized() {
		t.Error("Allocate must attach storage")
	}

	arena, _ := New(NewDimFlat(64))
	view, _ := arena.SharedTensor(NewDim(2, 1, 1, 4), 8)
	bound := NewLazy(NewDim(2, 1, 1, 4))
	if err := bound.BindTo(view); err != nil {
		t.Fatalf("BindTo: %v", err)
	}
	if !bound.SharesStorageWith(view) {
		t.Error("BindTo must adopt the view's storage identity")
	}
}

func TestSetBatchKeepsStorage(t *testing.T) {
	ts, _ := New(NewDim(4, 1, 1, 8))
	data := ts.Float32s()
	if err := ts.SetBatch(2); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	if ts.Dim().Batch() != 2 {
		t.Errorf("batch = %d, want 2", ts.Dim().Batch())
	}
	if &data[0] != &ts.Float32s()[0] {
		t.Error("SetBatch must not reallocate")
	}
	if err := ts.SetBatch(0); !errors.Is(err, ErrInvalidDim) {
		t.Errorf("SetBatch(0): err = %v, want ErrInvalidDim", err)
	}
}

func TestFloat16GetSet(t *testing.T) {
	ts, err := NewTyped(NewDimFlat(4), Float16)
	if err != nil {
		t.Fatalf("NewTyped: %v", err)
	}
	ts.SetValue(0, 0, 0, 1, 1.5)
	if got := ts.GetValue(0, 0, 0, 1); got != 1.5 {
		t.Errorf("float16 round trip = %v, want 1.5", got)
	}
	if got := ts.GetValue(0, 0, 0, 0); got != 0 {
		t.Errorf("untouched element = %v, want 0", got)
	}
}

func TestCopyFrom(t *testing.T) {
	src, _ := New(NewDimFlat(8))
	src.Fill(3)
	dst, _ := New(NewDim(2, 1, 1, 4))
	if err := dst.CopyFrom(src); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if dst.GetValue(1, 0, 0, 3) != 3 {
		t.Error("CopyFrom payload mismatch")
	}

	bad, _ := New(NewDimFlat(9))
	if err := dst.CopyFrom(bad); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("size mismatch copy: err = %v, want ErrShapeMismatch", err)
	}
}

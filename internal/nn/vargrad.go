// Package nn implements the variable/gradient ownership model and the
// per-model memory manager that plans shared buffers for them.
//
// The pieces fit together like this: a layer node declares its weights
// and I/O shapes to the Manager in execution order; the Manager runs a
// single allocation pass that carves every trainable gradient and
// derivative out of one shared arena each; the node's forward and
// backward passes then operate purely on the buffers it was handed.
package nn

import (
	"fmt"

	"github.com/kparichay/nntrainer/internal/tensor"
)

// VarGrad couples a value tensor with its derivative tensor. The pair
// always owns a value tensor; a gradient tensor exists only while the
// pair is trainable, otherwise the gradient stays the uninitialized
// sentinel.
//
// A freshly constructed pair is shape-only. Storage arrives later
// through Initialize, normally from the Manager, which may hand the
// gradient an alias into a shared arena.
type VarGrad struct {
	v         *tensor.Tensor
	g         *tensor.Tensor
	trainable bool
	name      string
}

// NewVarGrad creates a shape-only pair. No storage is allocated.
func NewVarGrad(dim tensor.TensorDim, trainable bool, name string) *VarGrad {
	return &VarGrad{
		v:         tensor.NewLazy(dim),
		g:         tensor.NewLazy(dim),
		trainable: trainable,
		name:      name,
	}
}

// Initialize binds storage to the pair. A valid sharedVar or
// sharedGrad is bound as-is (possibly an aliasing view handed out by
// the Manager); a nil or uninitialized one means the corresponding
// side allocates privately. The gradient side is materialized only
// when the pair is trainable and withGradient is set.
func (vg *VarGrad) Initialize(sharedVar, sharedGrad *tensor.Tensor, withGradient bool) error {
	if sharedVar != nil && !sharedVar.Uninitialized() {
		if err := vg.v.BindTo(sharedVar); err != nil {
			return fmt.Errorf("%s: variable: %w", vg.name, err)
		}
	} else if err := vg.v.Allocate(); err != nil {
		return fmt.Errorf("%s: variable: %w", vg.name, err)
	}

	if !vg.trainable || !withGradient {
		return nil
	}
	if sharedGrad != nil && !sharedGrad.Uninitialized() {
		if err := vg.g.BindTo(sharedGrad); err != nil {
			return fmt.Errorf("%s: gradient: %w", vg.name, err)
		}
	} else if err := vg.g.Allocate(); err != nil {
		return fmt.Errorf("%s: gradient: %w", vg.name, err)
	}
	vg.ResetGradient()
	return nil
}

// InitializeVariable binds only the value tensor. Used by composite
// nodes that hand out per-timestep windows of a larger buffer.
func (vg *VarGrad) InitializeVariable(t *tensor.Tensor) error {
	if t == nil || t.Uninitialized() {
		return fmt.Errorf("%s: variable: %w", vg.name, tensor.ErrUninitialized)
	}
	return vg.v.BindTo(t)
}

// InitializeGradient binds only the gradient tensor.
func (vg *VarGrad) InitializeGradient(t *tensor.Tensor) error {
	if t == nil || t.Uninitialized() {
		return fmt.Errorf("%s: gradient: %w", vg.name, tensor.ErrUninitialized)
	}
	return vg.g.BindTo(t)
}

// SetBatchSize rewrites the batch axis of both tensors in place.
// Only dimension metadata changes; aliasing offsets computed for the
// old batch become stale and it is the Manager's job to rescale its
// arena sizes accordingly.
func (vg *VarGrad) SetBatchSize(batch int) error {
	if err := vg.v.SetBatch(batch); err != nil {
		return fmt.Errorf("%s: %w", vg.name, err)
	}
	return vg.g.SetBatch(batch)
}

// ResetGradient zeroes the gradient buffer if one is attached.
func (vg *VarGrad) ResetGradient() {
	if !vg.g.Uninitialized() {
		vg.g.SetZero()
	}
}

// Dim returns the pair's shape.
func (vg *VarGrad) Dim() tensor.TensorDim { return vg.v.Dim() }

// Trainable reports whether the pair participates in training.
func (vg *VarGrad) Trainable() bool { return vg.trainable }

// SetTrainable toggles training participation. Turning it off does
// not free an already-bound gradient; it only stops future binds.
func (vg *VarGrad) SetTrainable(train bool) { vg.trainable = train }

// Name returns the pair's name.
func (vg *VarGrad) Name() string { return vg.name }

// Variable returns the value tensor.
func (vg *VarGrad) Variable() *tensor.Tensor { return vg.v }

// Gradient returns the gradient tensor. For a non-trainable pair this
// is the uninitialized sentinel.
func (vg *VarGrad) Gradient() *tensor.Tensor { return vg.g }

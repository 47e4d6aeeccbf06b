package nn

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kparichay/nntrainer/internal/tensor"
)

// Weight is a trainable VarGrad with an initialization policy. Its
// lifetime matches the node that declared it; the Manager only holds
// order-indexed references and owns the shared gradient arena.
type Weight struct {
	VarGrad
	initializer Initializer
}

// NewWeight creates a shape-only weight. When trainable is false no
// gradient buffer is ever materialized for it.
func NewWeight(dim tensor.TensorDim, init Initializer, trainable bool, name string) *Weight {
	return &Weight{
		VarGrad:     *NewVarGrad(dim, trainable, name),
		initializer: init,
	}
}

// Initializer returns the weight's initialization policy.
func (w *Weight) Initializer() Initializer { return w.initializer }

// Initialize materializes the value tensor, applies the initializer,
// and binds the gradient. sharedGrad may be an aliasing view into the
// Manager's arena, a nil for a private allocation, or ignored
// entirely when the weight is not trainable.
func (w *Weight) Initialize(sharedGrad *tensor.Tensor) error {
	if err := w.VarGrad.Initialize(nil, sharedGrad, true); err != nil {
		return err
	}
	return w.initializer.apply(w.Variable())
}

// Save writes the raw little-endian tensor payload to the stream.
// No shape header is emitted; a reader must supply a weight of
// matching shape. Weights stream in registration order.
func (w *Weight) Save(out io.Writer) error {
	if w.Variable().Uninitialized() {
		return fmt.Errorf("%s: save: %w", w.Name(), ErrNotInitialized)
	}
	if err := binary.Write(out, binary.LittleEndian, w.Variable().Float32s()); err != nil {
		return fmt.Errorf("%s: save: %w", w.Name(), err)
	}
	return nil
}

// Read fills the value tensor from the raw payload produced by Save.
func (w *Weight) Read(in io.Reader) error {
	if w.Variable().Uninitialized() {
		return fmt.Errorf("%s: read: %w", w.Name(), ErrNotInitialized)
	}
	if err := binary.Read(in, binary.LittleEndian, w.Variable().Float32s()); err != nil {
		return fmt.Errorf("%s: read: %w", w.Name(), err)
	}
	return nil
}

// ApplyGradient folds the scaled gradient into the value tensor.
// No-op for non-trainable weights.
func (w *Weight) ApplyGradient(scale float32) error {
	if !w.Trainable() || w.Gradient().Uninitialized() {
		return nil
	}
	return tensor.AddScaledInPlace(w.Variable(), w.Gradient(), scale)
}

package layers

import (
	"fmt"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// TypeFullyConnected is the registry tag of the dense layer.
const TypeFullyConnected = "fully_connected"

// Weight slot order inside the run context.
const (
	fcWeightIdx = iota
	fcBiasIdx
)

// FullyConnected computes out = in . W + b over the width axis.
// W has shape (1, 1, inWidth, unit), b has shape (1, 1, 1, unit).
type FullyConnected struct {
	unit       int
	weightInit nn.Initializer
	biasInit   nn.Initializer
}

// NewFullyConnected creates a dense layer with Xavier-uniform weight
// and zero bias initialization. The unit count comes from properties.
func NewFullyConnected() *FullyConnected {
	return &FullyConnected{
		weightInit: nn.InitXavierUniform,
		biasInit:   nn.InitZeros,
	}
}

// Type returns the registry tag.
func (l *FullyConnected) Type() string { return TypeFullyConnected }

// Clone returns a copy of the configuration.
func (l *FullyConnected) Clone() Layer {
	c := *l
	return &c
}

// SetProperty applies dense-layer configuration.
func (l *FullyConnected) SetProperty(key, value string) error {
	switch key {
	case "unit":
		n, err := ParseUint(key, value)
		if err != nil {
			return err
		}
		l.unit = n
	case "weight_initializer":
		init, err := nn.ParseInitializer(value)
		if err != nil {
			return err
		}
		l.weightInit = init
	case "bias_initializer":
		init, err := nn.ParseInitializer(value)
		if err != nil {
			return err
		}
		l.biasInit = init
	default:
		return fmt.Errorf("%w: unknown property %q for %s layer",
			nn.ErrInvalidArgument, key, l.Type())
	}
	return nil
}

// Finalize declares the weight and bias and derives the output shape.
func (l *FullyConnected) Finalize(ctx *InitContext) error {
	if len(ctx.InputDims()) != 1 {
		return fmt.Errorf("%w: fully connected layer takes exactly one input",
			nn.ErrInvalidArgument)
	}
	if l.unit == 0 {
		return fmt.Errorf("%w: fully connected layer needs unit > 0 before finalize",
			nn.ErrInvalidArgument)
	}

	in := ctx.InputDims()[0]
	ctx.RequestWeight(tensor.NewDim(1, 1, in.Width(), l.unit), l.weightInit, true, "weight")
	ctx.RequestWeight(tensor.NewDim(1, 1, 1, l.unit), l.biasInit, true, "bias")
	ctx.SetOutputDims([]tensor.TensorDim{in.WithWidth(l.unit)})
	return nil
}

// Forwarding computes out = in . W + b.
func (l *FullyConnected) Forwarding(ctx *RunContext, _ bool) error {
	weight := ctx.Weight(fcWeightIdx).Variable()
	bias := ctx.Weight(fcBiasIdx).Variable()

	hidden, err := tensor.Dot(ctx.Input(0), weight, false, false)
	if err != nil {
		return fmt.Errorf("fc forward: %w", err)
	}
	if err := tensor.AddInPlace(hidden, bias); err != nil {
		return fmt.Errorf("fc forward: %w", err)
	}
	return ctx.Output(0).CopyFrom(hidden)
}

// CalcDerivative computes inGrad = outGrad . W^T into the
// manager-bound input gradient buffer.
func (l *FullyConnected) CalcDerivative(ctx *RunContext) error {
	weight := ctx.Weight(fcWeightIdx).Variable()
	ret, err := tensor.Dot(ctx.OutputGrad(0), weight, false, true)
	if err != nil {
		return fmt.Errorf("fc derivative: %w", err)
	}
	return ctx.InputGrad(0).CopyFrom(ret)
}

// CalcGradient computes dW = in^T . outGrad and db = sum_batch
// outGrad, writing into the gradient buffers the manager assigned.
// Buffers are overwritten, never accumulated into: they may alias a
// region another node just used.
func (l *FullyConnected) CalcGradient(ctx *RunContext) error {
	dw, err := tensor.Dot(ctx.Input(0), ctx.OutputGrad(0), true, false)
	if err != nil {
		return fmt.Errorf("fc gradient: %w", err)
	}
	if err := ctx.Weight(fcWeightIdx).Gradient().CopyFrom(dw); err != nil {
		return err
	}

	db, err := tensor.SumBatch(ctx.OutputGrad(0))
	if err != nil {
		return fmt.Errorf("fc gradient: %w", err)
	}
	return ctx.Weight(fcBiasIdx).Gradient().CopyFrom(db)
}

// SetBatch is a no-op; the dense layer keeps no per-batch state.
func (l *FullyConnected) SetBatch(int) error { return nil }

// SupportInPlace reports that the dense layer needs distinct buffers.
func (l *FullyConnected) SupportInPlace() bool { return false }

// RequireLabel reports that the dense layer needs no label.
func (l *FullyConnected) RequireLabel() bool { return false }

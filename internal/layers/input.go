package layers

import (
	"fmt"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// TypeInput is the registry tag of the graph source layer.
const TypeInput = "input"

// Input is the graph source. It copies the fed batch through and has
// no predecessor, so computing a derivative for it is structurally
// meaningless.
type Input struct {
	normalize bool
}

// NewInput creates an input layer.
func NewInput() *Input { return &Input{} }

// Type returns the registry tag.
func (l *Input) Type() string { return TypeInput }

// Clone returns a copy of the configuration.
func (l *Input) Clone() Layer {
	c := *l
	return &c
}

// SetProperty applies input-layer configuration.
func (l *Input) SetProperty(key, value string) error {
	switch key {
	case "normalization":
		b, err := ParseBool(key, value)
		if err != nil {
			return err
		}
		l.normalize = b
		return nil
	default:
		return fmt.Errorf("%w: unknown property %q for %s layer",
			nn.ErrInvalidArgument, key, l.Type())
	}
}

// Finalize passes the input shape straight through.
func (l *Input) Finalize(ctx *InitContext) error {
	if len(ctx.InputDims()) != 1 {
		return fmt.Errorf("%w: input layer takes exactly one input, got %d",
			nn.ErrInvalidArgument, len(ctx.InputDims()))
	}
	ctx.SetOutputDims([]tensor.TensorDim{ctx.InputDims()[0]})
	return nil
}

// Forwarding copies the fed values through, optionally scaling to
// zero mean and unit range.
func (l *Input) Forwarding(ctx *RunContext, _ bool) error {
	if err := ctx.Output(0).CopyFrom(ctx.Input(0)); err != nil {
		return err
	}
	if l.normalize {
		normalizeInPlace(ctx.Output(0))
	}
	return nil
}

// CalcDerivative is not supported for a graph source node.
func (l *Input) CalcDerivative(*RunContext) error {
	return fmt.Errorf("%w: derivative of an input layer", nn.ErrNotSupported)
}

// CalcGradient is a no-op: the input layer has no weights.
func (l *Input) CalcGradient(*RunContext) error { return nil }

// SetBatch is a no-op.
func (l *Input) SetBatch(int) error { return nil }

// SupportInPlace reports that input can run in place.
func (l *Input) SupportInPlace() bool { return true }

// RequireLabel reports that input needs no label.
func (l *Input) RequireLabel() bool { return false }

// normalizeInPlace rescales t to zero mean and unit spread.
func normalizeInPlace(t *tensor.Tensor) {
	data := t.Float32s()
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo, hi = min(lo, v), max(hi, v)
	}
	if hi == lo {
		return
	}
	span := hi - lo
	mid := (hi + lo) / 2
	for i := range data {
		data[i] = (data[i] - mid) / span
	}
}

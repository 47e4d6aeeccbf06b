package layers

import (
	"fmt"
	"math"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// TypeActivation is the registry tag of the activation layer.
const TypeActivation = "activation"

// ActivationType selects the element-wise nonlinearity.
type ActivationType int

// Supported activations.
const (
	ActSigmoid ActivationType = iota
	ActTanh
	ActReLU
)

// ParseActivation resolves a property-string value.
func ParseActivation(s string) (ActivationType, error) {
	switch s {
	case "sigmoid":
		return ActSigmoid, nil
	case "tanh":
		return ActTanh, nil
	case "relu":
		return ActReLU, nil
	default:
		return 0, fmt.Errorf("%w: unknown activation %q", nn.ErrInvalidArgument, s)
	}
}

// String returns the property-string spelling.
func (a ActivationType) String() string {
	switch a {
	case ActSigmoid:
		return "sigmoid"
	case ActTanh:
		return "tanh"
	case ActReLU:
		return "relu"
	default:
		return "unknown"
	}
}

// Activation applies an element-wise nonlinearity. The backward pass
// reads the forwarded output values, which the run context keeps
// alive between passes; no extra state is staged.
type Activation struct {
	kind ActivationType
}

// NewActivation creates an activation layer of the given kind.
func NewActivation(kind ActivationType) *Activation {
	return &Activation{kind: kind}
}

// Type returns the registry tag.
func (l *Activation) Type() string { return TypeActivation }

// Clone returns a copy of the configuration.
func (l *Activation) Clone() Layer {
	c := *l
	return &c
}

// SetProperty applies activation configuration.
func (l *Activation) SetProperty(key, value string) error {
	switch key {
	case "activation":
		kind, err := ParseActivation(value)
		if err != nil {
			return err
		}
		l.kind = kind
		return nil
	default:
		return fmt.Errorf("%w: unknown property %q for %s layer",
			nn.ErrInvalidArgument, key, l.Type())
	}
}

// Finalize passes the shape through.
func (l *Activation) Finalize(ctx *InitContext) error {
	if len(ctx.InputDims()) != 1 {
		return fmt.Errorf("%w: activation layer takes exactly one input",
			nn.ErrInvalidArgument)
	}
	ctx.SetOutputDims([]tensor.TensorDim{ctx.InputDims()[0]})
	return nil
}

// Forwarding applies the nonlinearity element-wise.
func (l *Activation) Forwarding(ctx *RunContext, _ bool) error {
	in := ctx.Input(0).Float32s()
	out := ctx.Output(0).Float32s()
	switch l.kind {
	case ActSigmoid:
		for i, v := range in {
			out[i] = sigmoid(v)
		}
	case ActTanh:
		for i, v := range in {
			out[i] = float32(math.Tanh(float64(v)))
		}
	case ActReLU:
		for i, v := range in {
			out[i] = max(v, 0)
		}
	}
	return nil
}

// CalcDerivative computes inGrad = outGrad * f'(out) from the staged
// output values.
func (l *Activation) CalcDerivative(ctx *RunContext) error {
	out := ctx.Output(0).Float32s()
	outGrad := ctx.OutputGrad(0).Float32s()
	inGrad := ctx.InputGrad(0).Float32s()

	switch l.kind {
	case ActSigmoid:
		for i, y := range out {
			inGrad[i] = outGrad[i] * y * (1 - y)
		}
	case ActTanh:
		for i, y := range out {
			inGrad[i] = outGrad[i] * (1 - y*y)
		}
	case ActReLU:
		for i, y := range out {
			if y > 0 {
				inGrad[i] = outGrad[i]
			} else {
				inGrad[i] = 0
			}
		}
	}
	return nil
}

// CalcGradient is a no-op: activations have no weights.
func (l *Activation) CalcGradient(*RunContext) error { return nil }

// SetBatch is a no-op.
func (l *Activation) SetBatch(int) error { return nil }

// SupportInPlace reports that activations can run in place.
func (l *Activation) SupportInPlace() bool { return true }

// RequireLabel reports that activations need no label.
func (l *Activation) RequireLabel() bool { return false }

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

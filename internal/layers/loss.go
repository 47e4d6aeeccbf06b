package layers

import (
	"fmt"
	"math"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// Registry tags of the loss layers.
const (
	TypeMSELoss             = "mse"
	TypeCrossEntropySigmoid = "cross_entropy_sigmoid"
)

// Loss layers sit at the graph sink. The label arrives through the
// node's output gradient buffer, bound there by the driver before the
// backward pass; CalcDerivative turns it into the first derivative
// flowing backward. This is the same buffer-reuse trick the manager
// plays elsewhere: the sink's incoming-derivative slot would
// otherwise sit idle.

// MSELoss computes mean squared error against the bound label.
type MSELoss struct {
	lossValue float32
}

// NewMSELoss creates an MSE loss layer.
func NewMSELoss() *MSELoss { return &MSELoss{} }

// Type returns the registry tag.
func (l *MSELoss) Type() string { return TypeMSELoss }

// Clone returns a copy of the configuration.
func (l *MSELoss) Clone() Layer {
	c := *l
	return &c
}

// SetProperty rejects everything; MSE has no configuration.
func (l *MSELoss) SetProperty(key, _ string) error {
	return fmt.Errorf("%w: unknown property %q for %s layer",
		nn.ErrInvalidArgument, key, l.Type())
}

// Finalize passes the shape through.
func (l *MSELoss) Finalize(ctx *InitContext) error {
	if len(ctx.InputDims()) != 1 {
		return fmt.Errorf("%w: loss layer takes exactly one input", nn.ErrInvalidArgument)
	}
	ctx.SetOutputDims([]tensor.TensorDim{ctx.InputDims()[0]})
	return nil
}

// Forwarding copies predictions through and, in training mode with a
// label bound, computes the scalar loss.
func (l *MSELoss) Forwarding(ctx *RunContext, training bool) error {
	if err := ctx.Output(0).CopyFrom(ctx.Input(0)); err != nil {
		return err
	}
	if !training || ctx.OutputGrad(0).Uninitialized() {
		return nil
	}

	pred := ctx.Input(0).Float32s()
	label := ctx.OutputGrad(0).Float32s()
	var sum float64
	for i, p := range pred {
		d := float64(p - label[i])
		sum += d * d
	}
	l.lossValue = float32(sum / float64(len(pred)))
	ctx.SetLoss(l.lossValue)
	return nil
}

// CalcDerivative computes inGrad = 2 * (pred - label) / n.
func (l *MSELoss) CalcDerivative(ctx *RunContext) error {
	if ctx.OutputGrad(0).Uninitialized() {
		return fmt.Errorf("%s: label not bound: %w", l.Type(), nn.ErrNotInitialized)
	}
	pred := ctx.Output(0).Float32s()
	label := ctx.OutputGrad(0).Float32s()
	inGrad := ctx.InputGrad(0).Float32s()
	scale := 2 / float32(len(pred))
	for i, p := range pred {
		inGrad[i] = scale * (p - label[i])
	}
	return nil
}

// CalcGradient is a no-op: loss layers have no weights.
func (l *MSELoss) CalcGradient(*RunContext) error { return nil }

// SetBatch is a no-op.
func (l *MSELoss) SetBatch(int) error { return nil }

// SupportInPlace reports that loss can run in place.
func (l *MSELoss) SupportInPlace() bool { return true }

// RequireLabel reports that loss layers consume a label.
func (l *MSELoss) RequireLabel() bool { return true }

// Loss returns the last computed scalar loss.
func (l *MSELoss) Loss() float32 { return l.lossValue }

// CrossEntropySigmoid fuses a sigmoid with binary cross entropy for
// numerical stability, the standard logits formulation.
type CrossEntropySigmoid struct {
	lossValue float32
}

// NewCrossEntropySigmoid creates the fused loss layer.
func NewCrossEntropySigmoid() *CrossEntropySigmoid { return &CrossEntropySigmoid{} }

// Type returns the registry tag.
func (l *CrossEntropySigmoid) Type() string { return TypeCrossEntropySigmoid }

// Clone returns a copy of the configuration.
func (l *CrossEntropySigmoid) Clone() Layer {
	c := *l
	return &c
}

// SetProperty rejects everything; the fused loss has no configuration.
func (l *CrossEntropySigmoid) SetProperty(key, _ string) error {
	return fmt.Errorf("%w: unknown property %q for %s layer",
		nn.ErrInvalidArgument, key, l.Type())
}

// Finalize passes the shape through.
func (l *CrossEntropySigmoid) Finalize(ctx *InitContext) error {
	if len(ctx.InputDims()) != 1 {
		return fmt.Errorf("%w: loss layer takes exactly one input", nn.ErrInvalidArgument)
	}
	ctx.SetOutputDims([]tensor.TensorDim{ctx.InputDims()[0]})
	return nil
}

// Forwarding applies the sigmoid to the logits and, in training mode
// with a label bound, computes the stable cross-entropy loss.
func (l *CrossEntropySigmoid) Forwarding(ctx *RunContext, training bool) error {
	logits := ctx.Input(0).Float32s()
	out := ctx.Output(0).Float32s()
	for i, v := range logits {
		out[i] = sigmoid(v)
	}
	if !training || ctx.OutputGrad(0).Uninitialized() {
		return nil
	}

	label := ctx.OutputGrad(0).Float32s()
	var sum float64
	for i, x := range logits {
		// max(x,0) - x*z + log(1 + exp(-|x|))
		fx := float64(x)
		sum += math.Max(fx, 0) - fx*float64(label[i]) + math.Log1p(math.Exp(-math.Abs(fx)))
	}
	l.lossValue = float32(sum / float64(len(logits)))
	ctx.SetLoss(l.lossValue)
	return nil
}

// CalcDerivative computes inGrad = (sigmoid(x) - label) / n.
func (l *CrossEntropySigmoid) CalcDerivative(ctx *RunContext) error {
	if ctx.OutputGrad(0).Uninitialized() {
		return fmt.Errorf("%s: label not bound: %w", l.Type(), nn.ErrNotInitialized)
	}
	out := ctx.Output(0).Float32s()
	label := ctx.OutputGrad(0).Float32s()
	inGrad := ctx.InputGrad(0).Float32s()
	scale := 1 / float32(len(out))
	for i, y := range out {
		inGrad[i] = scale * (y - label[i])
	}
	return nil
}

// CalcGradient is a no-op: loss layers have no weights.
func (l *CrossEntropySigmoid) CalcGradient(*RunContext) error { return nil }

// SetBatch is a no-op.
func (l *CrossEntropySigmoid) SetBatch(int) error { return nil }

// SupportInPlace reports that the fused loss needs distinct buffers.
func (l *CrossEntropySigmoid) SupportInPlace() bool { return false }

// RequireLabel reports that loss layers consume a label.
func (l *CrossEntropySigmoid) RequireLabel() bool { return true }

// Loss returns the last computed scalar loss.
func (l *CrossEntropySigmoid) Loss() float32 { return l.lossValue }

package layers

import (
	"fmt"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// TypeTimeDist is the registry tag of the time-distributed wrapper.
const TypeTimeDist = "time_dist"

// timeMajor swaps the batch and height axes, turning a
// (batch, 1, time, width) tensor into (time, 1, batch, width) so that
// each timestep occupies one contiguous window of batch*width
// elements.
var timeMajor = [tensor.MaxDim]int{2, 1, 0, 3}

// TimeDist applies an inner layer independently at every timestep of
// a (batch, 1, time, width) input. It re-applies the manager's
// offset-aliasing idea at timestep granularity: the input is
// transposed once into time-major layout and each step's transient
// VarGrad pair aliases a fixed-size window of that one buffer instead
// of allocating per-step tensors.
type TimeDist struct {
	inner Layer

	// Buffer identities of this node's own I/O, recorded each
	// forward pass. The backward transpose consults these to decide
	// whether a tensor still holds our data (a metadata reshape
	// suffices) or must be transposed with a copy.
	positions [4]*tensor.Tensor

	lossValue float32
}

// NewTimeDist wraps an inner layer for per-timestep application.
func NewTimeDist(inner Layer) *TimeDist {
	return &TimeDist{inner: inner}
}

// Inner returns the wrapped layer.
func (l *TimeDist) Inner() Layer { return l.inner }

// Type returns the registry tag.
func (l *TimeDist) Type() string { return TypeTimeDist }

// Clone copies the wrapper together with the wrapped layer.
func (l *TimeDist) Clone() Layer {
	c := *l
	c.inner = l.inner.Clone()
	return &c
}

// SetProperty forwards configuration to the inner layer.
func (l *TimeDist) SetProperty(key, value string) error {
	if l.inner == nil {
		return fmt.Errorf("%w: time_dist has no inner layer", nn.ErrInvalidArgument)
	}
	return l.inner.SetProperty(key, value)
}

// Finalize validates the sequence shape, finalizes the inner layer on
// the per-timestep shape, and adopts its weights.
func (l *TimeDist) Finalize(ctx *InitContext) error {
	if l.inner == nil {
		return fmt.Errorf("%w: time_dist has no inner layer", nn.ErrInvalidArgument)
	}
	if len(ctx.InputDims()) != 1 {
		return fmt.Errorf("%w: time_dist takes exactly one input", nn.ErrInvalidArgument)
	}
	in := ctx.InputDims()[0]
	if in.Channel() != 1 {
		return fmt.Errorf("%w: time_dist allows only one channel, got %d",
			nn.ErrInvalidArgument, in.Channel())
	}

	// The inner layer sees one timestep: height collapses to 1.
	distDim := in.WithHeight(1)
	innerCtx := NewInitContext(ctx.Name(), []tensor.TensorDim{distDim})
	if err := l.inner.Finalize(innerCtx); err != nil {
		return err
	}
	ctx.adoptWeights(innerCtx.Weights())

	out := innerCtx.OutputDims()[0]
	ctx.SetOutputDims([]tensor.TensorDim{out.WithHeight(in.Height())})
	return nil
}

// recordPositions remembers which buffers currently hold this node's
// I/O so later transposes can detect their own data.
func (l *TimeDist) recordPositions(ctx *RunContext) {
	l.positions[0] = ctx.Input(0)
	l.positions[1] = ctx.InputGrad(0)
	l.positions[2] = ctx.Output(0)
	l.positions[3] = ctx.OutputGrad(0)
}

// holdsOwnData reports whether t shares storage with one of the first
// n recorded positions.
func (l *TimeDist) holdsOwnData(t *tensor.Tensor, n int) bool {
	for _, p := range l.positions[:n] {
		if p != nil && t.SharesStorageWith(p) {
			return true
		}
	}
	return false
}

// stepWindow carves the window for one timestep out of a time-major
// buffer: dim (batch, 1, 1, width) at offset t*batch*width.
func stepWindow(src *tensor.Tensor, dim tensor.TensorDim, step int) (*tensor.Tensor, error) {
	return src.SharedTensor(dim, step*dim.Batch()*dim.Width())
}

// Forwarding transposes the input to time-major once and delegates
// each timestep's window to the inner layer.
func (l *TimeDist) Forwarding(ctx *RunContext, training bool) error {
	l.recordPositions(ctx)

	inDim := ctx.Input(0).Dim()
	outDim := ctx.Output(0).Dim()
	steps := inDim.Height()

	in, err := tensor.TransposeAxes(ctx.Input(0), timeMajor)
	if err != nil {
		return fmt.Errorf("time_dist forward: %w", err)
	}
	out, err := tensor.New(tensor.NewDim(steps, 1, inDim.Batch(), outDim.Width()))
	if err != nil {
		return err
	}

	// Loss inner layers read the label from their output gradient;
	// transpose it alongside when one is bound.
	var label *tensor.Tensor
	if l.inner.RequireLabel() && !ctx.OutputGrad(0).Uninitialized() {
		if label, err = tensor.TransposeAxes(ctx.OutputGrad(0), timeMajor); err != nil {
			return fmt.Errorf("time_dist label: %w", err)
		}
	}

	iDim := tensor.NewDim(inDim.Batch(), 1, 1, inDim.Width())
	hDim := tensor.NewDim(inDim.Batch(), 1, 1, outDim.Width())
	l.lossValue = 0

	for t := 0; t < steps; t++ {
		inIter, err := stepWindow(in, iDim, t)
		if err != nil {
			return err
		}
		outIter, err := stepWindow(out, hDim, t)
		if err != nil {
			return err
		}

		inVar := nn.NewVarGrad(iDim, true, "time_dist:input")
		outVar := nn.NewVarGrad(hDim, true, "time_dist:output")
		if err := inVar.InitializeVariable(inIter); err != nil {
			return err
		}
		if err := outVar.InitializeVariable(outIter); err != nil {
			return err
		}
		if label != nil {
			labelIter, err := stepWindow(label, hDim, t)
			if err != nil {
				return err
			}
			if err := outVar.InitializeGradient(labelIter); err != nil {
				return err
			}
		}

		stepCtx := NewRunContext(ctx.weights, []*nn.VarGrad{inVar}, []*nn.VarGrad{outVar})
		if err := l.inner.Forwarding(stepCtx, training); err != nil {
			return fmt.Errorf("time_dist step %d: %w", t, err)
		}
		l.lossValue += stepCtx.Loss()
	}
	ctx.SetLoss(l.lossValue)

	// Back to batch-major for the successor.
	outBack, err := tensor.TransposeAxes(out, timeMajor)
	if err != nil {
		return err
	}
	return ctx.Output(0).CopyFrom(outBack)
}

// transposeInOut rewrites this node's I/O buffers into time-major
// layout in place. Buffers that already hold another tensor's data
// (detected through the recorded storage identities) only need their
// dims rewritten; the rest are transposed with a copy.
func (l *TimeDist) transposeInOut(ctx *RunContext) error {
	transposeOrReshape := func(t *tensor.Tensor, upTo int) error {
		d := t.Dim()
		major := tensor.NewDim(d.Height(), d.Channel(), d.Batch(), d.Width())
		if l.holdsOwnData(t, upTo) {
			return t.Reshape(major)
		}
		tt, err := tensor.TransposeAxes(t, timeMajor)
		if err != nil {
			return err
		}
		if err := t.CopyFrom(tt); err != nil {
			return err
		}
		return t.Reshape(major)
	}

	// The input value always transposes with a copy.
	if err := transposeOrReshape(ctx.Input(0), 0); err != nil {
		return err
	}
	if err := transposeOrReshape(ctx.InputGrad(0), 1); err != nil {
		return err
	}
	if err := transposeOrReshape(ctx.Output(0), 2); err != nil {
		return err
	}
	return transposeOrReshape(ctx.OutputGrad(0), 3)
}

// CalcGradient transposes the node's I/O into time-major layout (also
// on behalf of the following CalcDerivative call) and accumulates the
// inner layer's weight gradients across timesteps.
func (l *TimeDist) CalcGradient(ctx *RunContext) error {
	if err := l.transposeInOut(ctx); err != nil {
		return fmt.Errorf("time_dist gradient: %w", err)
	}
	if ctx.NumWeights() == 0 {
		return nil
	}

	inDim := ctx.Input(0).Dim()   // now (time, 1, batch, width)
	derDim := ctx.OutputGrad(0).Dim()
	steps := inDim.Batch()

	iDim := tensor.NewDim(inDim.Height(), 1, 1, inDim.Width())
	dDim := tensor.NewDim(derDim.Height(), 1, 1, derDim.Width())

	// Step gradients land in the manager-bound buffers, which each
	// step overwrites; fold them into private accumulators and write
	// the sums back once at the end.
	accum := make([]*tensor.Tensor, ctx.NumWeights())
	for i := range accum {
		a, err := tensor.New(ctx.Weight(i).Dim())
		if err != nil {
			return err
		}
		accum[i] = a
	}

	for t := 0; t < steps; t++ {
		inIter, err := stepWindow(ctx.Input(0), iDim, t)
		if err != nil {
			return err
		}
		dIter, err := stepWindow(ctx.OutputGrad(0), dDim, t)
		if err != nil {
			return err
		}

		inVar := nn.NewVarGrad(iDim, true, "time_dist:input")
		outVar := nn.NewVarGrad(dDim, true, "time_dist:output")
		if err := inVar.InitializeVariable(inIter); err != nil {
			return err
		}
		if err := outVar.InitializeGradient(dIter); err != nil {
			return err
		}

		stepCtx := NewRunContext(ctx.weights, []*nn.VarGrad{inVar}, []*nn.VarGrad{outVar})
		if err := l.inner.CalcGradient(stepCtx); err != nil {
			return fmt.Errorf("time_dist step %d: %w", t, err)
		}
		for i := range accum {
			if g := ctx.Weight(i).Gradient(); !g.Uninitialized() {
				if err := tensor.AddScaledInPlace(accum[i], g, 1); err != nil {
					return err
				}
			}
		}
	}

	for i := range accum {
		if g := ctx.Weight(i).Gradient(); !g.Uninitialized() {
			if err := g.CopyFrom(accum[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// CalcDerivative runs the inner backward pass per timestep. It relies
// on CalcGradient having already transposed the I/O buffers into
// time-major layout, and restores the input gradient to batch-major
// before returning; the other buffers keep their data untransposed
// since the next forward pass overwrites them anyway.
func (l *TimeDist) CalcDerivative(ctx *RunContext) error {
	derDim := ctx.OutputGrad(0).Dim() // (time, 1, batch, width)
	retDim := ctx.InputGrad(0).Dim()
	steps := derDim.Batch()

	rDim := tensor.NewDim(retDim.Height(), 1, 1, retDim.Width())
	dDim := tensor.NewDim(derDim.Height(), 1, 1, derDim.Width())

	for t := 0; t < steps; t++ {
		retIter, err := stepWindow(ctx.InputGrad(0), rDim, t)
		if err != nil {
			return err
		}
		inIter, err := stepWindow(ctx.Input(0), rDim, t)
		if err != nil {
			return err
		}
		dIter, err := stepWindow(ctx.OutputGrad(0), dDim, t)
		if err != nil {
			return err
		}
		hIter, err := stepWindow(ctx.Output(0), dDim, t)
		if err != nil {
			return err
		}

		inVar := nn.NewVarGrad(rDim, true, "time_dist:input")
		outVar := nn.NewVarGrad(dDim, true, "time_dist:output")
		if err := inVar.InitializeVariable(inIter); err != nil {
			return err
		}
		if err := inVar.InitializeGradient(retIter); err != nil {
			return err
		}
		if err := outVar.InitializeVariable(hIter); err != nil {
			return err
		}
		if err := outVar.InitializeGradient(dIter); err != nil {
			return err
		}

		stepCtx := NewRunContext(ctx.weights, []*nn.VarGrad{inVar}, []*nn.VarGrad{outVar})
		if err := l.inner.CalcDerivative(stepCtx); err != nil {
			return fmt.Errorf("time_dist step %d: %w", t, err)
		}
	}

	// The propagated derivative must be batch-major for the
	// predecessor; the rest is dead data until the next forward.
	ret, err := tensor.TransposeAxes(ctx.InputGrad(0), timeMajor)
	if err != nil {
		return err
	}
	if err := ctx.InputGrad(0).CopyFrom(ret); err != nil {
		return err
	}
	return ctx.InputGrad(0).Reshape(ret.Dim())
}

// SetBatch forwards the batch change to the inner layer.
func (l *TimeDist) SetBatch(batch int) error { return l.inner.SetBatch(batch) }

// SupportInPlace reports that the wrapper needs distinct buffers.
func (l *TimeDist) SupportInPlace() bool { return false }

// RequireLabel mirrors the inner layer.
func (l *TimeDist) RequireLabel() bool { return l.inner.RequireLabel() }

// Loss returns the summed per-timestep loss.
func (l *TimeDist) Loss() float32 { return l.lossValue }

package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// bindRunContext materializes private buffers for a finalized init
// context, the way the manager would without sharing.
func bindRunContext(t *testing.T, ctx *InitContext, withGradient bool) *RunContext {
	t.Helper()

	inputs := make([]*nn.VarGrad, 0, len(ctx.InputDims()))
	for i, dim := range ctx.InputDims() {
		vg := nn.NewVarGrad(dim, true, ctx.Name()+":in"+string(rune('0'+i)))
		require.NoError(t, vg.Initialize(nil, nil, withGradient))
		inputs = append(inputs, vg)
	}
	outputs := make([]*nn.VarGrad, 0, len(ctx.OutputDims()))
	for i, dim := range ctx.OutputDims() {
		vg := nn.NewVarGrad(dim, true, ctx.Name()+":out"+string(rune('0'+i)))
		require.NoError(t, vg.Initialize(nil, nil, withGradient))
		outputs = append(outputs, vg)
	}
	for _, w := range ctx.Weights() {
		require.NoError(t, w.Initialize(nil))
	}
	return NewRunContext(ctx.Weights(), inputs, outputs)
}

func TestRegistryIsolated(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Known(TypeInput), "fresh registry starts empty")

	require.NoError(t, r.Register("custom", func() Layer { return NewInput() }))
	err := r.Register("custom", func() Layer { return NewInput() })
	require.Error(t, err)
	assert.ErrorIs(t, err, nn.ErrInvalidArgument)

	_, err = r.Create("nope")
	assert.ErrorIs(t, err, nn.ErrInvalidArgument)

	l, err := DefaultRegistry().Create(TypeFullyConnected)
	require.NoError(t, err)
	assert.Equal(t, TypeFullyConnected, l.Type())
}

func TestSplitProperty(t *testing.T) {
	k, v, err := SplitProperty("unit = 10")
	require.NoError(t, err)
	assert.Equal(t, "unit", k)
	assert.Equal(t, "10", v)

	for _, bad := range []string{"unit", "=10", "unit=", ""} {
		_, _, err := SplitProperty(bad)
		assert.ErrorIs(t, err, nn.ErrInvalidArgument, "input %q", bad)
	}
}

func TestFullyConnectedFinalize(t *testing.T) {
	fc := NewFullyConnected()
	require.NoError(t, fc.SetProperty("unit", "3"))

	ctx := NewInitContext("fc0", []tensor.TensorDim{tensor.NewDim(2, 1, 1, 4)})
	require.NoError(t, fc.Finalize(ctx))

	require.Len(t, ctx.Weights(), 2)
	assert.Equal(t, tensor.NewDim(1, 1, 4, 3), ctx.Weights()[0].Dim())
	assert.Equal(t, tensor.NewDim(1, 1, 1, 3), ctx.Weights()[1].Dim())
	assert.Equal(t, "fc0:weight", ctx.Weights()[0].Name())
	require.Len(t, ctx.OutputDims(), 1)
	assert.Equal(t, tensor.NewDim(2, 1, 1, 3), ctx.OutputDims()[0])
}

func TestFullyConnectedFinalizeWithoutUnit(t *testing.T) {
	fc := NewFullyConnected()
	ctx := NewInitContext("fc0", []tensor.TensorDim{tensor.NewDim(2, 1, 1, 4)})
	err := fc.Finalize(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, nn.ErrInvalidArgument)
}

func TestFullyConnectedForwardBackward(t *testing.T) {
	fc := NewFullyConnected()
	require.NoError(t, fc.SetProperty("unit", "2"))
	require.NoError(t, fc.SetProperty("weight_initializer", "ones"))

	ctx := NewInitContext("fc", []tensor.TensorDim{tensor.NewDim(1, 1, 1, 3)})
	require.NoError(t, fc.Finalize(ctx))
	run := bindRunContext(t, ctx, true)

	copy(run.Input(0).Float32s(), []float32{1, 2, 3})
	require.NoError(t, fc.Forwarding(run, true))
	assert.Equal(t, []float32{6, 6}, run.Output(0).Float32s())

	// Backward with outGrad = (1, 0): derivative picks W column 0.
	copy(run.OutputGrad(0).Float32s(), []float32{1, 0})
	require.NoError(t, fc.CalcDerivative(run))
	assert.Equal(t, []float32{1, 1, 1}, run.InputGrad(0).Float32s())

	require.NoError(t, fc.CalcGradient(run))
	assert.Equal(t, []float32{1, 0, 2, 0, 3, 0}, run.Weight(0).Gradient().Float32s())
	assert.Equal(t, []float32{1, 0}, run.Weight(1).Gradient().Float32s())
}

func TestFullyConnectedGradientOverwritesGarbage(t *testing.T) {
	fc := NewFullyConnected()
	require.NoError(t, fc.SetProperty("unit", "1"))

	ctx := NewInitContext("fc", []tensor.TensorDim{tensor.NewDim(1, 1, 1, 2)})
	require.NoError(t, fc.Finalize(ctx))
	run := bindRunContext(t, ctx, true)

	// Gradient buffers may hold a previous node's data on entry.
	run.Weight(0).Gradient().Fill(99)
	copy(run.Input(0).Float32s(), []float32{1, 1})
	run.OutputGrad(0).Fill(0)
	require.NoError(t, fc.CalcGradient(run))
	assert.Equal(t, []float32{0, 0}, run.Weight(0).Gradient().Float32s())
}

func TestInputLayerDerivativeNotSupported(t *testing.T) {
	in := NewInput()
	ctx := NewInitContext("input0", []tensor.TensorDim{tensor.NewDim(2, 1, 1, 4)})
	require.NoError(t, in.Finalize(ctx))
	run := bindRunContext(t, ctx, true)

	err := in.CalcDerivative(run)
	require.Error(t, err)
	assert.ErrorIs(t, err, nn.ErrNotSupported)
}

func TestInputLayerUnknownProperty(t *testing.T) {
	err := NewInput().SetProperty("unit", "4")
	require.Error(t, err)
	assert.ErrorIs(t, err, nn.ErrInvalidArgument)
}

func TestActivationSigmoidRoundTrip(t *testing.T) {
	act := NewActivation(ActSigmoid)
	ctx := NewInitContext("act", []tensor.TensorDim{tensor.NewDim(1, 1, 1, 2)})
	require.NoError(t, act.Finalize(ctx))
	run := bindRunContext(t, ctx, true)

	copy(run.Input(0).Float32s(), []float32{0, 100})
	require.NoError(t, act.Forwarding(run, true))
	out := run.Output(0).Float32s()
	assert.InDelta(t, 0.5, out[0], 1e-6)
	assert.InDelta(t, 1.0, out[1], 1e-6)

	run.OutputGrad(0).Fill(1)
	require.NoError(t, act.CalcDerivative(run))
	grad := run.InputGrad(0).Float32s()
	assert.InDelta(t, 0.25, grad[0], 1e-6) // y(1-y) at y=0.5
	assert.InDelta(t, 0.0, grad[1], 1e-6)
}

func TestMSELossForwardAndDerivative(t *testing.T) {
	loss := NewMSELoss()
	assert.True(t, loss.RequireLabel())

	ctx := NewInitContext("loss", []tensor.TensorDim{tensor.NewDim(1, 1, 1, 2)})
	require.NoError(t, loss.Finalize(ctx))
	run := bindRunContext(t, ctx, true)

	copy(run.Input(0).Float32s(), []float32{1, 3})
	// The label rides in on the output gradient buffer.
	copy(run.OutputGrad(0).Float32s(), []float32{0, 1})

	require.NoError(t, loss.Forwarding(run, true))
	assert.InDelta(t, 2.5, loss.Loss(), 1e-6) // (1 + 4) / 2

	require.NoError(t, loss.CalcDerivative(run))
	grad := run.InputGrad(0).Float32s()
	assert.InDelta(t, 1.0, grad[0], 1e-6) // 2*(1-0)/2
	assert.InDelta(t, 2.0, grad[1], 1e-6) // 2*(3-1)/2
}

func TestMSELossDerivativeWithoutLabel(t *testing.T) {
	loss := NewMSELoss()
	ctx := NewInitContext("loss", []tensor.TensorDim{tensor.NewDim(1, 1, 1, 2)})
	require.NoError(t, loss.Finalize(ctx))
	// Inference binding: no gradient buffers at all.
	run := bindRunContext(t, ctx, false)

	err := loss.CalcDerivative(run)
	require.Error(t, err)
	assert.ErrorIs(t, err, nn.ErrNotInitialized)
}

func TestCrossEntropySigmoidGradientDirection(t *testing.T) {
	loss := NewCrossEntropySigmoid()
	ctx := NewInitContext("loss", []tensor.TensorDim{tensor.NewDim(1, 1, 1, 1)})
	require.NoError(t, loss.Finalize(ctx))
	run := bindRunContext(t, ctx, true)

	copy(run.Input(0).Float32s(), []float32{0}) // sigmoid(0) = 0.5
	copy(run.OutputGrad(0).Float32s(), []float32{1})

	require.NoError(t, loss.Forwarding(run, true))
	assert.Greater(t, loss.Loss(), float32(0))

	require.NoError(t, loss.CalcDerivative(run))
	assert.InDelta(t, -0.5, run.InputGrad(0).Float32s()[0], 1e-6)
}

package model

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kparichay/nntrainer/internal/dataset"
	"github.com/kparichay/nntrainer/internal/layers"
	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/optim"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// linearModel builds input -> fc(1) -> mse with batch 4.
func linearModel(t *testing.T) *NeuralNetwork {
	t.Helper()
	net := NewNeuralNetwork()
	require.NoError(t, net.AddLayer(layers.TypeInput, "name=in", "input_shape=4:1:1:1"))
	require.NoError(t, net.AddLayer(layers.TypeFullyConnected, "name=fc", "unit=1"))
	require.NoError(t, net.AddLayer(layers.TypeMSELoss, "name=loss"))
	return net
}

// lineData returns samples of y = 2x - 1 over a small grid.
func lineData(t *testing.T, samples int) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	inputs, err := tensor.New(tensor.NewDim(samples, 1, 1, 1))
	require.NoError(t, err)
	labels, err := tensor.New(tensor.NewDim(samples, 1, 1, 1))
	require.NoError(t, err)
	for i := 0; i < samples; i++ {
		x := float32(i)/float32(samples) - 0.5
		inputs.Float32s()[i] = x
		labels.Float32s()[i] = 2*x - 1
	}
	return inputs, labels
}

func TestModelLifecycleGuards(t *testing.T) {
	net := linearModel(t)

	in, err := tensor.New(tensor.NewDim(4, 1, 1, 1))
	require.NoError(t, err)
	_, trainErr := net.TrainStep(in, in)
	assert.ErrorIs(t, trainErr, nn.ErrNotInitialized)
	_, inferErr := net.Infer(in)
	assert.ErrorIs(t, inferErr, nn.ErrNotInitialized)
	assert.ErrorIs(t, net.Save("x"), nn.ErrNotInitialized)

	require.NoError(t, net.Compile())
	assert.ErrorIs(t, net.Compile(), nn.ErrInvalidArgument)
	require.NoError(t, net.Initialize(true))
	assert.ErrorIs(t, net.Initialize(true), nn.ErrInvalidArgument)
}

func TestModelLearnsLine(t *testing.T) {
	net := linearModel(t)
	net.SetOptimizer(optim.NewSGD(optim.SGDConfig{LR: 0.5}))
	require.NoError(t, net.Compile())
	require.NoError(t, net.Initialize(true))

	inputs, labels := lineData(t, 16)
	src, err := dataset.NewInMemorySource(inputs, labels, 4, true, 7)
	require.NoError(t, err)
	buf := dataset.NewDataBuffer(src.Generate, dataset.Config{
		BatchSize: 4,
		BufferLen: 8,
		InputDim:  tensor.NewDim(1, 1, 1, 1),
		LabelDim:  tensor.NewDim(1, 1, 1, 1),
	})
	require.NoError(t, buf.Init())

	var infos []IterationInfo
	require.NoError(t, net.Train(buf, 50, func(info IterationInfo) {
		infos = append(infos, info)
	}))

	require.NotEmpty(t, infos)
	assert.Equal(t, 50*4, len(infos), "4 batches per epoch")
	assert.Equal(t, 50, net.Epoch())
	assert.Equal(t, len(infos), net.Iteration())
	assert.Less(t, infos[len(infos)-1].Loss, float32(1e-3))

	// The fit recovers slope 2 and intercept -1.
	fc := net.Graph().Node("fc")
	assert.InDelta(t, 2.0, fc.Weights()[0].Variable().Float32s()[0], 0.05)
	assert.InDelta(t, -1.0, fc.Weights()[1].Variable().Float32s()[0], 0.05)
}

func TestModelSaveLoadResumes(t *testing.T) {
	net := linearModel(t)
	net.SetOptimizer(optim.NewSGD(optim.SGDConfig{LR: 0.1}))
	require.NoError(t, net.Compile())
	require.NoError(t, net.Initialize(true))

	fc := net.Graph().Node("fc")
	copy(fc.Weights()[0].Variable().Float32s(), []float32{1.5})
	copy(fc.Weights()[1].Variable().Float32s(), []float32{-0.5})

	inputs, labels := lineData(t, 4)
	loss, err := net.TrainStep(inputs, labels)
	require.NoError(t, err)
	require.Greater(t, loss, float32(0))

	path := filepath.Join(t.TempDir(), "line.nntc")
	require.NoError(t, net.Save(path))

	other := linearModel(t)
	require.NoError(t, other.Compile())
	require.NoError(t, other.Initialize(true))
	require.NoError(t, other.Load(path))

	assert.Equal(t, net.RunID(), other.RunID())
	assert.Equal(t, net.Iteration(), other.Iteration())
	otherFC := other.Graph().Node("fc")
	assert.Equal(t,
		fc.Weights()[0].Variable().Float32s(),
		otherFC.Weights()[0].Variable().Float32s())
}

func TestModelInference(t *testing.T) {
	net := linearModel(t)
	require.NoError(t, net.Compile())
	require.NoError(t, net.Initialize(false))

	fc := net.Graph().Node("fc")
	copy(fc.Weights()[0].Variable().Float32s(), []float32{3})
	copy(fc.Weights()[1].Variable().Float32s(), []float32{1})

	in, err := tensor.New(tensor.NewDim(4, 1, 1, 1))
	require.NoError(t, err)
	copy(in.Float32s(), []float32{0, 1, 2, 3})
	out, err := net.Infer(in)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 4, 7, 10}, out.Float32s())

	// Inference-initialized models cannot train.
	_, err = net.TrainStep(in, in)
	assert.ErrorIs(t, err, nn.ErrNotInitialized)
}

func TestModelSummary(t *testing.T) {
	net := linearModel(t)
	require.NoError(t, net.Compile())
	s := net.Summary()
	assert.True(t, strings.Contains(s, "fc"))
	assert.True(t, strings.Contains(s, "fully_connected"))
	assert.True(t, strings.Contains(s, "total params: 2"))
	assert.True(t, strings.Contains(s, "gradient arena"))
}

func TestModelBatchSizeOverride(t *testing.T) {
	net := NewNeuralNetworkWithConfig(Config{
		BatchSize:           8,
		GradientMemoryOpt:   true,
		DerivativeMemoryOpt: true,
	})
	require.NoError(t, net.AddLayer(layers.TypeInput, "name=in", "input_shape=1:1:1:2"))
	require.NoError(t, net.AddLayer(layers.TypeFullyConnected, "name=fc", "unit=1"))
	require.NoError(t, net.AddLayer(layers.TypeMSELoss, "name=loss"))
	require.NoError(t, net.Compile())
	require.NoError(t, net.Initialize(false))

	in, err := tensor.New(tensor.NewDim(8, 1, 1, 2))
	require.NoError(t, err)
	out, err := net.Infer(in)
	require.NoError(t, err)
	assert.Equal(t, 8, out.Dim().Batch())
}

package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kparichay/nntrainer/internal/tensor"
)

func weightsOfSize(t *testing.T, name string, elems int) []*Weight {
	t.Helper()
	return []*Weight{
		NewWeight(tensor.NewDimFlat(elems), InitZeros, true, name),
	}
}

func TestManagerMaxWeightSize(t *testing.T) {
	m := NewManager()

	// Sizes per node: 100, 40, 250, 10. The arena must fit the
	// single largest node, not the sum.
	for _, tc := range []struct {
		name  string
		elems int
	}{
		{"fc0", 100}, {"fc1", 40}, {"fc2", 250}, {"fc3", 10},
	} {
		m.TrackWeights(weightsOfSize(t, tc.name, tc.elems))
	}

	assert.Equal(t, 250, m.MaxWeightSize())
	require.NoError(t, m.Initialize())

	// Each trainable gradient must be a live alias after the
	// allocation pass.
	for _, lw := range m.TrackedWeights() {
		for _, w := range lw {
			assert.False(t, w.Gradient().Uninitialized())
			assert.True(t, w.Gradient().IsShared())
		}
	}
}

func TestManagerMultiWeightNodeOffsets(t *testing.T) {
	m := NewManager()

	// One node with two trainable weights: their aliases must not
	// overlap inside the node.
	w0 := NewWeight(tensor.NewDimFlat(16), InitZeros, true, "fc:weight")
	w1 := NewWeight(tensor.NewDimFlat(4), InitZeros, true, "fc:bias")
	m.TrackWeights([]*Weight{w0, w1})

	// A second node: overlap with the first node is expected and is
	// the point of the optimization.
	w2 := NewWeight(tensor.NewDimFlat(8), InitZeros, true, "out:weight")
	m.TrackWeights([]*Weight{w2})

	require.Equal(t, 20, m.MaxWeightSize())
	require.NoError(t, m.Initialize())

	assert.Equal(t, 0, w0.Gradient().Offset())
	assert.Equal(t, 16, w1.Gradient().Offset())
	assert.True(t, w0.Gradient().SameBuffer(w1.Gradient()))

	// Different node: restarts at offset zero in the same arena.
	assert.Equal(t, 0, w2.Gradient().Offset())
	assert.True(t, w2.Gradient().SameBuffer(w0.Gradient()))
	assert.True(t, w2.Gradient().SharesStorageWith(w0.Gradient()))
}

func TestManagerZeroTrainableWeightsNode(t *testing.T) {
	m := NewManager()
	m.TrackWeights(weightsOfSize(t, "fc0", 100))

	frozen := NewWeight(tensor.NewDimFlat(500), InitZeros, false, "frozen")
	m.TrackWeights([]*Weight{frozen})

	assert.Equal(t, 100, m.MaxWeightSize(), "non-trainable weights must not grow the arena")

	require.NoError(t, m.Initialize())
	assert.True(t, frozen.Gradient().Uninitialized(),
		"non-trainable weight must never materialize a gradient")
	assert.False(t, frozen.Variable().IsShared(),
		"non-trainable weight value gets a private allocation")
}

func TestManagerGradientOptDisabled(t *testing.T) {
	m := NewManager()
	m.SetGradientMemoryOptimization(false)

	w0 := NewWeight(tensor.NewDimFlat(8), InitZeros, true, "a")
	w1 := NewWeight(tensor.NewDimFlat(8), InitZeros, true, "b")
	m.TrackWeights([]*Weight{w0})
	m.TrackWeights([]*Weight{w1})
	require.NoError(t, m.Initialize())

	assert.False(t, w0.Gradient().Uninitialized())
	assert.False(t, w0.Gradient().SameBuffer(w1.Gradient()),
		"with sharing off every gradient owns its buffer")
}

func TestManagerInitializeInOutsSharedArena(t *testing.T) {
	m := NewManager()

	// Two-node graph, node1 output feeds node2 input, both
	// trainable, shapes (batch=4, channel=1, height=1, width=8).
	dim := tensor.NewDim(4, 1, 1, 8)
	io1, err := m.TrackLayerInOuts("node1", []tensor.TensorDim{dim}, true)
	require.NoError(t, err)
	io2, err := m.TrackLayerInOuts("node2", []tensor.TensorDim{dim}, true)
	require.NoError(t, err)

	require.Equal(t, 32, m.MaxDerivativeSize())
	require.NoError(t, m.InitializeInOuts(true))

	for _, vg := range []*VarGrad{io1[0], io2[0]} {
		require.False(t, vg.Gradient().Uninitialized())
		assert.True(t, vg.Gradient().IsShared())
		assert.Equal(t, 0, vg.Gradient().Offset(),
			"each node resets the arena offset independently")
	}
	assert.True(t, io1[0].Gradient().SameBuffer(io2[0].Gradient()))

	// setBatchSize(8) afterwards: the arena's logical size scales to
	// 64 elements with metadata-only changes to the tracked pairs.
	require.NoError(t, m.SetBatchSize(8))
	assert.Equal(t, 64, m.MaxDerivativeSize())
	assert.Equal(t, 8, io1[0].Dim().Batch())
	assert.Equal(t, 8, io2[0].Dim().Batch())

	// Idempotence: repeating the same batch changes nothing.
	require.NoError(t, m.SetBatchSize(8))
	assert.Equal(t, 64, m.MaxDerivativeSize())
	assert.Equal(t, 8, io1[0].Dim().Batch())
}

func TestManagerInOutsInferenceSkipsDerivatives(t *testing.T) {
	m := NewManager()
	dim := tensor.NewDim(2, 1, 1, 4)
	io, err := m.TrackLayerInOuts("node", []tensor.TensorDim{dim}, true)
	require.NoError(t, err)

	require.NoError(t, m.InitializeInOuts(false))
	assert.False(t, io[0].Variable().Uninitialized())
	assert.True(t, io[0].Gradient().Uninitialized(),
		"inference initialization must not materialize derivatives")
}

func TestManagerUntrackLayerInOuts(t *testing.T) {
	m := NewManager()
	dim := tensor.NewDim(1, 1, 1, 4)
	_, err := m.TrackLayerInOuts("keep", []tensor.TensorDim{dim}, true)
	require.NoError(t, err)
	_, err = m.TrackLayerInOuts("drop", []tensor.TensorDim{dim}, true)
	require.NoError(t, err)

	m.UntrackLayerInOuts("drop")
	assert.Len(t, m.GetInputsLayer(-1), 1)
	assert.Equal(t, "keep:InOut0", m.GetInputsLayer(0)[0].Name())

	// Unknown name: silent no-op, no error signal to rely on.
	before := len(m.GetInputsLayer(-1))
	m.UntrackLayerInOuts("never-registered")
	assert.Equal(t, before, len(m.GetInputsLayer(-1)))
}

func TestManagerTrackInOutsRejectsZeroDim(t *testing.T) {
	m := NewManager()
	_, err := m.TrackLayerInOuts("bad", []tensor.TensorDim{tensor.NewDim(1, 0, 1, 4)}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestManagerReset(t *testing.T) {
	m := NewManager()
	m.TrackWeights(weightsOfSize(t, "fc", 64))
	_, err := m.TrackLayerInOuts("fc", []tensor.TensorDim{tensor.NewDim(1, 1, 1, 8)}, true)
	require.NoError(t, err)

	m.Reset()
	assert.Zero(t, m.MaxWeightSize())
	assert.Zero(t, m.MaxDerivativeSize())
	assert.Empty(t, m.TrackedWeights())
}

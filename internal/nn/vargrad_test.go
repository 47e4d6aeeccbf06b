package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kparichay/nntrainer/internal/tensor"
)

func TestVarGradShapeOnlyUntilInitialize(t *testing.T) {
	vg := NewVarGrad(tensor.NewDim(2, 1, 1, 4), true, "fc:InOut0")

	assert.True(t, vg.Variable().Uninitialized())
	assert.True(t, vg.Gradient().Uninitialized())
	assert.Equal(t, tensor.NewDim(2, 1, 1, 4), vg.Dim())

	require.NoError(t, vg.Initialize(nil, nil, true))
	assert.False(t, vg.Variable().Uninitialized())
	assert.False(t, vg.Gradient().Uninitialized())
}

func TestVarGradNonTrainableKeepsSentinelGradient(t *testing.T) {
	vg := NewVarGrad(tensor.NewDim(2, 1, 1, 4), false, "io")
	require.NoError(t, vg.Initialize(nil, nil, true))

	assert.False(t, vg.Variable().Uninitialized())
	assert.True(t, vg.Gradient().Uninitialized())
}

func TestVarGradInitializeBindsSharedGradient(t *testing.T) {
	arena, err := tensor.New(tensor.NewDimFlat(64))
	require.NoError(t, err)

	vg := NewVarGrad(tensor.NewDim(2, 1, 1, 4), true, "io")
	alias, err := arena.SharedTensor(vg.Dim(), 16)
	require.NoError(t, err)
	require.NoError(t, vg.Initialize(nil, alias, true))

	assert.True(t, vg.Gradient().IsShared())
	assert.Equal(t, 16, vg.Gradient().Offset())

	// Writes through the pair land in the arena.
	vg.Gradient().Fill(3)
	assert.Equal(t, float32(3), arena.GetValue(0, 0, 0, 16))
	assert.Equal(t, float32(0), arena.GetValue(0, 0, 0, 15))
}

func TestVarGradInitializeGradientZeroes(t *testing.T) {
	arena, err := tensor.New(tensor.NewDimFlat(8))
	require.NoError(t, err)
	arena.Fill(7)

	vg := NewVarGrad(tensor.NewDimFlat(8), true, "io")
	alias, err := arena.SharedTensor(vg.Dim(), 0)
	require.NoError(t, err)
	require.NoError(t, vg.Initialize(nil, alias, true))

	// Gradient buffers are not assumed zero on entry anywhere else,
	// but Initialize itself leaves a clean slate.
	for _, v := range vg.Gradient().Float32s() {
		assert.Equal(t, float32(0), v)
	}
}

func TestVarGradSetBatchSizeMetadataOnly(t *testing.T) {
	vg := NewVarGrad(tensor.NewDim(4, 1, 1, 8), true, "io")
	require.NoError(t, vg.Initialize(nil, nil, true))

	before := vg.Variable().Float32s()
	require.NoError(t, vg.SetBatchSize(2))
	assert.Equal(t, 2, vg.Dim().Batch())
	assert.Equal(t, 2, vg.Gradient().Dim().Batch())

	// Same backing storage, only the dim changed.
	vg2 := vg.Variable()
	require.NoError(t, vg2.SetBatch(4))
	assert.Equal(t, &before[0], &vg.Variable().Float32s()[0])
}

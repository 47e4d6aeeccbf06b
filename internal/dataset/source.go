package dataset

import (
	"fmt"
	"math/rand"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// InMemorySource serves batches from tensors held in memory, with
// optional per-epoch shuffling of the sample order. The epoch length
// is the number of whole batches; a trailing partial batch is
// dropped, matching fixed-batch training.
type InMemorySource struct {
	inputs *tensor.Tensor
	labels *tensor.Tensor

	batchSize int
	shuffle   bool
	rng       *rand.Rand

	order []int
	next  int
}

// NewInMemorySource wraps sample tensors whose batch axis is the
// sample count. Inputs and labels must agree on their sample count.
func NewInMemorySource(inputs, labels *tensor.Tensor, batchSize int, shuffle bool, seed int64) (*InMemorySource, error) {
	if inputs == nil || labels == nil {
		return nil, fmt.Errorf("%w: nil sample tensors", nn.ErrInvalidArgument)
	}
	if inputs.Dim().Batch() != labels.Dim().Batch() {
		return nil, fmt.Errorf("%w: %d input samples vs %d labels",
			nn.ErrInvalidArgument, inputs.Dim().Batch(), labels.Dim().Batch())
	}
	if batchSize <= 0 || batchSize > inputs.Dim().Batch() {
		return nil, fmt.Errorf("%w: batch size %d for %d samples",
			nn.ErrInvalidArgument, batchSize, inputs.Dim().Batch())
	}
	s := &InMemorySource{
		inputs:    inputs,
		labels:    labels,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
	s.reset()
	return s, nil
}

func (s *InMemorySource) reset() {
	n := s.inputs.Dim().Batch()
	if s.order == nil {
		s.order = make([]int, n)
		for i := range s.order {
			s.order[i] = i
		}
	}
	if s.shuffle {
		s.rng.Shuffle(n, func(i, j int) {
			s.order[i], s.order[j] = s.order[j], s.order[i]
		})
	}
	s.next = 0
}

// Batches returns the number of whole batches per epoch.
func (s *InMemorySource) Batches() int {
	return s.inputs.Dim().Batch() / s.batchSize
}

// Generate is the Generator adapter. It copies the next batchSize
// samples into the destination tensors and rewinds, reshuffling, at
// the epoch boundary.
func (s *InMemorySource) Generate(input, label *tensor.Tensor) (last bool, err error) {
	for i := 0; i < s.batchSize; i++ {
		sample := s.order[s.next]
		if err := copySample(input, i, s.inputs, sample); err != nil {
			return false, err
		}
		if err := copySample(label, i, s.labels, sample); err != nil {
			return false, err
		}
		s.next++
	}
	if s.next+s.batchSize > s.inputs.Dim().Batch() {
		s.reset()
		return true, nil
	}
	return false, nil
}

// copySample copies sample srcIdx of src into slot dstIdx of dst.
func copySample(dst *tensor.Tensor, dstIdx int, src *tensor.Tensor, srcIdx int) error {
	n := src.Dim().SampleLen()
	if dst.Dim().SampleLen() != n {
		return fmt.Errorf("%w: sample length %d vs %d",
			tensor.ErrShapeMismatch, dst.Dim().SampleLen(), n)
	}
	copy(dst.Float32s()[dstIdx*n:(dstIdx+1)*n], src.Float32s()[srcIdx*n:(srcIdx+1)*n])
	return nil
}

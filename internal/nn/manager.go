package nn

import (
	"fmt"

	"github.com/kparichay/nntrainer/internal/tensor"
)

// Manager plans and assigns the buffers behind every weight gradient
// and every input/output derivative in a model.
//
// Nodes register in strict topological execution order. Registration
// is a single linear pass that tracks two running maxima: the largest
// trainable-weight footprint of any single node and the largest
// trainable I/O footprint of any single node. The allocation pass then
// carves one shared arena per concern and binds each trainable tensor
// to an offset inside it, restarting the offset at zero for every
// node.
//
// The per-node offset reset assumes at most one node's gradients are
// live at any instant, which holds only under strictly sequential
// forward-then-backward execution. If execution is ever pipelined this
// scheme requires interval liveness analysis instead.
type Manager struct {
	weights [][]*Weight
	inOuts  [][]*VarGrad

	maxWeightSize     int
	maxDerivativeSize int

	enableGradientOpt   bool
	enableDerivativeOpt bool
}

// NewManager creates a Manager with both sharing optimizations on.
func NewManager() *Manager {
	return &Manager{
		enableGradientOpt:   true,
		enableDerivativeOpt: true,
	}
}

// SetGradientMemoryOptimization toggles gradient arena sharing.
func (m *Manager) SetGradientMemoryOptimization(opt bool) {
	m.enableGradientOpt = opt
}

// SetDerivativeMemoryOptimization toggles derivative arena sharing.
func (m *Manager) SetDerivativeMemoryOptimization(opt bool) {
	m.enableDerivativeOpt = opt
}

// TrackWeight registers a single weight as its own node entry.
func (m *Manager) TrackWeight(w *Weight) {
	m.TrackWeights([]*Weight{w})
}

// TrackWeights registers one node's weights. Must be called in
// topological execution order, once per node.
func (m *Manager) TrackWeights(ws []*Weight) {
	var weightSize int
	for _, w := range ws {
		if w.Trainable() {
			weightSize += w.Dim().DataLen()
		}
	}
	m.weights = append(m.weights, ws)
	m.maxWeightSize = max(m.maxWeightSize, weightSize)
}

// TrackLayerInOuts registers one node's I/O shapes, creating the
// backing VarGrad pairs named "<layer>:InOut<i>". Must be called in
// topological execution order.
func (m *Manager) TrackLayerInOuts(layerName string, dims []tensor.TensorDim, trainable bool) ([]*VarGrad, error) {
	var derivativeSize int
	inOut := make([]*VarGrad, 0, len(dims))
	for i, dim := range dims {
		if err := dim.Validate(); err != nil {
			return nil, fmt.Errorf("%w: layer %q input %d: %v", ErrInvalidArgument, layerName, i, err)
		}
		inOut = append(inOut, NewVarGrad(dim, trainable, fmt.Sprintf("%s:InOut%d", layerName, i)))
		if trainable {
			derivativeSize += dim.DataLen()
		}
	}

	m.inOuts = append(m.inOuts, inOut)
	m.maxDerivativeSize = max(m.maxDerivativeSize, derivativeSize)
	return inOut, nil
}

// UntrackLayerInOuts removes a layer's I/O entry, located through its
// first generated sub-tensor name. Unknown names are a silent no-op.
func (m *Manager) UntrackLayerInOuts(layerName string) {
	varName := layerName + ":InOut0"
	for i, inOut := range m.inOuts {
		if len(inOut) > 0 && inOut[0].Name() == varName {
			m.inOuts = append(m.inOuts[:i], m.inOuts[i+1:]...)
			return
		}
	}
}

// GetInputsLayer returns the VarGrads tracked for the node at the
// given execution index. Index -1 returns the last tracked entry.
func (m *Manager) GetInputsLayer(idx int) []*VarGrad {
	if idx == -1 {
		return m.inOuts[len(m.inOuts)-1]
	}
	return m.inOuts[idx]
}

// MaxWeightSize returns the largest trainable-weight element count of
// any single registered node: the gradient arena size.
func (m *Manager) MaxWeightSize() int { return m.maxWeightSize }

// MaxDerivativeSize returns the largest trainable I/O element count
// of any single registered node: the derivative arena size.
func (m *Manager) MaxDerivativeSize() int { return m.maxDerivativeSize }

// Initialize allocates the shared gradient arena and walks every
// tracked weight in registration order, binding trainable gradients
// to per-node offsets inside the arena. Non-trainable weights, or all
// weights when sharing is off, get private allocations.
func (m *Manager) Initialize() error {
	var sharedGrad *tensor.Tensor
	if m.maxWeightSize > 0 && m.enableGradientOpt {
		var err error
		sharedGrad, err = tensor.New(tensor.NewDimFlat(m.maxWeightSize))
		if err != nil {
			return fmt.Errorf("gradient arena: %w", err)
		}
	}

	for _, layerWeights := range m.weights {
		offset := 0
		for _, w := range layerWeights {
			if w.Trainable() && sharedGrad != nil {
				alias, err := sharedGrad.SharedTensor(w.Dim(), offset)
				if err != nil {
					return fmt.Errorf("weight %q: %w", w.Name(), err)
				}
				if err := w.Initialize(alias); err != nil {
					return err
				}
				offset += w.Dim().DataLen()
			} else if err := w.Initialize(nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// InitializeInOuts allocates the shared derivative arena and binds
// every tracked I/O pair, with the same per-node offset reset as
// Initialize. When withGradient is false (inference) no derivative
// buffers are materialized and the arena is not consumed.
func (m *Manager) InitializeInOuts(withGradient bool) error {
	var sharedDeriv *tensor.Tensor
	if m.maxDerivativeSize > 0 && m.enableDerivativeOpt {
		var err error
		sharedDeriv, err = tensor.New(tensor.NewDimFlat(m.maxDerivativeSize))
		if err != nil {
			return fmt.Errorf("derivative arena: %w", err)
		}
	}

	for _, layerInOuts := range m.inOuts {
		offset := 0
		for _, vg := range layerInOuts {
			if vg.Trainable() && sharedDeriv != nil {
				alias, err := sharedDeriv.SharedTensor(vg.Dim(), offset)
				if err != nil {
					return fmt.Errorf("in/out %q: %w", vg.Name(), err)
				}
				if err := vg.Initialize(nil, alias, withGradient); err != nil {
					return err
				}
				if withGradient {
					offset += vg.Dim().DataLen()
				}
			} else if err := vg.Initialize(nil, nil, withGradient); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetBatchSize rescales the derivative arena size for the new batch
// and propagates the batch to every tracked I/O pair. Per-node shape
// records are not retained after registration, so the arena size is
// scaled proportionally (old total / old batch * new batch) instead
// of being recomputed.
func (m *Manager) SetBatchSize(batch int) error {
	if batch <= 0 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidArgument, batch)
	}
	if len(m.inOuts) > 0 && len(m.inOuts[0]) > 0 {
		oldBatch := m.inOuts[0][0].Dim().Batch()
		m.maxDerivativeSize = m.maxDerivativeSize / oldBatch * batch
	}
	for _, layerInOuts := range m.inOuts {
		for _, vg := range layerInOuts {
			if err := vg.SetBatchSize(batch); err != nil {
				return err
			}
		}
	}
	return nil
}

// TrackedWeights returns the per-node weight references in
// registration order. The optimizer and persistence walk this.
func (m *Manager) TrackedWeights() [][]*Weight { return m.weights }

// Reset clears all tracking state and the running maxima. Arenas
// already bound to initialized tensors are not freed here; they stay
// valid until their owners drop them. Never call Reset while bound
// aliases are still in active use.
func (m *Manager) Reset() {
	m.weights = nil
	m.inOuts = nil
	m.maxWeightSize = 0
	m.maxDerivativeSize = 0
}

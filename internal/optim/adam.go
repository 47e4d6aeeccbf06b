package optim

import (
	"fmt"
	"math"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// TypeAdam is the registry tag of the Adam optimizer.
const TypeAdam = "adam"

// Adam keeps exponential moving averages of each weight's gradient
// and squared gradient, with bias correction folded into the step
// size. The moment tensors are privately allocated per weight; only
// they survive between Apply calls, never the gradient buffers.
//
// Reference: Kingma & Ba, "Adam: A Method for Stochastic
// Optimization".
type Adam struct {
	cfg     AdamConfig
	moments map[*nn.Weight]*adamState
}

type adamState struct {
	m, v *tensor.Tensor
}

// AdamConfig configures Adam. Zero values default to LR 0.001,
// Beta1 0.9, Beta2 0.999, Epsilon 1e-8.
type AdamConfig struct {
	Config
	Beta1   float32
	Beta2   float32
	Epsilon float32
}

// NewAdam creates an Adam optimizer.
func NewAdam(cfg AdamConfig) *Adam {
	if cfg.LR == 0 {
		cfg.LR = 0.001
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	return &Adam{cfg: cfg, moments: map[*nn.Weight]*adamState{}}
}

// Type returns the registry tag.
func (a *Adam) Type() string { return TypeAdam }

// Initialize allocates zeroed moment tensors for every trainable
// weight.
func (a *Adam) Initialize(nodes [][]*nn.Weight) error {
	if err := a.cfg.validate(); err != nil {
		return err
	}
	if a.cfg.Beta1 <= 0 || a.cfg.Beta1 >= 1 || a.cfg.Beta2 <= 0 || a.cfg.Beta2 >= 1 {
		return fmt.Errorf("%w: betas (%v, %v) outside (0, 1)",
			nn.ErrInvalidArgument, a.cfg.Beta1, a.cfg.Beta2)
	}
	for _, ws := range nodes {
		for _, w := range ws {
			if !w.Trainable() {
				continue
			}
			m, err := tensor.New(w.Dim())
			if err != nil {
				return fmt.Errorf("adam moment for %q: %w", w.Name(), err)
			}
			v, err := tensor.New(w.Dim())
			if err != nil {
				return fmt.Errorf("adam moment for %q: %w", w.Name(), err)
			}
			a.moments[w] = &adamState{m: m, v: v}
		}
	}
	return nil
}

// Apply updates one node's weights with bias-corrected moments.
func (a *Adam) Apply(ws []*nn.Weight, iteration int) error {
	// Bias correction uses the 1-based step count.
	t := float64(iteration + 1)
	biasCorr := float32(math.Sqrt(1-math.Pow(float64(a.cfg.Beta2), t)) /
		(1 - math.Pow(float64(a.cfg.Beta1), t)))
	lr := a.LearningRate(iteration) * biasCorr

	for _, w := range ws {
		if !w.Trainable() {
			continue
		}
		st := a.moments[w]
		if st == nil {
			return fmt.Errorf("%w: weight %q has no adam state",
				nn.ErrNotInitialized, w.Name())
		}
		grad := w.Gradient().Float32s()
		value := w.Variable().Float32s()
		m := st.m.Float32s()
		v := st.v.Float32s()
		for i, g := range grad {
			m[i] = a.cfg.Beta1*m[i] + (1-a.cfg.Beta1)*g
			v[i] = a.cfg.Beta2*v[i] + (1-a.cfg.Beta2)*g*g
			value[i] -= lr * m[i] / (float32(math.Sqrt(float64(v[i]))) + a.cfg.Epsilon)
		}
	}
	return nil
}

// LearningRate returns the decayed learning rate, without bias
// correction.
func (a *Adam) LearningRate(iteration int) float32 {
	return a.cfg.learningRate(iteration)
}

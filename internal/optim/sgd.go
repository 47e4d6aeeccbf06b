package optim

import "github.com/kparichay/nntrainer/internal/nn"

// TypeSGD is the registry tag of plain stochastic gradient descent.
const TypeSGD = "sgd"

// SGD applies w -= lr * grad. It carries no per-weight state, so
// the shared gradient arena costs it nothing.
type SGD struct {
	cfg Config
}

// SGDConfig configures SGD. A zero LR defaults to 0.01.
type SGDConfig = Config

// NewSGD creates an SGD optimizer.
func NewSGD(cfg SGDConfig) *SGD {
	if cfg.LR == 0 {
		cfg.LR = 0.01
	}
	return &SGD{cfg: cfg}
}

// Type returns the registry tag.
func (s *SGD) Type() string { return TypeSGD }

// Initialize validates the configuration; SGD keeps no state.
func (s *SGD) Initialize([][]*nn.Weight) error { return s.cfg.validate() }

// Apply steps one node's trainable weights down their gradients.
func (s *SGD) Apply(ws []*nn.Weight, iteration int) error {
	lr := s.LearningRate(iteration)
	for _, w := range ws {
		if !w.Trainable() {
			continue
		}
		if err := w.ApplyGradient(-lr); err != nil {
			return err
		}
	}
	return nil
}

// LearningRate returns the decayed learning rate.
func (s *SGD) LearningRate(iteration int) float32 {
	return s.cfg.learningRate(iteration)
}

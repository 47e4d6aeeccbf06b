// Package optim implements the gradient-descent optimizers that
// consume the per-node weight gradients produced by the backward
// pass.
//
// Apply runs once per node, inside the backward walk, while that
// node's gradients are valid. The shared gradient arena reuses the
// same storage for every node, so an optimizer must never stash a
// reference to a gradient buffer across Apply calls; any state it
// keeps (moments, velocities) lives in private tensors keyed by the
// weight identity.
package optim

import (
	"fmt"
	"math"

	"github.com/kparichay/nntrainer/internal/nn"
)

// Optimizer updates weights from their gradients.
type Optimizer interface {
	// Type returns the optimizer's registry tag.
	Type() string
	// Initialize prepares per-weight state for the tracked weights.
	Initialize(nodes [][]*nn.Weight) error
	// Apply consumes one node's gradients at the given iteration.
	// The gradients are only valid for the duration of the call.
	Apply(ws []*nn.Weight, iteration int) error
	// LearningRate returns the decayed learning rate at an iteration.
	LearningRate(iteration int) float32
}

// Config carries the hyperparameters shared by all optimizers.
type Config struct {
	// LR is the base learning rate.
	LR float32
	// DecayRate and DecaySteps apply exponential decay:
	// lr * DecayRate^(iteration/DecaySteps). DecaySteps zero
	// disables decay.
	DecayRate  float32
	DecaySteps int
}

func (c Config) validate() error {
	if c.LR <= 0 {
		return fmt.Errorf("%w: learning rate %v", nn.ErrInvalidArgument, c.LR)
	}
	if c.DecaySteps < 0 {
		return fmt.Errorf("%w: decay steps %d", nn.ErrInvalidArgument, c.DecaySteps)
	}
	return nil
}

func (c Config) learningRate(iteration int) float32 {
	if c.DecaySteps == 0 {
		return c.LR
	}
	return c.LR * float32(math.Pow(float64(c.DecayRate),
		float64(iteration)/float64(c.DecaySteps)))
}

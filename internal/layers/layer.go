// Package layers defines the capability contract every layer
// implementation satisfies, the contexts the graph hands to them, and
// the concrete layers shipped with the trainer.
//
// A layer never allocates its own I/O buffers. It declares shapes and
// weights during Finalize through an InitContext; the graph and the
// memory manager decide where the backing storage lives and deliver
// it through the RunContext.
package layers

import (
	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// Layer is the capability interface the graph drives. Implementations
// hold only their configuration and whatever state Finalize derives
// from it; all tensor storage is context-supplied.
type Layer interface {
	// Type returns the registry tag of this layer kind.
	Type() string

	// SetProperty applies one key=value pair. Keys a layer does not
	// recognize are an invalid-argument error; the node intercepts
	// its own keys before delegating here.
	SetProperty(key, value string) error

	// Clone returns an independent copy carrying the same
	// configuration. Only meaningful before Finalize.
	Clone() Layer

	// Finalize fixes the input shapes, declares weights, and derives
	// output shapes into the context. Called exactly once per node.
	Finalize(ctx *InitContext) error

	// Forwarding consumes input values and produces output values.
	// In training mode a layer may stage values it needs for the
	// backward pass. Gradient buffers carry garbage on entry.
	Forwarding(ctx *RunContext, training bool) error

	// CalcDerivative consumes the output gradient and produces the
	// input gradient to propagate to the predecessor. Requires the
	// output gradient to be populated.
	CalcDerivative(ctx *RunContext) error

	// CalcGradient consumes input values and the output gradient and
	// produces this layer's weight gradients. Layers without
	// trainable weights skip this entirely.
	CalcGradient(ctx *RunContext) error

	// SetBatch lets a layer rescale internal per-batch state. Most
	// layers have none and return nil.
	SetBatch(batch int) error

	// SupportInPlace reports whether the layer can run with its
	// output aliasing its input.
	SupportInPlace() bool

	// RequireLabel reports whether the layer consumes a label during
	// the backward pass (loss layers).
	RequireLabel() bool
}

// InitContext carries shape negotiation for one node's Finalize.
type InitContext struct {
	name      string
	inputDims []tensor.TensorDim

	outputDims []tensor.TensorDim
	weights    []*nn.Weight
}

// NewInitContext creates the pre-finalize, shape-only context.
func NewInitContext(name string, inputDims []tensor.TensorDim) *InitContext {
	return &InitContext{name: name, inputDims: inputDims}
}

// Name returns the owning node's unique name.
func (c *InitContext) Name() string { return c.name }

// InputDims returns the declared input shapes.
func (c *InitContext) InputDims() []tensor.TensorDim { return c.inputDims }

// SetOutputDims records the shapes this layer produces.
func (c *InitContext) SetOutputDims(dims []tensor.TensorDim) { c.outputDims = dims }

// OutputDims returns the shapes recorded by the layer.
func (c *InitContext) OutputDims() []tensor.TensorDim { return c.outputDims }

// RequestWeight declares a weight owned by this node. The weight is
// shape-only until the memory manager initializes it.
func (c *InitContext) RequestWeight(dim tensor.TensorDim, init nn.Initializer, trainable bool, name string) *nn.Weight {
	w := nn.NewWeight(dim, init, trainable, c.name+":"+name)
	c.weights = append(c.weights, w)
	return w
}

// Weights returns the weights declared so far, in declaration order.
func (c *InitContext) Weights() []*nn.Weight { return c.weights }

// adoptWeights surfaces weights declared by a nested context, used by
// composite layers that finalize an inner layer.
func (c *InitContext) adoptWeights(ws []*nn.Weight) {
	c.weights = append(c.weights, ws...)
}

// SetBatch rewrites the batch axis of the declared input shapes.
func (c *InitContext) SetBatch(batch int) {
	for i, d := range c.inputDims {
		c.inputDims[i] = d.WithBatch(batch)
	}
	for i, d := range c.outputDims {
		c.outputDims[i] = d.WithBatch(batch)
	}
}

// RunContext carries the live, manager-bound buffers for one node.
type RunContext struct {
	weights []*nn.Weight
	inputs  []*nn.VarGrad
	outputs []*nn.VarGrad

	loss float32
}

// NewRunContext binds weights and I/O pairs into an execution context.
func NewRunContext(weights []*nn.Weight, inputs, outputs []*nn.VarGrad) *RunContext {
	return &RunContext{weights: weights, inputs: inputs, outputs: outputs}
}

// NumInputs returns the number of input pairs.
func (c *RunContext) NumInputs() int { return len(c.inputs) }

// NumOutputs returns the number of output pairs.
func (c *RunContext) NumOutputs() int { return len(c.outputs) }

// NumWeights returns the number of weights.
func (c *RunContext) NumWeights() int { return len(c.weights) }

// Weight returns the i-th weight.
func (c *RunContext) Weight(i int) *nn.Weight { return c.weights[i] }

// Input returns the i-th input value tensor.
func (c *RunContext) Input(i int) *tensor.Tensor { return c.inputs[i].Variable() }

// InputGrad returns the i-th input gradient tensor, the derivative
// this node propagates to its predecessor.
func (c *RunContext) InputGrad(i int) *tensor.Tensor { return c.inputs[i].Gradient() }

// Output returns the i-th output value tensor.
func (c *RunContext) Output(i int) *tensor.Tensor { return c.outputs[i].Variable() }

// OutputGrad returns the i-th output gradient tensor, the derivative
// arriving from the successor (or the label, for loss layers).
func (c *RunContext) OutputGrad(i int) *tensor.Tensor { return c.outputs[i].Gradient() }

// InputPair returns the i-th input VarGrad.
func (c *RunContext) InputPair(i int) *nn.VarGrad { return c.inputs[i] }

// OutputPair returns the i-th output VarGrad.
func (c *RunContext) OutputPair(i int) *nn.VarGrad { return c.outputs[i] }

// SetLoss stores the scalar loss computed by a loss layer.
func (c *RunContext) SetLoss(l float32) { c.loss = l }

// Loss returns the last stored scalar loss.
func (c *RunContext) Loss() float32 { return c.loss }

// SetBatch propagates a batch change to every bound pair.
func (c *RunContext) SetBatch(batch int) error {
	for _, vg := range c.inputs {
		if err := vg.SetBatchSize(batch); err != nil {
			return err
		}
	}
	for _, vg := range c.outputs {
		if err := vg.SetBatchSize(batch); err != nil {
			return err
		}
	}
	return nil
}

// Package graph wires layer implementations into an executable
// network: nodes with a finalize/forward/backward lifecycle, a
// topologically ordered graph, and the driver loops that run one
// training step against manager-planned buffers.
package graph

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/kparichay/nntrainer/internal/layers"
	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// LayerNode wraps one layer's computation with its declared buffers
// and its position in the graph's execution order.
//
// A node is Unfinalized until Finalize fixes its input shapes into an
// execution context; the transition happens once and is never
// reversed. Before finalization SetBatch targets the shape-only
// context; afterwards every operation runs against the live,
// manager-bound buffers.
type LayerNode struct {
	name  string
	index int
	layer layers.Layer

	inputLayers []string
	trainable   bool
	distribute  bool

	inputDims []tensor.TensorDim
	initCtx   *layers.InitContext
	runCtx    *layers.RunContext
	finalized bool
}

// NewLayerNode wraps a layer and applies the given properties. The
// node intercepts its own keys; everything else passes through to the
// layer.
func NewLayerNode(layer layers.Layer, props ...string) (*LayerNode, error) {
	n := &LayerNode{layer: layer, trainable: true}
	if err := n.SetProperty(props); err != nil {
		return nil, err
	}
	return n, nil
}

// Name returns the node's unique name.
func (n *LayerNode) Name() string { return n.name }

// Type returns the effective layer type tag.
func (n *LayerNode) Type() string { return n.layer.Type() }

// Index returns the node's position in sorted execution order.
func (n *LayerNode) Index() int { return n.index }

// setIndex is called once by the graph after the topological sort.
func (n *LayerNode) setIndex(idx int) { n.index = idx }

// Trainable reports whether this node's weights receive updates.
func (n *LayerNode) Trainable() bool { return n.trainable }

// InputLayers returns the declared predecessor names.
func (n *LayerNode) InputLayers() []string { return n.inputLayers }

// Finalized reports whether the node has entered the Finalized state.
func (n *LayerNode) Finalized() bool { return n.finalized }

// SetInputDims declares the input shapes. Only valid before Finalize.
func (n *LayerNode) SetInputDims(dims ...tensor.TensorDim) error {
	if n.finalized {
		return errors.Wrapf(nn.ErrInvalidArgument, "node %q: input dims after finalize", n.name)
	}
	n.inputDims = dims
	return nil
}

// InputDims returns the declared input shapes.
func (n *LayerNode) InputDims() []tensor.TensorDim { return n.inputDims }

// OutputDims returns the shapes the layer derived at Finalize.
func (n *LayerNode) OutputDims() []tensor.TensorDim {
	if n.initCtx == nil {
		return nil
	}
	return n.initCtx.OutputDims()
}

// Weights returns the weights declared at Finalize, in order.
func (n *LayerNode) Weights() []*nn.Weight {
	if n.initCtx == nil {
		return nil
	}
	return n.initCtx.Weights()
}

// SetProperty applies key=value pairs. Application is all-or-nothing
// per call: every pair is parsed and validated before any node state
// changes, and a rejected pair leaves the node untouched.
func (n *LayerNode) SetProperty(props []string) error {
	type staged struct {
		key, value string
	}
	var nodeProps, layerProps []staged

	for _, prop := range props {
		key, value, err := layers.SplitProperty(prop)
		if err != nil {
			return err
		}
		switch key {
		case "name", "input_layers", "trainable", "distribute", "input_shape":
			// Validate now, apply after the layer accepted its share.
			switch key {
			case "trainable", "distribute":
				if _, err := layers.ParseBool(key, value); err != nil {
					return err
				}
			case "input_shape":
				if _, err := parseShape(value); err != nil {
					return err
				}
			}
			nodeProps = append(nodeProps, staged{key, value})
		default:
			layerProps = append(layerProps, staged{key, value})
		}
	}

	if len(layerProps) > 0 {
		// Apply to a clone so a rejected pair cannot leave earlier
		// pairs behind; commit by swapping the layer in.
		trial := n.layer.Clone()
		for _, p := range layerProps {
			if err := trial.SetProperty(p.key, p.value); err != nil {
				return err
			}
		}
		n.layer = trial
	}
	for _, p := range nodeProps {
		switch p.key {
		case "name":
			n.name = p.value
		case "input_layers":
			n.inputLayers = splitNames(p.value)
		case "trainable":
			n.trainable, _ = layers.ParseBool(p.key, p.value)
		case "distribute":
			dist, _ := layers.ParseBool(p.key, p.value)
			if dist && !n.distribute {
				n.layer = layers.NewTimeDist(n.layer)
			}
			n.distribute = dist
		case "input_shape":
			dim, _ := parseShape(p.value)
			n.inputDims = []tensor.TensorDim{dim}
		}
	}
	return nil
}

// Finalize fixes the input shapes into an execution context and
// transitions the node. A failed finalize leaves the node in the
// unfinalized state.
func (n *LayerNode) Finalize() error {
	if n.finalized {
		return errors.Wrapf(nn.ErrInvalidArgument, "node %q: already finalized", n.name)
	}
	if len(n.inputDims) == 0 {
		return errors.Wrapf(nn.ErrInvalidArgument, "node %q: no input dims declared", n.name)
	}
	ctx := layers.NewInitContext(n.name, n.inputDims)
	if err := n.layer.Finalize(ctx); err != nil {
		return errors.WithMessagef(err, "node %q", n.name)
	}
	n.initCtx = ctx
	n.finalized = true
	return nil
}

// BindBuffers attaches the manager-initialized I/O pairs, creating
// the run context the per-step operations execute against.
func (n *LayerNode) BindBuffers(inputs, outputs []*nn.VarGrad) error {
	if !n.finalized {
		return errors.Wrapf(nn.ErrNotInitialized, "node %q: bind before finalize", n.name)
	}
	n.runCtx = layers.NewRunContext(n.initCtx.Weights(), inputs, outputs)
	return nil
}

// RunContext returns the live execution context, nil before binding.
func (n *LayerNode) RunContext() *layers.RunContext { return n.runCtx }

func (n *LayerNode) ready() error {
	if !n.finalized {
		return errors.Wrapf(nn.ErrNotInitialized, "node %q: not finalized", n.name)
	}
	if n.runCtx == nil {
		return errors.Wrapf(nn.ErrNotInitialized, "node %q: buffers not bound", n.name)
	}
	return nil
}

// Forwarding runs the layer's forward pass on the bound buffers.
func (n *LayerNode) Forwarding(training bool) error {
	if err := n.ready(); err != nil {
		return err
	}
	return errors.WithMessagef(n.layer.Forwarding(n.runCtx, training), "node %q", n.name)
}

// CalcDerivative produces the derivative to propagate to the
// predecessor. Requires the output gradient to be populated.
func (n *LayerNode) CalcDerivative() error {
	if err := n.ready(); err != nil {
		return err
	}
	return errors.WithMessagef(n.layer.CalcDerivative(n.runCtx), "node %q", n.name)
}

// CalcGradient produces this node's weight gradients. The layer is
// called even with zero weights: the time-distributed wrapper keys
// its backward buffer transposition off this pass.
func (n *LayerNode) CalcGradient() error {
	if err := n.ready(); err != nil {
		return err
	}
	return errors.WithMessagef(n.layer.CalcGradient(n.runCtx), "node %q", n.name)
}

// SetBatch rewrites the batch dimension, dispatching to whichever
// context is current. Idempotent and callable in either state.
func (n *LayerNode) SetBatch(batch int) error {
	if batch <= 0 {
		return errors.Wrapf(nn.ErrInvalidArgument, "node %q: batch %d", n.name, batch)
	}
	if n.finalized && n.runCtx != nil {
		if err := n.runCtx.SetBatch(batch); err != nil {
			return err
		}
	} else if n.finalized {
		n.initCtx.SetBatch(batch)
	} else {
		for i, d := range n.inputDims {
			n.inputDims[i] = d.WithBatch(batch)
		}
	}
	return n.layer.SetBatch(batch)
}

// SupportInPlace reports whether the wrapped layer can run in place.
func (n *LayerNode) SupportInPlace() bool { return n.layer.SupportInPlace() }

// RequireLabel reports whether the wrapped layer consumes a label.
func (n *LayerNode) RequireLabel() bool { return n.layer.RequireLabel() }

// Loss returns the scalar loss stored by a loss layer, zero otherwise.
func (n *LayerNode) Loss() float32 {
	if n.runCtx == nil {
		return 0
	}
	return n.runCtx.Loss()
}

func splitNames(value string) []string {
	parts := strings.Split(value, ",")
	names := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// parseShape parses "batch:channel:height:width".
func parseShape(value string) (tensor.TensorDim, error) {
	parts := strings.Split(value, ":")
	if len(parts) != tensor.MaxDim {
		return tensor.TensorDim{}, errors.Wrapf(nn.ErrInvalidArgument,
			"input_shape %q, want batch:channel:height:width", value)
	}
	var dims [tensor.MaxDim]int
	for i, p := range parts {
		n, err := layers.ParseUint("input_shape", strings.TrimSpace(p))
		if err != nil {
			return tensor.TensorDim{}, err
		}
		dims[i] = n
	}
	return tensor.NewDim(dims[0], dims[1], dims[2], dims[3]), nil
}

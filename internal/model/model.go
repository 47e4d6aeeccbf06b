// Package model ties the pieces into a trainable network: graph
// construction from layer descriptions, the epoch/iteration training
// loop over a data buffer, optimizer application inside the backward
// walk, and checkpoint persistence.
package model

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kparichay/nntrainer/internal/dataset"
	"github.com/kparichay/nntrainer/internal/graph"
	"github.com/kparichay/nntrainer/internal/layers"
	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/optim"
	"github.com/kparichay/nntrainer/internal/serialization"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// Config holds network-level settings.
type Config struct {
	// BatchSize overrides the batch size declared by the first
	// layer's input shape when nonzero.
	BatchSize int
	// GradientMemoryOpt and DerivativeMemoryOpt toggle the shared
	// arenas; both default on through NewNeuralNetwork.
	GradientMemoryOpt   bool
	DerivativeMemoryOpt bool
	// Registry resolves layer type tags; nil means the default set.
	Registry *layers.Registry
}

// IterationInfo is passed to the training callback after every
// optimizer step.
type IterationInfo struct {
	Epoch     int
	Iteration int
	Loss      float32
}

// NeuralNetwork owns a graph, its buffer manager and an optimizer,
// and drives training and inference.
type NeuralNetwork struct {
	cfg      Config
	manager  *nn.Manager
	graph    *graph.NetworkGraph
	opt      optim.Optimizer
	registry *layers.Registry

	runID     string
	epoch     int
	iteration int

	compiled    bool
	initialized bool
	training    bool
}

// NewNeuralNetwork creates an empty network with both memory
// optimizations enabled.
func NewNeuralNetwork() *NeuralNetwork {
	return NewNeuralNetworkWithConfig(Config{
		GradientMemoryOpt:   true,
		DerivativeMemoryOpt: true,
	})
}

// NewNeuralNetworkWithConfig creates an empty network.
func NewNeuralNetworkWithConfig(cfg Config) *NeuralNetwork {
	m := nn.NewManager()
	m.SetGradientMemoryOptimization(cfg.GradientMemoryOpt)
	m.SetDerivativeMemoryOptimization(cfg.DerivativeMemoryOpt)
	reg := cfg.Registry
	if reg == nil {
		reg = layers.DefaultRegistry()
	}
	return &NeuralNetwork{
		cfg:      cfg,
		manager:  m,
		graph:    graph.NewNetworkGraph(m),
		registry: reg,
		runID:    uuid.NewString(),
	}
}

// RunID identifies this training run in checkpoints and logs.
func (net *NeuralNetwork) RunID() string { return net.runID }

// AddLayer appends a layer described by its registry tag and
// key=value properties.
func (net *NeuralNetwork) AddLayer(typ string, props ...string) error {
	layer, err := net.registry.Create(typ)
	if err != nil {
		return err
	}
	node, err := graph.NewLayerNode(layer, props...)
	if err != nil {
		return errors.WithMessagef(err, "layer %s", typ)
	}
	return net.graph.AddNode(node)
}

// SetOptimizer sets the optimizer used by Train and TrainStep.
func (net *NeuralNetwork) SetOptimizer(opt optim.Optimizer) { net.opt = opt }

// Graph exposes the underlying graph, mainly for inspection.
func (net *NeuralNetwork) Graph() *graph.NetworkGraph { return net.graph }

// Compile finalizes the graph and plans all buffers.
func (net *NeuralNetwork) Compile() error {
	if net.compiled {
		return errors.Wrap(nn.ErrInvalidArgument, "model: already compiled")
	}
	if err := net.graph.Compile(); err != nil {
		return err
	}
	if net.cfg.BatchSize > 0 {
		if err := net.graph.SetBatchSize(net.cfg.BatchSize); err != nil {
			return err
		}
	}
	net.compiled = true
	return nil
}

// Initialize allocates storage and, when training, sets up the
// optimizer state. Must follow Compile.
func (net *NeuralNetwork) Initialize(training bool) error {
	if net.initialized {
		return errors.Wrap(nn.ErrInvalidArgument, "model: already initialized")
	}
	if err := net.graph.Initialize(training); err != nil {
		return err
	}
	if training {
		if net.opt == nil {
			net.opt = optim.NewSGD(optim.SGDConfig{})
		}
		if err := net.opt.Initialize(net.manager.TrackedWeights()); err != nil {
			return err
		}
	}
	net.initialized = true
	net.training = training
	klog.V(1).Infof("model initialized: run %s, training %v", net.runID, training)
	return nil
}

// TrainStep runs one forward/backward pass with an optimizer update
// and returns the loss.
func (net *NeuralNetwork) TrainStep(input, label *tensor.Tensor) (float32, error) {
	if !net.initialized || !net.training {
		return 0, errors.Wrap(nn.ErrNotInitialized, "model: not initialized for training")
	}
	if err := net.graph.LoadInput(input); err != nil {
		return 0, err
	}
	if err := net.graph.LoadLabel(label); err != nil {
		return 0, err
	}
	if err := net.graph.Forwarding(true); err != nil {
		return 0, err
	}
	err := net.graph.Backwarding(func(node *graph.LayerNode) error {
		if !node.Trainable() || len(node.Weights()) == 0 {
			return nil
		}
		return net.opt.Apply(node.Weights(), net.iteration)
	})
	if err != nil {
		return 0, err
	}
	net.iteration++
	return net.graph.Loss(), nil
}

// Train runs full epochs over the data buffer. The callback, if any,
// fires after every iteration.
func (net *NeuralNetwork) Train(buf *dataset.DataBuffer, epochs int, cb func(IterationInfo)) error {
	if epochs <= 0 {
		return errors.Wrapf(nn.ErrInvalidArgument, "model: %d epochs", epochs)
	}
	for e := 0; e < epochs; e++ {
		if err := buf.Start(); err != nil {
			return err
		}
		var epochLoss float64
		var batches int
		for {
			batch, ok, err := buf.GetData()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			loss, err := net.TrainStep(batch.Input, batch.Label)
			if err != nil {
				buf.Stop()
				return err
			}
			epochLoss += float64(loss)
			batches++
			if cb != nil {
				cb(IterationInfo{Epoch: net.epoch, Iteration: net.iteration, Loss: loss})
			}
		}
		net.epoch++
		if batches > 0 {
			klog.Infof("epoch %d: avg loss %.6f over %d batches",
				net.epoch, epochLoss/float64(batches), batches)
		}
	}
	return nil
}

// Infer runs a forward pass and returns a copy of the network
// output.
func (net *NeuralNetwork) Infer(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !net.initialized {
		return nil, errors.Wrap(nn.ErrNotInitialized, "model: not initialized")
	}
	if err := net.graph.LoadInput(input); err != nil {
		return nil, err
	}
	if err := net.graph.Forwarding(false); err != nil {
		return nil, err
	}
	return net.graph.Output().Clone()
}

// Loss returns the loss of the last forward pass.
func (net *NeuralNetwork) Loss() float32 { return net.graph.Loss() }

// Epoch and Iteration report training progress.
func (net *NeuralNetwork) Epoch() int     { return net.epoch }
func (net *NeuralNetwork) Iteration() int { return net.iteration }

// Save writes a checkpoint of all tracked weights.
func (net *NeuralNetwork) Save(path string) error {
	if !net.initialized {
		return errors.Wrap(nn.ErrNotInitialized, "model: save before initialize")
	}
	meta := serialization.Meta{
		RunID:     net.runID,
		Epoch:     net.epoch,
		Iteration: net.iteration,
		Loss:      float64(net.graph.Loss()),
	}
	if net.opt != nil {
		meta.OptimizerType = net.opt.Type()
	}
	return serialization.SaveCheckpoint(path, net.manager.TrackedWeights(), meta)
}

// Load restores weights from a checkpoint and resumes its epoch and
// iteration counters.
func (net *NeuralNetwork) Load(path string) error {
	if !net.initialized {
		return errors.Wrap(nn.ErrNotInitialized, "model: load before initialize")
	}
	header, err := serialization.LoadCheckpoint(path, net.manager.TrackedWeights())
	if err != nil {
		return err
	}
	net.runID = header.RunID
	net.epoch = header.Epoch
	net.iteration = header.Iteration
	return nil
}

// Summary renders a human-readable plan of the compiled network and
// its memory footprint.
func (net *NeuralNetwork) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", net.runID)
	var params int
	for _, n := range net.graph.Nodes() {
		var out string
		if dims := n.OutputDims(); len(dims) > 0 {
			out = dims[0].String()
		}
		var nodeParams int
		for _, w := range n.Weights() {
			nodeParams += w.Dim().DataLen()
		}
		params += nodeParams
		fmt.Fprintf(&b, "%-3d %-20s %-12s out %-14s params %s\n",
			n.Index(), n.Name(), n.Type(), out,
			humanize.Comma(int64(nodeParams)))
	}
	const elem = 4
	fmt.Fprintf(&b, "total params: %s (%s)\n",
		humanize.Comma(int64(params)), humanize.IBytes(uint64(params*elem)))
	fmt.Fprintf(&b, "gradient arena: %s, derivative arena: %s\n",
		humanize.IBytes(uint64(net.manager.MaxWeightSize()*elem)),
		humanize.IBytes(uint64(net.manager.MaxDerivativeSize()*elem)))
	return b.String()
}

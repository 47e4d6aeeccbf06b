package graph

import (
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// NetworkGraph owns the nodes of a network in execution order and
// drives their lifecycle against a buffer manager.
//
// The graph's buffer layout is chain shaped: the manager's in/out
// entry i holds node i's inputs, and one extra entry past the last
// node holds the network output. Binding node i's outputs to entry
// i+1 makes every edge a shared buffer, which is what lets the loss
// layer receive its label through the sink entry's gradient.
type NetworkGraph struct {
	nodes  []*LayerNode
	byName map[string]*LayerNode

	manager  *nn.Manager
	compiled bool
	bound    bool
}

// NewNetworkGraph returns an empty graph planning into manager.
func NewNetworkGraph(manager *nn.Manager) *NetworkGraph {
	return &NetworkGraph{
		byName:  map[string]*LayerNode{},
		manager: manager,
	}
}

// Size returns the number of nodes.
func (g *NetworkGraph) Size() int { return len(g.nodes) }

// Node returns the node with the given name, nil if absent.
func (g *NetworkGraph) Node(name string) *LayerNode { return g.byName[name] }

// Nodes returns the nodes in execution order once compiled, in
// insertion order before that.
func (g *NetworkGraph) Nodes() []*LayerNode { return g.nodes }

// AddNode appends a node. Unnamed nodes are assigned "<type><seq>".
// A duplicate name is rejected and leaves the graph unchanged.
func (g *NetworkGraph) AddNode(n *LayerNode) error {
	if g.compiled {
		return errors.Wrap(nn.ErrInvalidArgument, "graph: add node after compile")
	}
	if n.Name() == "" {
		if err := n.SetProperty([]string{
			"name=" + n.Type() + strconv.Itoa(len(g.nodes)),
		}); err != nil {
			return err
		}
	}
	if _, ok := g.byName[n.Name()]; ok {
		return errors.Wrapf(nn.ErrInvalidArgument, "graph: duplicate node name %q", n.Name())
	}
	g.nodes = append(g.nodes, n)
	g.byName[n.Name()] = n
	return nil
}

// Compile sorts the graph, finalizes every node with shapes inferred
// from its predecessors, and registers weights and in/out buffers
// with the manager. Storage stays unallocated until Initialize.
func (g *NetworkGraph) Compile() error {
	if g.compiled {
		return errors.Wrap(nn.ErrInvalidArgument, "graph: already compiled")
	}
	if len(g.nodes) == 0 {
		return errors.Wrap(nn.ErrInvalidArgument, "graph: empty graph")
	}

	sorted, err := g.topoSort()
	if err != nil {
		return err
	}
	g.nodes = sorted
	for i, n := range g.nodes {
		n.setIndex(i)
	}
	if err := g.validateChain(); err != nil {
		return err
	}

	for i, n := range g.nodes {
		if len(n.InputDims()) == 0 {
			if i == 0 {
				return errors.Wrapf(nn.ErrInvalidArgument,
					"graph: first node %q needs input_shape", n.Name())
			}
			dims, err := g.gatherInputDims(n, g.nodes[i-1])
			if err != nil {
				return err
			}
			if err := n.SetInputDims(dims...); err != nil {
				return err
			}
		}
		if err := n.Finalize(); err != nil {
			return err
		}
		g.manager.TrackWeights(n.Weights())
		if _, err := g.manager.TrackLayerInOuts(n.Name(), n.InputDims(), n.Trainable()); err != nil {
			return err
		}
	}

	sink := g.nodes[len(g.nodes)-1]
	if _, err := g.manager.TrackLayerInOuts(sink.Name()+"/output", sink.OutputDims(), sink.Trainable()); err != nil {
		return err
	}

	g.compiled = true
	klog.V(1).Infof("graph compiled: %d nodes, max weight %d, max derivative %d",
		len(g.nodes), g.manager.MaxWeightSize(), g.manager.MaxDerivativeSize())
	return nil
}

// Initialize allocates storage through the manager and binds every
// node's run context. Gradients for the in/out buffers are allocated
// only when training is set.
func (g *NetworkGraph) Initialize(training bool) error {
	if !g.compiled {
		return errors.Wrap(nn.ErrNotInitialized, "graph: initialize before compile")
	}
	if err := g.manager.Initialize(); err != nil {
		return err
	}
	if err := g.manager.InitializeInOuts(training); err != nil {
		return err
	}
	for i, n := range g.nodes {
		inputs := g.manager.GetInputsLayer(i)
		outputs := g.manager.GetInputsLayer(i + 1)
		if err := n.BindBuffers(inputs, outputs); err != nil {
			return err
		}
	}
	g.bound = true
	return nil
}

// Forwarding runs one forward pass over the whole graph.
func (g *NetworkGraph) Forwarding(training bool) error {
	if !g.bound {
		return errors.Wrap(nn.ErrNotInitialized, "graph: not initialized")
	}
	for _, n := range g.nodes {
		if err := n.Forwarding(training); err != nil {
			return err
		}
	}
	return nil
}

// Backwarding runs one backward pass in reverse execution order.
// Each node computes its weight gradients, has apply invoked on it,
// and only then computes the derivative for its predecessor: the
// derivative write lands in the shared arena slot the gradient
// computation was still reading from. The first node's derivative is
// skipped, nothing consumes it.
func (g *NetworkGraph) Backwarding(apply func(*LayerNode) error) error {
	if !g.bound {
		return errors.Wrap(nn.ErrNotInitialized, "graph: not initialized")
	}
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if err := n.CalcGradient(); err != nil {
			return err
		}
		if apply != nil {
			if err := apply(n); err != nil {
				return err
			}
		}
		if i == 0 {
			break
		}
		if err := n.CalcDerivative(); err != nil {
			return err
		}
	}
	return nil
}

// LoadInput copies a batch into the network input buffer.
func (g *NetworkGraph) LoadInput(in *tensor.Tensor) error {
	if !g.bound {
		return errors.Wrap(nn.ErrNotInitialized, "graph: not initialized")
	}
	return g.manager.GetInputsLayer(0)[0].Variable().CopyFrom(in)
}

// LoadLabel copies a label batch into the sink entry's gradient,
// where the loss layer expects it.
func (g *NetworkGraph) LoadLabel(label *tensor.Tensor) error {
	if !g.bound {
		return errors.Wrap(nn.ErrNotInitialized, "graph: not initialized")
	}
	grad := g.manager.GetInputsLayer(-1)[0].Gradient()
	if grad.Uninitialized() {
		return errors.Wrap(nn.ErrNotInitialized, "graph: no label buffer, initialized for inference")
	}
	return grad.CopyFrom(label)
}

// Output returns the network output tensor, nil before Initialize.
func (g *NetworkGraph) Output() *tensor.Tensor {
	if !g.bound {
		return nil
	}
	return g.manager.GetInputsLayer(-1)[0].Variable()
}

// Loss sums the scalar losses stored by loss nodes in the last
// forward pass.
func (g *NetworkGraph) Loss() float32 {
	var loss float32
	for _, n := range g.nodes {
		loss += n.Loss()
	}
	return loss
}

// SetBatchSize rescales every planned buffer and node to the new
// batch size.
func (g *NetworkGraph) SetBatchSize(batch int) error {
	if g.compiled {
		if err := g.manager.SetBatchSize(batch); err != nil {
			return err
		}
	}
	for _, n := range g.nodes {
		if err := n.SetBatch(batch); err != nil {
			return err
		}
	}
	return nil
}

// gatherInputDims resolves a node's input shapes from its declared
// input layers, falling back to the previous node in execution order.
func (g *NetworkGraph) gatherInputDims(n, prev *LayerNode) ([]tensor.TensorDim, error) {
	sources := n.InputLayers()
	if len(sources) == 0 {
		sources = []string{prev.Name()}
	}
	var dims []tensor.TensorDim
	for _, name := range sources {
		src := g.byName[name]
		if src == nil {
			return nil, errors.Wrapf(nn.ErrInvalidArgument,
				"graph: node %q references unknown input layer %q", n.Name(), name)
		}
		if !src.Finalized() {
			return nil, errors.Wrapf(nn.ErrInvalidArgument,
				"graph: node %q input layer %q not finalized yet", n.Name(), name)
		}
		dims = append(dims, src.OutputDims()...)
	}
	return dims, nil
}

// validateChain rejects wiring the chain-shaped buffer layout cannot
// represent. After sorting, node i's outputs are bound to entry i+1,
// so every node must consume exactly the node sorted before it; a
// second source or a fan-out edge would silently read the wrong slot.
func (g *NetworkGraph) validateChain() error {
	for i, n := range g.nodes {
		sources := n.InputLayers()
		if i == 0 {
			if len(sources) > 0 {
				return errors.Wrapf(nn.ErrInvalidArgument,
					"graph: first node %q declares input layers", n.Name())
			}
			continue
		}
		if len(sources) == 0 {
			if len(n.InputDims()) > 0 {
				return errors.Wrapf(nn.ErrInvalidArgument,
					"graph: node %q declares a second source in a single-chain network",
					n.Name())
			}
			continue
		}
		if len(sources) != 1 || sources[0] != g.nodes[i-1].Name() {
			return errors.Wrapf(nn.ErrInvalidArgument,
				"graph: node %q consumes %v, only a single chain is supported",
				n.Name(), sources)
		}
	}
	return nil
}

// topoSort orders the nodes. Without explicit input_layers the graph
// is a chain in insertion order; with them a stable Kahn sort runs,
// where unconnected non-first nodes implicitly follow their
// predecessor in insertion order. Nodes carrying a declared input
// shape are sources and get no implicit edge.
func (g *NetworkGraph) topoSort() ([]*LayerNode, error) {
	explicit := false
	for _, n := range g.nodes {
		if len(n.InputLayers()) > 0 {
			explicit = true
			break
		}
	}
	if !explicit {
		return g.nodes, nil
	}

	indeg := make(map[*LayerNode]int, len(g.nodes))
	succs := make(map[*LayerNode][]*LayerNode, len(g.nodes))
	for i, n := range g.nodes {
		sources := n.InputLayers()
		if len(sources) == 0 && i > 0 && len(n.InputDims()) == 0 {
			sources = []string{g.nodes[i-1].Name()}
		}
		for _, name := range sources {
			src := g.byName[name]
			if src == nil {
				return nil, errors.Wrapf(nn.ErrInvalidArgument,
					"graph: node %q references unknown input layer %q", n.Name(), name)
			}
			succs[src] = append(succs[src], n)
			indeg[n]++
		}
	}

	var ready, sorted []*LayerNode
	for _, n := range g.nodes {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		sorted = append(sorted, n)
		for _, s := range succs[n] {
			if indeg[s]--; indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	if len(sorted) != len(g.nodes) {
		return nil, errors.Wrap(nn.ErrInvalidArgument, "graph: cycle detected")
	}
	return sorted, nil
}

package layers

import (
	"fmt"

	"github.com/kparichay/nntrainer/internal/nn"
)

// Constructor builds a fresh, unconfigured layer instance.
type Constructor func() Layer

// Registry maps layer type tags to constructors. It is an explicit
// object handed to whoever builds graphs, not process-wide state, so
// tests can construct isolated registries.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with every built-in layer kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for tag, ctor := range map[string]Constructor{
		TypeInput:               func() Layer { return NewInput() },
		TypeFullyConnected:      func() Layer { return NewFullyConnected() },
		TypeActivation:          func() Layer { return NewActivation(ActSigmoid) },
		TypeMSELoss:             func() Layer { return NewMSELoss() },
		TypeCrossEntropySigmoid: func() Layer { return NewCrossEntropySigmoid() },
	} {
		// Built-in tags are unique; Register cannot fail here.
		_ = r.Register(tag, ctor)
	}
	return r
}

// Register adds a constructor under a type tag. Duplicate tags are an
// invalid-argument error.
func (r *Registry) Register(tag string, ctor Constructor) error {
	if tag == "" || ctor == nil {
		return fmt.Errorf("%w: empty layer tag or nil constructor", nn.ErrInvalidArgument)
	}
	if _, ok := r.constructors[tag]; ok {
		return fmt.Errorf("%w: layer type %q already registered", nn.ErrInvalidArgument, tag)
	}
	r.constructors[tag] = ctor
	return nil
}

// Create instantiates a layer by type tag.
func (r *Registry) Create(tag string) (Layer, error) {
	ctor, ok := r.constructors[tag]
	if !ok {
		return nil, fmt.Errorf("%w: unknown layer type %q", nn.ErrInvalidArgument, tag)
	}
	return ctor(), nil
}

// Known reports whether a tag is registered.
func (r *Registry) Known(tag string) bool {
	_, ok := r.constructors[tag]
	return ok
}

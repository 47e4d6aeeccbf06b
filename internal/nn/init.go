package nn

import (
	"fmt"
	"math"

	"github.com/kparichay/nntrainer/internal/tensor"
)

// Initializer selects the distribution a weight's value tensor is
// filled from when it is first materialized.
type Initializer int

// Supported weight initializers.
const (
	InitZeros Initializer = iota
	InitOnes
	InitLecunNormal
	InitLecunUniform
	InitXavierNormal
	InitXavierUniform
	InitHeNormal
	InitHeUniform
	InitUnknown
)

// String returns the property-string spelling of the initializer.
func (i Initializer) String() string {
	switch i {
	case InitZeros:
		return "zeros"
	case InitOnes:
		return "ones"
	case InitLecunNormal:
		return "lecun_normal"
	case InitLecunUniform:
		return "lecun_uniform"
	case InitXavierNormal:
		return "xavier_normal"
	case InitXavierUniform:
		return "xavier_uniform"
	case InitHeNormal:
		return "he_normal"
	case InitHeUniform:
		return "he_uniform"
	default:
		return "unknown"
	}
}

// ParseInitializer resolves a property-string value to an Initializer.
func ParseInitializer(s string) (Initializer, error) {
	for i := InitZeros; i < InitUnknown; i++ {
		if i.String() == s {
			return i, nil
		}
	}
	return InitUnknown, fmt.Errorf("%w: unknown initializer %q", ErrInvalidArgument, s)
}

// apply fills t according to the initializer. Fan-in and fan-out are
// read off the weight dim, which lays matrices out as
// (1, 1, fanIn, fanOut).
func (i Initializer) apply(t *tensor.Tensor) error {
	fanIn := t.Dim().Height()
	fanOut := t.Dim().Width()

	switch i {
	case InitZeros:
		t.SetZero()
	case InitOnes:
		t.Fill(1)
	case InitLecunNormal:
		t.FillNormal(0, float32(math.Sqrt(1.0/float64(fanIn))))
	case InitLecunUniform:
		bound := float32(math.Sqrt(1.0 / float64(fanIn)))
		t.FillUniform(-bound, bound)
	case InitXavierNormal:
		t.FillNormal(0, float32(math.Sqrt(2.0/float64(fanIn+fanOut))))
	case InitXavierUniform:
		bound := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
		t.FillUniform(-bound, bound)
	case InitHeNormal:
		t.FillNormal(0, float32(math.Sqrt(2.0/float64(fanIn))))
	case InitHeUniform:
		bound := float32(math.Sqrt(6.0 / float64(fanIn)))
		t.FillUniform(-bound, bound)
	default:
		return fmt.Errorf("%w: initializer %d", ErrInvalidArgument, int(i))
	}
	return nil
}

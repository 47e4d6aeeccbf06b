package tensor

import "fmt"

// DataType represents the element type of a tensor's storage.
type DataType int

// Supported element types. Compute kernels operate on Float32 only;
// Float16 storage exists for half-precision parameter payloads.
const (
	Float32 DataType = iota
	Float16
)

// Size returns the element size in bytes.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float16:
		return 2
	default:
		panic(fmt.Sprintf("unknown data type %d", int(dt)))
	}
}

// String returns a human-readable type name.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

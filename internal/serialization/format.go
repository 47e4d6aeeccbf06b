// Package serialization persists model weights in the nntc container
// format: a fixed magic and version, a JSON header describing every
// tensor payload, aligned raw little-endian payloads, and a CRC-32
// trailer over the whole stream.
package serialization

import (
	"time"

	"github.com/kparichay/nntrainer/internal/tensor"
)

// Container constants.
const (
	// Magic identifies an nntc stream.
	Magic = "NNTC"
	// FormatVersion is written by this code and required on read.
	FormatVersion = 1
	// PayloadAlignment aligns the first payload byte.
	PayloadAlignment = 64
	// TrailerSize is the CRC-32 trailer length in bytes.
	TrailerSize = 4
)

// Data type tags used in tensor metadata.
const (
	DTypeFloat32 = "float32"
	DTypeFloat16 = "float16"
)

// Header is the JSON header of an nntc file.
type Header struct {
	FormatVersion int       `json:"format_version"`
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	DType         string    `json:"dtype"`

	Epoch         int     `json:"epoch"`
	Iteration     int     `json:"iteration"`
	Loss          float64 `json:"loss"`
	OptimizerType string  `json:"optimizer_type,omitempty"`

	Tensors  []TensorMeta      `json:"tensors"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TensorMeta locates one weight payload inside the container.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// Meta carries the run information recorded when saving. A zero
// RunID gets a fresh UUID; a zero DType saves float32 payloads.
type Meta struct {
	RunID         string
	Epoch         int
	Iteration     int
	Loss          float64
	OptimizerType string
	DType         tensor.DataType
	Metadata      map[string]string
}

func dtypeTag(dt tensor.DataType) string {
	if dt == tensor.Float16 {
		return DTypeFloat16
	}
	return DTypeFloat32
}

package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"math"
	"os"

	"github.com/x448/float16"

	"github.com/kparichay/nntrainer/internal/nn"
)

// LoadCheckpoint restores the tracked weights from path, matching
// stored tensors to weights by qualified name. Every weight must
// find its tensor with an identical shape; extra stored tensors are
// ignored. Returns the header for run inspection.
func LoadCheckpoint(path string, nodes [][]*nn.Weight) (Header, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Header{}, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	header, payload, err := parse(raw)
	if err != nil {
		return Header{}, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	byName := make(map[string]TensorMeta, len(header.Tensors))
	for _, tm := range header.Tensors {
		byName[tm.Name] = tm
	}

	for _, ws := range nodes {
		for _, w := range ws {
			tm, ok := byName[w.Name()]
			if !ok {
				return Header{}, fmt.Errorf("weight %q: %w: not in checkpoint",
					w.Name(), ErrTensorMismatch)
			}
			if err := restore(w, tm, payload); err != nil {
				return Header{}, fmt.Errorf("weight %q: %w", w.Name(), err)
			}
		}
	}
	return header, nil
}

// ReadHeader parses and validates a container without touching any
// weights.
func ReadHeader(path string) (Header, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Header{}, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	header, _, err := parse(raw)
	if err != nil {
		return Header{}, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return header, nil
}

// parse validates the container and returns the header plus the
// payload region.
func parse(raw []byte) (Header, []byte, error) {
	fixed := int64(len(Magic)) + 4 + 8
	if int64(len(raw)) < fixed+TrailerSize {
		return Header{}, nil, ErrCorrupt
	}
	body, trailer := raw[:len(raw)-TrailerSize], raw[len(raw)-TrailerSize:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return Header{}, nil, ErrChecksumMismatch
	}
	if !bytes.Equal(body[:len(Magic)], []byte(Magic)) {
		return Header{}, nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(body[len(Magic):])
	if version != FormatVersion {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrVersionMismatch, version)
	}
	headerSize := binary.LittleEndian.Uint64(body[len(Magic)+4:])
	// Bound before converting, a huge value would overflow the sum.
	if headerSize > uint64(int64(len(body))-fixed) {
		return Header{}, nil, ErrCorrupt
	}

	var header Header
	if err := json.Unmarshal(body[fixed:fixed+int64(headerSize)], &header); err != nil {
		return Header{}, nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}

	payloadStart := fixed + int64(headerSize)
	payloadStart += padding(payloadStart)
	if payloadStart > int64(len(body)) {
		return Header{}, nil, ErrCorrupt
	}
	return header, body[payloadStart:], nil
}

// restore copies one stored tensor into a weight's value buffer.
func restore(w *nn.Weight, tm TensorMeta, payload []byte) error {
	d := w.Dim()
	want := []int{d.Batch(), d.Channel(), d.Height(), d.Width()}
	if len(tm.Shape) != len(want) {
		return fmt.Errorf("%w: rank %d", ErrTensorMismatch, len(tm.Shape))
	}
	for i, s := range tm.Shape {
		if s != want[i] {
			return fmt.Errorf("%w: stored %v want %v", ErrTensorMismatch, tm.Shape, want)
		}
	}
	if tm.Offset < 0 || tm.Offset+tm.Size > int64(len(payload)) {
		return ErrCorrupt
	}
	if w.Variable().Uninitialized() {
		return nn.ErrNotInitialized
	}

	dst := w.Variable().Float32s()
	src := payload[tm.Offset : tm.Offset+tm.Size]
	switch tm.DType {
	case DTypeFloat16:
		if int64(len(dst))*2 != tm.Size {
			return fmt.Errorf("%w: payload size %d", ErrTensorMismatch, tm.Size)
		}
		for i := range dst {
			bits := binary.LittleEndian.Uint16(src[i*2:])
			dst[i] = float16.Frombits(bits).Float32()
		}
	case DTypeFloat32:
		if int64(len(dst))*4 != tm.Size {
			return fmt.Errorf("%w: payload size %d", ErrTensorMismatch, tm.Size)
		}
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	default:
		return fmt.Errorf("%w: dtype %q", ErrTensorMismatch, tm.DType)
	}
	return nil
}

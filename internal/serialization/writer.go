package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/x448/float16"

	"github.com/kparichay/nntrainer/internal/nn"
)

// SaveCheckpoint writes the tracked weights of a model to path. The
// nodes slice is the manager's registration-order weight table; the
// header records every payload by qualified weight name so loading
// does not depend on graph order.
func SaveCheckpoint(path string, nodes [][]*nn.Weight, meta Meta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if err := WriteCheckpoint(f, nodes, meta); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return f.Close()
}

// WriteCheckpoint writes the container to an arbitrary stream.
func WriteCheckpoint(out io.Writer, nodes [][]*nn.Weight, meta Meta) error {
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}
	header := Header{
		FormatVersion: FormatVersion,
		RunID:         meta.RunID,
		CreatedAt:     time.Now().UTC(),
		DType:         dtypeTag(meta.DType),
		Epoch:         meta.Epoch,
		Iteration:     meta.Iteration,
		Loss:          meta.Loss,
		OptimizerType: meta.OptimizerType,
		Metadata:      meta.Metadata,
	}

	elemSize := int64(4)
	if header.DType == DTypeFloat16 {
		elemSize = 2
	}
	var offset int64
	for _, ws := range nodes {
		for _, w := range ws {
			size := int64(w.Dim().DataLen()) * elemSize
			header.Tensors = append(header.Tensors, TensorMeta{
				Name:   w.Name(),
				DType:  header.DType,
				Shape:  dimShape(w),
				Offset: offset,
				Size:   size,
			})
			offset += size
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	w := io.MultiWriter(out, crc)

	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(FormatVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return err
	}
	if _, err := w.Write(headerJSON); err != nil {
		return err
	}
	pos := int64(len(Magic)) + 4 + 8 + int64(len(headerJSON))
	if pad := padding(pos); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}

	for _, ws := range nodes {
		for _, weight := range ws {
			if err := writePayload(w, weight, header.DType); err != nil {
				return err
			}
		}
	}

	// Trailer: CRC over everything written so far, excluded from
	// its own computation.
	return binary.Write(out, binary.LittleEndian, crc.Sum32())
}

func writePayload(w io.Writer, weight *nn.Weight, dtype string) error {
	if weight.Variable().Uninitialized() {
		return fmt.Errorf("weight %q: %w", weight.Name(), nn.ErrNotInitialized)
	}
	data := weight.Variable().Float32s()
	if dtype == DTypeFloat16 {
		buf := make([]uint16, len(data))
		for i, v := range data {
			buf[i] = float16.Fromfloat32(v).Bits()
		}
		return binary.Write(w, binary.LittleEndian, buf)
	}
	return binary.Write(w, binary.LittleEndian, data)
}

func dimShape(w *nn.Weight) []int {
	d := w.Dim()
	return []int{d.Batch(), d.Channel(), d.Height(), d.Width()}
}

func padding(pos int64) int64 {
	return (PayloadAlignment - pos%PayloadAlignment) % PayloadAlignment
}

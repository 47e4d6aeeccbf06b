// Package dataset feeds batches to the training loop through a
// producer goroutine with an explicit thread-state machine, double
// buffering the generator behind the consumer.
package dataset

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// ThreadState tracks the producer goroutine through its lifecycle.
type ThreadState int

const (
	// StateNull is the constructed, unvalidated state.
	StateNull ThreadState = iota
	// StateReady means Init succeeded and Start may run.
	StateReady
	// StateRunning means the producer goroutine is filling batches.
	StateRunning
	// StateRequestToStop is set by Stop while the producer winds down.
	StateRequestToStop
	// StateStopped means the producer exited on request.
	StateStopped
	// StateEpochFinished means the generator signalled the epoch end.
	StateEpochFinished
	// StateError means the generator failed; GetData surfaces it.
	StateError
)

func (s ThreadState) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateRequestToStop:
		return "request_to_stop"
	case StateStopped:
		return "stopped"
	case StateEpochFinished:
		return "epoch_finished"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Batch is one produced input/label pair, batch-major. The tensors
// belong to a fixed ring of slots: a delivered batch stays valid only
// until the next GetData or Start call.
type Batch struct {
	Input *tensor.Tensor
	Label *tensor.Tensor
}

// Generator fills one batch worth of input and label data. Returning
// last reports that the epoch ends after this batch; the batch is
// still delivered. The tensors are owned by the callee for the
// duration of the call only.
type Generator func(input, label *tensor.Tensor) (last bool, err error)

// Config sizes a DataBuffer.
type Config struct {
	// BatchSize is the number of samples per produced batch.
	BatchSize int
	// BufferLen is the prefetch depth in samples. Coerced down to a
	// whole number of batches, minimum one batch.
	BufferLen int
	// InputDim and LabelDim are per-sample shapes; the batch axis is
	// overwritten with BatchSize.
	InputDim tensor.TensorDim
	LabelDim tensor.TensorDim
}

// DataBuffer runs a Generator on a producer goroutine and hands the
// results to the training loop one batch at a time.
type DataBuffer struct {
	gen Generator
	cfg Config

	bufBatches int

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	state    ThreadState
	queue    []*Batch
	free     []*Batch
	inflight *Batch
	genErr   error
	done     chan struct{}
}

// NewDataBuffer wraps a generator. Init must run before Start.
func NewDataBuffer(gen Generator, cfg Config) *DataBuffer {
	b := &DataBuffer{gen: gen, cfg: cfg, state: StateNull}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Init validates the configuration and sizes the prefetch queue.
func (b *DataBuffer) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateNull {
		return fmt.Errorf("%w: data buffer already initialized", nn.ErrInvalidArgument)
	}
	if b.gen == nil {
		return fmt.Errorf("%w: nil generator", nn.ErrInvalidArgument)
	}
	if b.cfg.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size %d", nn.ErrInvalidArgument, b.cfg.BatchSize)
	}
	if err := b.cfg.InputDim.Validate(); err != nil {
		return fmt.Errorf("%w: input dim: %v", nn.ErrInvalidArgument, err)
	}
	if err := b.cfg.LabelDim.Validate(); err != nil {
		return fmt.Errorf("%w: label dim: %v", nn.ErrInvalidArgument, err)
	}

	b.bufBatches = b.cfg.BufferLen / b.cfg.BatchSize
	if b.bufBatches < 1 {
		klog.Warningf("data buffer length %d below one batch of %d, coercing to one batch",
			b.cfg.BufferLen, b.cfg.BatchSize)
		b.bufBatches = 1
	} else if b.cfg.BufferLen%b.cfg.BatchSize != 0 {
		klog.Warningf("data buffer length %d not a batch multiple, coercing to %d samples",
			b.cfg.BufferLen, b.bufBatches*b.cfg.BatchSize)
	}

	// The slot ring is allocated once: bufBatches queued plus the one
	// the consumer is still reading.
	for i := 0; i < b.bufBatches+1; i++ {
		input, err := tensor.New(b.cfg.InputDim.WithBatch(b.cfg.BatchSize))
		if err != nil {
			return err
		}
		label, err := tensor.New(b.cfg.LabelDim.WithBatch(b.cfg.BatchSize))
		if err != nil {
			return err
		}
		b.free = append(b.free, &Batch{Input: input, Label: label})
	}
	b.state = StateReady
	return nil
}

// State returns the current producer state.
func (b *DataBuffer) State() ThreadState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start launches the producer goroutine for one epoch. Valid from
// Ready, or again after a finished or stopped epoch.
func (b *DataBuffer) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateReady, StateEpochFinished, StateStopped:
	case StateNull:
		return fmt.Errorf("%w: data buffer not initialized", nn.ErrNotInitialized)
	default:
		return fmt.Errorf("%w: start from state %s", nn.ErrInvalidArgument, b.state)
	}
	b.state = StateRunning
	b.free = append(b.free, b.queue...)
	if b.inflight != nil {
		b.free = append(b.free, b.inflight)
		b.inflight = nil
	}
	b.queue = b.queue[:0]
	b.genErr = nil
	b.done = make(chan struct{})
	go b.produce(b.done)
	return nil
}

func (b *DataBuffer) produce(done chan struct{}) {
	defer close(done)
	for {
		batch, ok := b.takeSlot()
		if !ok {
			return
		}
		last, err := b.gen(batch.Input, batch.Label)
		if err != nil {
			b.fail(batch, err)
			return
		}
		if stop := b.push(batch, last); stop || last {
			return
		}
	}
}

// takeSlot blocks for a free ring slot, which throttles the producer
// to the configured prefetch depth. ok is false when a stop was
// requested.
func (b *DataBuffer) takeSlot() (*Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.free) == 0 && b.state == StateRunning {
		b.notFull.Wait()
	}
	if b.state != StateRunning {
		b.state = StateStopped
		b.notEmpty.Broadcast()
		return nil, false
	}
	batch := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]
	return batch, true
}

// push queues one filled slot, blocking while the queue is full.
// Reports whether a stop was requested.
func (b *DataBuffer) push(batch *Batch, last bool) (stop bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) >= b.bufBatches && b.state == StateRunning {
		b.notFull.Wait()
	}
	if b.state != StateRunning {
		b.free = append(b.free, batch)
		b.state = StateStopped
		b.notEmpty.Broadcast()
		return true
	}
	b.queue = append(b.queue, batch)
	if last {
		b.state = StateEpochFinished
	}
	b.notEmpty.Broadcast()
	return false
}

func (b *DataBuffer) fail(batch *Batch, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.free = append(b.free, batch)
	b.state = StateError
	b.genErr = err
	b.notEmpty.Broadcast()
}

// GetData blocks for the next batch. ok reports whether a batch was
// delivered; false with a nil error means the epoch is over. The
// returned batch's slot is recycled on the next GetData call.
func (b *DataBuffer) GetData() (batch *Batch, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 && b.state == StateRunning {
		b.notEmpty.Wait()
	}
	if len(b.queue) == 0 {
		if b.state == StateError {
			return nil, false, fmt.Errorf("data generator: %w", b.genErr)
		}
		return nil, false, nil
	}
	batch = b.queue[0]
	b.queue = b.queue[1:]
	if b.inflight != nil {
		b.free = append(b.free, b.inflight)
	}
	b.inflight = batch
	b.notFull.Signal()
	return batch, true, nil
}

// Stop requests the producer to exit and waits for it. Draining the
// remaining queued batches is the caller's choice; Stop discards them.
func (b *DataBuffer) Stop() {
	b.mu.Lock()
	if b.state != StateRunning && b.state != StateEpochFinished {
		b.mu.Unlock()
		return
	}
	done := b.done
	if b.state == StateRunning {
		b.state = StateRequestToStop
	}
	b.free = append(b.free, b.queue...)
	b.queue = b.queue[:0]
	b.notFull.Broadcast()
	b.notEmpty.Broadcast()
	b.mu.Unlock()
	if done != nil {
		<-done
	}
	b.mu.Lock()
	if b.state == StateRequestToStop || b.state == StateEpochFinished {
		b.state = StateStopped
	}
	b.mu.Unlock()
}

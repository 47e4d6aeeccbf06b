// Copyright 2026 The NNTrainer Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn is the public surface of the training core: the memory
// manager with its variable/gradient pairs, the layer registry, the
// optimizers, and the NeuralNetwork driver.
package nn

import (
	"github.com/kparichay/nntrainer/internal/dataset"
	"github.com/kparichay/nntrainer/internal/layers"
	"github.com/kparichay/nntrainer/internal/model"
	"github.com/kparichay/nntrainer/internal/nn"
	"github.com/kparichay/nntrainer/internal/optim"
	"github.com/kparichay/nntrainer/internal/tensor"
)

// Sentinel errors shared across the training core.
var (
	ErrInvalidArgument = nn.ErrInvalidArgument
	ErrNotSupported    = nn.ErrNotSupported
	ErrNotInitialized  = nn.ErrNotInitialized
)

// VarGrad couples a value tensor with its derivative tensor.
type VarGrad = nn.VarGrad

// Weight is a trainable VarGrad with an initialization policy.
type Weight = nn.Weight

// Manager plans the shared gradient and derivative arenas.
type Manager = nn.Manager

// NewManager creates a Manager with both sharing optimizations on.
func NewManager() *Manager { return nn.NewManager() }

// Initializer selects a weight initialization policy.
type Initializer = nn.Initializer

// Weight initialization policies.
const (
	InitZeros         = nn.InitZeros
	InitOnes          = nn.InitOnes
	InitXavierUniform = nn.InitXavierUniform
	InitHeUniform     = nn.InitHeUniform
)

// Layer registry tags of the built-in layers.
const (
	TypeInput               = layers.TypeInput
	TypeFullyConnected      = layers.TypeFullyConnected
	TypeActivation          = layers.TypeActivation
	TypeMSELoss             = layers.TypeMSELoss
	TypeCrossEntropySigmoid = layers.TypeCrossEntropySigmoid
	TypeTimeDist            = layers.TypeTimeDist
)

// NeuralNetwork drives graph compilation, training and inference.
type NeuralNetwork = model.NeuralNetwork

// NetworkConfig holds network-level settings.
type NetworkConfig = model.Config

// IterationInfo is delivered to the training callback per step.
type IterationInfo = model.IterationInfo

// NewNeuralNetwork creates an empty network with the shared-arena
// optimizations enabled.
func NewNeuralNetwork() *NeuralNetwork { return model.NewNeuralNetwork() }

// Optimizer re-exports.
type (
	// Optimizer updates weights from their gradients.
	Optimizer = optim.Optimizer
	// OptimConfig carries the shared optimizer hyperparameters.
	OptimConfig = optim.Config
	// SGDConfig configures stochastic gradient descent.
	SGDConfig = optim.SGDConfig
	// AdamConfig configures the Adam optimizer.
	AdamConfig = optim.AdamConfig
)

// NewSGD creates a plain SGD optimizer.
func NewSGD(cfg SGDConfig) Optimizer { return optim.NewSGD(cfg) }

// NewAdam creates an Adam optimizer.
func NewAdam(cfg AdamConfig) Optimizer { return optim.NewAdam(cfg) }

// Data pipeline re-exports.
type (
	// DataBuffer produces batches on a background goroutine.
	DataBuffer = dataset.DataBuffer
	// DataConfig sizes a DataBuffer.
	DataConfig = dataset.Config
	// Generator fills one batch of input and label data.
	Generator = dataset.Generator
	// InMemorySource serves batches from tensors held in memory.
	InMemorySource = dataset.InMemorySource
)

// NewDataBuffer wraps a generator; Init must run before Start.
func NewDataBuffer(gen Generator, cfg DataConfig) *DataBuffer {
	return dataset.NewDataBuffer(gen, cfg)
}

// NewInMemorySource wraps sample tensors for batch serving.
func NewInMemorySource(inputs, labels *tensor.Tensor, batchSize int, shuffle bool, seed int64) (*InMemorySource, error) {
	return dataset.NewInMemorySource(inputs, labels, batchSize, shuffle, seed)
}

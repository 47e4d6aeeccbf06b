// Copyright 2026 The NNTrainer Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim is the public surface of the optimizers.
package optim

import "github.com/kparichay/nntrainer/internal/optim"

// Optimizer updates weights from the gradients produced by the
// backward pass.
type Optimizer = optim.Optimizer

// Config carries the hyperparameters shared by all optimizers.
type Config = optim.Config

// SGD applies plain stochastic gradient descent.
type SGD = optim.SGD

// SGDConfig configures SGD.
type SGDConfig = optim.SGDConfig

// NewSGD creates an SGD optimizer.
func NewSGD(cfg SGDConfig) *SGD { return optim.NewSGD(cfg) }

// Adam applies Adam with bias-corrected moment estimates.
type Adam = optim.Adam

// AdamConfig configures Adam.
type AdamConfig = optim.AdamConfig

// NewAdam creates an Adam optimizer.
func NewAdam(cfg AdamConfig) *Adam { return optim.NewAdam(cfg) }

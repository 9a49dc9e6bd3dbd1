// Package optim selects and drives the parameter update of a training step.
//
// This package provides:
//   - Optimizer interface: the contract shared by every optimizer
//   - Kind: the enumerated optimizer names accepted in configuration
//   - RMSProp: RMSProp with momentum (Adam and gradient descent come from Born)
//   - Clip and Penalize: gradient transforms applied before the update
//   - Averager: exponential moving average of parameters
//
// Example usage:
//
//	kind, err := optim.ParseKind("rms")
//	opt, err := optim.New(kind, model.Parameters(), 0.01, backend)
//
//	backend.Tape().StartRecording()
//	loss := model.Forward(batch)
//	grads := autodiff.Backward(loss, backend)
//	grads, _ = optim.Penalize(model.Parameters(), grads, 1e-4, backend)
//	grads = optim.Clip(grads, 5)
//	opt.Step(grads)
//	opt.ZeroGrad()
package optim

import (
	"github.com/born-ml/born/nn"
	bornoptim "github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// ErrUnknownOptimizer is returned for optimizer names outside adam, gd and rms.
var ErrUnknownOptimizer = errors.New("optimizer must be adam, gd, or rms")

// Optimizer is the interface shared by all optimizers.
//
// Optimizers update model parameters in place from the gradient map
// produced by autodiff.Backward.
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR replaces the learning rate for subsequent steps.
	SetLR(lr float32)
}

// Kind names an optimizer.
type Kind int

// Supported optimizers.
const (
	KindAdam Kind = iota
	KindGD
	KindRMSProp
)

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "adam":
		return KindAdam, nil
	case "gd":
		return KindGD, nil
	case "rms":
		return KindRMSProp, nil
	}
	return 0, errors.Wrapf(ErrUnknownOptimizer, "got %q", name)
}

func (k Kind) String() string {
	switch k {
	case KindAdam:
		return "adam"
	case KindGD:
		return "gd"
	case KindRMSProp:
		return "rms"
	}
	return "unknown"
}

// New creates an optimizer of the given kind over params.
//
// Adam uses Born's defaults (betas 0.9/0.999, eps 1e-8), gradient descent has
// no momentum, and RMSProp uses decay 0.95 and momentum 0.9.
func New[B tensor.Backend](kind Kind, params []*nn.Parameter[B], lr float32, backend B) (Optimizer, error) {
	switch kind {
	case KindAdam:
		return bornoptim.NewAdam(params, bornoptim.AdamConfig{LR: lr}, backend), nil
	case KindGD:
		return bornoptim.NewSGD(params, bornoptim.SGDConfig{LR: lr}, backend), nil
	case KindRMSProp:
		return NewRMSProp(params, RMSPropConfig{LR: lr, Decay: 0.95, Momentum: 0.9}, backend), nil
	}
	return nil, errors.Wrapf(ErrUnknownOptimizer, "kind %d", int(kind))
}

// getGradient safely retrieves gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor().Raw()]
}

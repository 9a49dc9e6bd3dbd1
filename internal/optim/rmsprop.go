package optim

import (
	"math"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// RMSProp implements RMSProp with momentum.
//
// Update rule:
//
//	ms  = decay * ms + (1-decay) * gradient²
//	mom = momentum * mom + lr * gradient / sqrt(ms + eps)
//	param = param - mom
//
// The mean-square accumulator starts at one, the momentum buffer at zero.
//
// Example:
//
//	optimizer := optim.NewRMSProp(model.Parameters(), optim.RMSPropConfig{
//	    LR:       0.01,
//	    Decay:    0.95,
//	    Momentum: 0.9,
//	}, backend)
type RMSProp[B tensor.Backend] struct {
	params   []*nn.Parameter[B]
	lr       float32
	decay    float32
	momentum float32
	eps      float32
	ms       map[*nn.Parameter[B]][]float32 // Mean-square accumulators
	mom      map[*nn.Parameter[B]][]float32 // Momentum buffers
}

// RMSPropConfig holds configuration for RMSProp optimizer.
type RMSPropConfig struct {
	LR       float32 // Learning rate (default: 0.001)
	Decay    float32 // Discount for the mean-square average (default: 0.9)
	Momentum float32 // Momentum factor (default: 0.0)
	Eps      float32 // Term for numerical stability (default: 1e-10)
}

// NewRMSProp creates a new RMSProp optimizer.
func NewRMSProp[B tensor.Backend](params []*nn.Parameter[B], config RMSPropConfig, _ B) *RMSProp[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Decay == 0 {
		config.Decay = 0.9
	}
	if config.Eps == 0 {
		config.Eps = 1e-10
	}

	return &RMSProp[B]{
		params:   params,
		lr:       config.LR,
		decay:    config.Decay,
		momentum: config.Momentum,
		eps:      config.Eps,
		ms:       make(map[*nn.Parameter[B]][]float32),
		mom:      make(map[*nn.Parameter[B]][]float32),
	}
}

// Step performs a single optimization step.
// Parameters with no gradient are skipped.
func (r *RMSProp[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range r.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}

		paramData := param.Tensor().Raw().AsFloat32()
		ms, ok := r.ms[param]
		if !ok {
			ms = make([]float32, len(paramData))
			for i := range ms {
				ms[i] = 1
			}
			r.ms[param] = ms
		}
		mom, ok := r.mom[param]
		if !ok {
			mom = make([]float32, len(paramData))
			r.mom[param] = mom
		}

		gradData := grad.AsFloat32()
		for i := range paramData {
			g := gradData[i]
			ms[i] = r.decay*ms[i] + (1-r.decay)*g*g
			mom[i] = r.momentum*mom[i] + r.lr*g/float32(math.Sqrt(float64(ms[i]+r.eps)))
			paramData[i] -= mom[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (r *RMSProp[B]) ZeroGrad() {
	for _, param := range r.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (r *RMSProp[B]) GetLR() float32 {
	return r.lr
}

// SetLR updates the learning rate.
func (r *RMSProp[B]) SetLR(lr float32) {
	r.lr = lr
}

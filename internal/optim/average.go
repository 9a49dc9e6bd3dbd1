package optim

import (
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"gonum.org/v1/gonum/blas/blas32"
)

// DefaultAveragingDecay is the decay used for parameter averaging.
const DefaultAveragingDecay = 0.995

// Averager maintains an exponential moving average of parameters.
//
// Update rule:
//
//	shadow = decay * shadow + (1-decay) * param
//
// Shadows start as copies of the parameters at construction time.
type Averager[B tensor.Backend] struct {
	params []*nn.Parameter[B]
	decay  float32
	shadow [][]float32
}

// NewAverager creates an averager over params.
func NewAverager[B tensor.Backend](params []*nn.Parameter[B], decay float32) *Averager[B] {
	a := &Averager[B]{
		params: params,
		decay:  decay,
		shadow: make([][]float32, len(params)),
	}
	a.Reset()
	return a
}

// Update folds the current parameter values into the shadows.
func (a *Averager[B]) Update() {
	for i, param := range a.params {
		s := vector(a.shadow[i])
		blas32.Scal(a.decay, s)
		blas32.Axpy(1-a.decay, vector(param.Tensor().Raw().AsFloat32()), s)
	}
}

// Reset copies the current parameter values into the shadows.
func (a *Averager[B]) Reset() {
	for i, param := range a.params {
		data := param.Tensor().Raw().AsFloat32()
		a.shadow[i] = append(a.shadow[i][:0], data...)
	}
}

// Shadow returns the averaged values of the i-th parameter.
// The slice is owned by the averager.
func (a *Averager[B]) Shadow(i int) []float32 {
	return a.shadow[i]
}

// Load replaces the i-th shadow with values.
func (a *Averager[B]) Load(i int, values []float32) {
	copy(a.shadow[i], values)
}

// Decay returns the averaging decay.
func (a *Averager[B]) Decay() float32 {
	return a.decay
}

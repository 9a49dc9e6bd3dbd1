package optim

import (
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"gonum.org/v1/gonum/blas/blas32"
)

// Clip limits every gradient element to [-bound, bound].
//
// Clipped gradients are fresh tensors; the input map and its tensors are left
// untouched. A non-positive bound disables clipping.
// Non-float32 gradients pass through unchanged.
func Clip(grads map[*tensor.RawTensor]*tensor.RawTensor, bound float32) map[*tensor.RawTensor]*tensor.RawTensor {
	if bound <= 0 {
		return grads
	}
	out := make(map[*tensor.RawTensor]*tensor.RawTensor, len(grads))
	for key, grad := range grads {
		if grad == nil || grad.DType() != tensor.Float32 {
			out[key] = grad
			continue
		}
		clipped := copyRaw(grad)
		data := clipped.AsFloat32()
		for i, g := range data {
			switch {
			case g > bound:
				data[i] = bound
			case g < -bound:
				data[i] = -bound
			}
		}
		out[key] = clipped
	}
	return out
}

// Penalize adds the gradient of the L2 penalty c * Σ‖p‖₂ to grads and
// returns the updated map together with the penalty value.
//
// Each parameter contributes c * p / ‖p‖ to its gradient; parameters with a
// zero norm contribute nothing. A zero c returns grads untouched.
func Penalize[B tensor.Backend](
	params []*nn.Parameter[B],
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	c float32,
	backend B,
) (map[*tensor.RawTensor]*tensor.RawTensor, float64) {
	if c == 0 {
		return grads, 0
	}

	out := make(map[*tensor.RawTensor]*tensor.RawTensor, len(grads)+len(params))
	for key, grad := range grads {
		out[key] = grad
	}

	var penalty float64
	for _, param := range params {
		raw := param.Tensor().Raw()
		p := vector(raw.AsFloat32())
		norm := blas32.Nrm2(p)
		if norm == 0 {
			continue
		}
		penalty += float64(c) * float64(norm)

		var updated *tensor.RawTensor
		if grad := out[raw]; grad != nil {
			updated = copyRaw(grad)
		} else {
			var err error
			if updated, err = tensor.NewRaw(raw.Shape(), tensor.Float32, backend.Device()); err != nil {
				continue
			}
		}
		blas32.Axpy(c/norm, p, vector(updated.AsFloat32()))
		out[raw] = updated
	}
	return out, penalty
}

// L2Norm returns Σ‖p‖₂ over params.
func L2Norm[B tensor.Backend](params []*nn.Parameter[B]) float64 {
	var sum float64
	for _, param := range params {
		sum += float64(blas32.Nrm2(vector(param.Tensor().Raw().AsFloat32())))
	}
	return sum
}

func vector(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Data: data, Inc: 1}
}

func copyRaw(src *tensor.RawTensor) *tensor.RawTensor {
	dst, err := tensor.NewRaw(src.Shape(), src.DType(), src.Device())
	if err != nil {
		panic(err)
	}
	copy(dst.Data(), src.Data()[:src.ByteSize()])
	return dst
}

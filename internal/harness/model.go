package harness

import (
	"iter"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/trainkit/internal/frame"
)

// Reader supplies the batch sequences of the three phases.
//
// Train and validation sequences are expected to be unbounded; the test
// sequence is finite and is drained by Predict.
type Reader interface {
	TrainBatches(batchSize int) iter.Seq[*frame.Frame]
	ValBatches(batchSize int) iter.Seq[*frame.Frame]
	TestBatches(batchSize int) iter.Seq[*frame.Frame]
}

// Feed maps declared model inputs to batch tensors.
type Feed map[string]*tensor.RawTensor

// Mode carries the per-call flags a model may declare.
type Mode struct {
	// KeepProb is the dropout keep probability, 1 outside training.
	KeepProb float32
	// Training is true only for optimization steps.
	Training bool
}

// Outputs is the result of one forward pass.
type Outputs[B tensor.Backend] struct {
	// Loss is the scalar training objective. It may be nil when the feed has
	// no targets, as during prediction.
	Loss *tensor.Tensor[float32, B]
	// Tensors holds named outputs: monitor and prediction tensors.
	Tensors map[string]*tensor.RawTensor
}

// Capabilities declares what a model reads and exposes. It is returned once
// by Model.Build and fixed for the life of the harness.
type Capabilities struct {
	// Inputs are the batch columns fed to Forward. Batch columns not listed
	// are ignored; listed columns missing from a batch are left out.
	Inputs []string
	// HasDropout makes training steps pass Config.KeepProb in Mode.
	HasDropout bool
	// HasTrainingFlag makes training steps set Mode.Training.
	HasTrainingFlag bool
	// MonitorTensors name outputs summarised on every validation pass.
	MonitorTensors []string
	// PredictionTensors name outputs collected by Predict.
	PredictionTensors []string
	// ParameterTensors are written as is by Predict.
	ParameterTensors map[string]*tensor.RawTensor
}

// Model is the collaborator that defines the network and its loss.
type Model[B tensor.Backend] interface {
	// Build creates the parameters on backend. It is called exactly once.
	Build(backend B) (Capabilities, error)
	// Parameters returns the trainable parameters in a stable order.
	Parameters() []*nn.Parameter[B]
	// Forward evaluates the model on a feed.
	Forward(feed Feed, mode Mode) (*Outputs[B], error)
}

package main

import (
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/trainkit/internal/harness"
	"github.com/pkg/errors"
)

// Column names the classifier reads.
const (
	featuresColumn = "features"
	labelsColumn   = "labels"
)

// lossBackend is an autodiff backend with the fused cross-entropy op, which
// records the loss on the tape.
type lossBackend interface {
	autodiff.BackwardCapable
	CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor
}

// classifier is a two-layer perceptron over a features column:
//
//	features [N, in] -> Linear(in, hidden) -> ReLU -> Linear(hidden, classes)
//
// Labels, when fed, give a cross-entropy loss.
type classifier[B lossBackend] struct {
	in, hidden, classes int

	backend B
	fc1     *nn.Linear[B]
	relu    *nn.ReLU[B]
	fc2     *nn.Linear[B]
}

func newClassifier[B lossBackend](in, hidden, classes int) *classifier[B] {
	return &classifier[B]{in: in, hidden: hidden, classes: classes}
}

func (m *classifier[B]) Build(backend B) (harness.Capabilities, error) {
	if m.in <= 0 || m.hidden <= 0 || m.classes < 2 {
		return harness.Capabilities{}, errors.Errorf("classifier: invalid sizes %d/%d/%d", m.in, m.hidden, m.classes)
	}
	m.backend = backend
	m.fc1 = nn.NewLinear(m.in, m.hidden, backend)
	m.relu = nn.NewReLU[B]()
	m.fc2 = nn.NewLinear(m.hidden, m.classes, backend)

	params := map[string]*tensor.RawTensor{}
	for layer, l := range map[string]*nn.Linear[B]{"fc1": m.fc1, "fc2": m.fc2} {
		for _, p := range l.Parameters() {
			params[layer+"_"+p.Name()] = p.Tensor().Raw()
		}
	}

	return harness.Capabilities{
		Inputs:            []string{featuresColumn, labelsColumn},
		HasTrainingFlag:   true,
		MonitorTensors:    []string{"logits"},
		PredictionTensors: []string{"probabilities", "predictions"},
		ParameterTensors:  params,
	}, nil
}

func (m *classifier[B]) Parameters() []*nn.Parameter[B] {
	params := make([]*nn.Parameter[B], 0, 4)
	params = append(params, m.fc1.Parameters()...)
	params = append(params, m.fc2.Parameters()...)
	return params
}

func (m *classifier[B]) Forward(feed harness.Feed, mode harness.Mode) (*harness.Outputs[B], error) {
	raw, ok := feed[featuresColumn]
	if !ok {
		return nil, errors.Errorf("classifier: no %q input", featuresColumn)
	}
	if raw.DType() != tensor.Float32 || len(raw.Shape()) != 2 || raw.Shape()[1] != m.in {
		return nil, errors.Errorf("classifier: %s must be float32 [N, %d], got %s%v",
			featuresColumn, m.in, raw.DType(), []int(raw.Shape()))
	}

	x := tensor.New[float32](raw, m.backend)
	logits := m.fc2.Forward(m.relu.Forward(m.fc1.Forward(x)))

	out := &harness.Outputs[B]{Tensors: map[string]*tensor.RawTensor{"logits": logits.Raw()}}
	if !mode.Training {
		out.Tensors["probabilities"] = logits.Softmax(1).Raw()
		out.Tensors["predictions"] = logits.Argmax(1).Raw()
	}

	if labels, ok := feed[labelsColumn]; ok {
		if labels.DType() != tensor.Int32 {
			return nil, errors.Errorf("classifier: %s must be int32, got %s", labelsColumn, labels.DType())
		}
		if len(labels.Shape()) != 1 || labels.Shape()[0] != raw.Shape()[0] {
			return nil, errors.Errorf("classifier: %s must be [%d], got %v", labelsColumn, raw.Shape()[0], []int(labels.Shape()))
		}
		out.Loss = tensor.New[float32](m.backend.CrossEntropy(logits.Raw(), labels), m.backend)
	}
	return out, nil
}

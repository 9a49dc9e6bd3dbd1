// Package harness drives the training of a model over a Reader.
//
// A Harness owns the loop around a Model: per step it evaluates the loss on
// one validation batch, runs one optimization step on one training batch and
// keeps bounded loss histories. Every LogInterval steps the averaged
// validation loss decides whether to checkpoint. When validation stops
// improving for EarlyStoppingSteps the run either ends or, while restarts
// remain, resumes from the best checkpoint with half the learning rate.
//
// Gradients come from Born's tape-based autodiff, so the backend must be an
// autodiff backend:
//
//	backend := autodiff.New(cpu.New())
//	h, err := harness.New(model, reader, harness.DefaultConfig(), backend, logger)
//	result, err := h.Fit(ctx)
package harness

import (
	"context"
	"fmt"
	"iter"
	"math"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/trainkit/internal/checkpoint"
	"github.com/born-ml/trainkit/internal/frame"
	"github.com/born-ml/trainkit/internal/optim"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Harness errors.
var (
	ErrReaderExhausted    = errors.New("harness: batch sequence ended")
	ErrNoLoss             = errors.New("harness: model returned no loss")
	ErrMissingOutput      = errors.New("harness: model did not return a declared output")
	ErrCheckpointMismatch = errors.New("harness: checkpoint does not match the model parameters")
)

// Harness trains a model. It is not safe for concurrent use.
type Harness[B autodiff.BackwardCapable] struct {
	cfg     Config
	model   Model[B]
	reader  Reader
	backend B
	logger  *zap.Logger
	runID   string

	caps   Capabilities
	params []*nn.Parameter[B]
	opt    optim.Optimizer
	avg    *optim.Averager[B]
	store  *checkpoint.Store

	state     State
	step      int
	bestLoss  float64
	bestStep  int
	restarts  int
	lr        float32
	trainLoss *history
	valLoss   *history
}

// New validates cfg, builds the model on backend and sets up the optimizer.
// A nil logger discards output.
func New[B autodiff.BackwardCapable](model Model[B], reader Reader, cfg Config, backend B, logger *zap.Logger) (*Harness[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, err := optim.ParseKind(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run", runID))
	logger.Info("new run", zap.Any("config", cfg))

	caps, err := model.Build(backend)
	if err != nil {
		return nil, errors.Wrap(err, "build model")
	}
	params := model.Parameters()

	opt, err := optim.New(kind, params, cfg.LearningRate, backend)
	if err != nil {
		return nil, err
	}

	h := &Harness[B]{
		cfg:     cfg,
		model:   model,
		reader:  reader,
		backend: backend,
		logger:  logger,
		runID:   runID,
		caps:    caps,
		params:  params,
		opt:     opt,
		store:   checkpoint.NewStore(cfg.CheckpointDir, cfg.KeepCheckpoints, logger),
		lr:      cfg.LearningRate,
	}
	if cfg.EnableParameterAveraging {
		h.avg = optim.NewAverager(params, cfg.AveragingDecay)
	}
	h.logParameters()
	return h, nil
}

func (h *Harness[B]) logParameters() {
	total := 0
	for i, p := range h.params {
		shape := p.Tensor().Shape()
		total += shape.NumElements()
		h.logger.Info("trainable parameter",
			zap.String("name", paramKey(i, p)),
			zap.Ints("shape", shape))
	}
	h.logger.Info("trainable parameter count",
		zap.Int("count", total),
		zap.String("human", humanize.Comma(int64(total))))
}

// Capabilities returns what the model declared at build time.
func (h *Harness[B]) Capabilities() Capabilities { return h.caps }

// State returns the current run state.
func (h *Harness[B]) State() State { return h.state }

// Step returns the current training step.
func (h *Harness[B]) Step() int { return h.step }

// LearningRate returns the current learning rate.
func (h *Harness[B]) LearningRate() float32 { return h.lr }

// Checkpoints returns the checkpoint store.
func (h *Harness[B]) Checkpoints() *checkpoint.Store { return h.store }

func (h *Harness[B]) result() Result {
	return Result{
		State:        h.state,
		Step:         h.step,
		BestLoss:     h.bestLoss,
		BestStep:     h.bestStep,
		Restarts:     h.restarts,
		LearningRate: h.lr,
	}
}

// Fit runs the training loop until the step budget is spent, validation
// stops improving with no restarts left, or ctx is done.
//
// Cancelling ctx is the interrupt: Fit returns the partial result together
// with ctx.Err() and the Interrupted state. Any other error leaves the run
// Failed, except a failed warm start, which leaves it Idle.
func (h *Harness[B]) Fit(ctx context.Context) (Result, error) {
	cfg := h.cfg
	h.step = 0
	h.bestLoss, h.bestStep = math.Inf(1), 0
	h.restarts = 0
	h.lr = cfg.LearningRate
	h.opt.SetLR(h.lr)
	h.trainLoss = newHistory(cfg.LossAveragingWindow)
	h.valLoss = newHistory(cfg.LossAveragingWindow)
	h.state = Running

	if cfg.WarmStartInitStep > 0 {
		if err := h.Restore(cfg.WarmStartInitStep, false); err != nil {
			h.state = Idle
			return h.result(), errors.Wrap(err, "warm start")
		}
		h.step = cfg.WarmStartInitStep
		h.bestStep = h.step
	}

	trainNext, stopTrain := iter.Pull(h.reader.TrainBatches(cfg.BatchSize))
	defer stopTrain()
	valNext, stopVal := iter.Pull(h.reader.ValBatches(cfg.NumValidationBatches * cfg.BatchSize))
	defer stopVal()

	for h.step < cfg.NumTrainingSteps {
		if err := ctx.Err(); err != nil {
			h.logger.Info("training interrupted", zap.Int("step", h.step))
			return h.stop(err)
		}

		valBatch, ok := valNext()
		if !ok {
			return h.stop(errors.Wrap(ErrReaderExhausted, "validation"))
		}
		valLoss, err := h.evaluate(valBatch)
		if err != nil {
			return h.stop(errors.Wrapf(err, "validation at step %d", h.step))
		}
		h.valLoss.push(valLoss)

		trainBatch, ok := trainNext()
		if !ok {
			return h.stop(errors.Wrap(ErrReaderExhausted, "training"))
		}
		trainLoss, err := h.trainStep(trainBatch)
		if err != nil {
			return h.stop(errors.Wrapf(err, "training at step %d", h.step))
		}
		h.trainLoss.push(trainLoss)

		if h.step%cfg.LogInterval == 0 {
			if err := h.report(); err != nil {
				return h.stop(err)
			}
		}

		if h.step-h.bestStep >= cfg.EarlyStoppingSteps {
			if h.restarts >= cfg.NumRestarts {
				h.logger.Info("best validation loss",
					zap.Float64("loss", h.bestLoss), zap.Int("step", h.bestStep))
				h.logger.Info("early stopping - ending training")
				h.state = EarlyStopped
				return h.result(), nil
			}
			if err := h.restart(); err != nil {
				return h.stop(err)
			}
		}

		h.step++
	}

	if h.step <= cfg.MinStepsToCheckpoint {
		h.bestStep = h.step
		if err := h.saveAll(h.step); err != nil {
			return h.stop(err)
		}
	}
	h.logger.Info("num_training_steps reached - ending training")
	h.state = Completed
	return h.result(), nil
}

// stop ends a run that returned err: Interrupted when the context is done,
// Failed otherwise.
func (h *Harness[B]) stop(err error) (Result, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.state = Interrupted
	} else {
		h.state = Failed
	}
	return h.result(), err
}

// report logs the averaged losses and checkpoints on improvement.
func (h *Harness[B]) report() error {
	avgTrain, avgVal := h.trainLoss.mean(), h.valLoss.mean()
	h.logger.Info("step",
		zap.Int("step", h.step),
		zap.Float64("train_loss", avgTrain),
		zap.Float64("val_loss", avgVal),
		zap.Float32("learning_rate", h.lr))

	if avgVal < h.bestLoss {
		h.bestLoss, h.bestStep = avgVal, h.step
		if h.step > h.cfg.MinStepsToCheckpoint {
			return h.saveAll(h.step)
		}
	}
	return nil
}

// restart returns to the best checkpoint with half the learning rate.
func (h *Harness[B]) restart() error {
	h.state = Restarting
	if err := h.Restore(h.bestStep, false); err != nil {
		return errors.Wrap(err, "restart")
	}
	h.lr /= 2
	h.opt.SetLR(h.lr)
	h.logger.Info("halving learning rate",
		zap.Float32("learning_rate", h.lr),
		zap.Int("step", h.bestStep),
		zap.Int("restart", h.restarts+1))
	h.step = h.bestStep
	h.restarts++
	h.state = Running
	return nil
}

func (h *Harness[B]) saveAll(step int) error {
	if err := h.Save(step, false); err != nil {
		return err
	}
	if h.avg != nil {
		return h.Save(step, true)
	}
	return nil
}

// mode returns the flags for a forward pass.
func (h *Harness[B]) mode(training bool) Mode {
	m := Mode{KeepProb: 1}
	if training && h.caps.HasDropout {
		m.KeepProb = h.cfg.KeepProb
	}
	if training && h.caps.HasTrainingFlag {
		m.Training = true
	}
	return m
}

// feed joins the batch columns with the declared inputs.
func (h *Harness[B]) feed(batch *frame.Frame) (Feed, error) {
	feed := make(Feed, len(h.caps.Inputs))
	for _, name := range h.caps.Inputs {
		c, ok := batch.Column(name)
		if !ok {
			continue
		}
		raw, err := toRaw(c, h.backend.Device())
		if err != nil {
			return nil, errors.Wrapf(err, "input %q", name)
		}
		feed[name] = raw
	}
	return feed, nil
}

func toRaw(c frame.Column, device tensor.Device) (*tensor.RawTensor, error) {
	switch v := c.(type) {
	case *tensor.RawTensor:
		return v, nil
	case *frame.Array:
		return v.Raw(device)
	}
	return frame.ArrayOf(c).Raw(device)
}

// forward runs the model with tape recording off.
func (h *Harness[B]) forward(batch *frame.Frame) (*Outputs[B], error) {
	tape := h.backend.GetTape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		tape.Clear()
		if wasRecording {
			tape.StartRecording()
		}
	}()

	feed, err := h.feed(batch)
	if err != nil {
		return nil, err
	}
	return h.model.Forward(feed, h.mode(false))
}

// evaluate returns the loss on a validation batch and logs monitor tensors.
func (h *Harness[B]) evaluate(batch *frame.Frame) (float64, error) {
	out, err := h.forward(batch)
	if err != nil {
		return 0, err
	}
	loss, err := scalar(out)
	if err != nil {
		return 0, err
	}

	for _, name := range h.caps.MonitorTensors {
		t, ok := out.Tensors[name]
		if !ok {
			return 0, errors.Wrapf(ErrMissingOutput, "monitor tensor %q", name)
		}
		s := summarize(frame.Values(t))
		h.logger.Debug("monitor",
			zap.String("tensor", name),
			zap.Float64("min", s.Min),
			zap.Float64("max", s.Max),
			zap.Float64("mean", s.Mean),
			zap.Float64("std", s.Std),
			zap.Int("nans", s.NaNs))
	}
	return loss, nil
}

// trainStep runs forward, backward and the parameter update on one batch.
func (h *Harness[B]) trainStep(batch *frame.Frame) (float64, error) {
	feed, err := h.feed(batch)
	if err != nil {
		return 0, err
	}

	tape := h.backend.GetTape()
	tape.Clear()
	tape.StartRecording()
	out, err := h.model.Forward(feed, h.mode(true))
	tape.StopRecording()
	defer tape.Clear()
	if err != nil {
		return 0, err
	}
	loss, err := scalar(out)
	if err != nil {
		return 0, err
	}

	grads := map[*tensor.RawTensor]*tensor.RawTensor{}
	if tape.NumOps() > 0 {
		grads = autodiff.Backward(out.Loss, h.backend)
	}
	grads, _ = optim.Penalize(h.params, grads, h.cfg.RegularizationConstant, h.backend)
	grads = optim.Clip(grads, h.cfg.GradClip)

	h.opt.Step(grads)
	h.opt.ZeroGrad()
	if h.avg != nil {
		h.avg.Update()
	}
	return loss, nil
}

func scalar[B tensor.Backend](out *Outputs[B]) (float64, error) {
	if out == nil || out.Loss == nil {
		return 0, ErrNoLoss
	}
	raw := out.Loss.Raw()
	if raw.NumElements() != 1 || raw.DType() != tensor.Float32 {
		return 0, errors.Wrapf(ErrNoLoss, "loss must be a float32 scalar, got %s%v", raw.DType(), []int(raw.Shape()))
	}
	return float64(raw.AsFloat32()[0]), nil
}

func paramKey[B tensor.Backend](i int, p *nn.Parameter[B]) string {
	return fmt.Sprintf("%02d.%s", i, p.Name())
}

// Command trainer fits a small classifier on a directory of .npy columns and
// writes its test predictions.
//
//	trainer --data-dir data --mode all --optimizer rms --num-restarts 2
//	trainer --synthetic --config train.yaml
//
// The data directory holds features.npy (float32 [N, D]) and labels.npy
// (int32 [N]). Options come from the defaults, then the --config file, then
// the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/trainkit/internal/harness"
	"github.com/born-ml/trainkit/internal/logging"
	"github.com/born-ml/trainkit/internal/reader"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	harness.Config

	ConfigFile string `arg:"--config" help:"YAML file with training options"`
	DataDir    string `arg:"--data-dir" help:"directory of .npy columns"`
	Synthetic  bool   `arg:"--synthetic" help:"train on generated blobs instead of --data-dir"`
	Mmap       bool   `arg:"--mmap" help:"memory-map the data columns"`
	Mode       string `arg:"--mode" help:"fit, predict or all"`
	ChunkSize  int    `arg:"--chunk-size" help:"rows per prediction batch"`
	Seed       uint64 `arg:"--seed" help:"seed for the split, shuffling and synthetic data"`
	Hidden     int    `arg:"--hidden" help:"hidden units of the classifier"`
	Classes    int    `arg:"--classes" help:"number of classes"`
	Rows       int    `arg:"--rows" help:"rows of synthetic data"`
	Dim        int    `arg:"--dim" help:"feature dimension of synthetic data"`
	Debug      bool   `arg:"--debug" help:"log monitor statistics"`
}

func (options) Description() string {
	return "trains a two-layer classifier with early stopping and restarts"
}

func main() {
	opts := options{
		Config:    harness.DefaultConfig(),
		Mode:      "all",
		ChunkSize: 512,
		Seed:      1,
		Hidden:    32,
		Classes:   3,
		Rows:      2000,
		Dim:       8,
	}
	p := arg.MustParse(&opts)
	if opts.ConfigFile != "" {
		cfg, err := harness.LoadConfig(opts.ConfigFile)
		if err != nil {
			p.Fail(err.Error())
		}
		opts.Config = cfg
		// flags win over the file
		if err := p.Parse(os.Args[1:]); err != nil {
			p.Fail(err.Error())
		}
	}
	switch opts.Mode {
	case "fit", "predict", "all":
	default:
		p.Fail("--mode must be fit, predict or all")
	}
	if !opts.Synthetic && opts.DataDir == "" {
		p.Fail("one of --data-dir or --synthetic is required")
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	run, err := logging.New(logging.Config{Dir: opts.LogDir, Level: level})
	if err != nil {
		p.Fail(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = train(ctx, opts, run.Logger)
	stop()
	if err != nil {
		run.Error("trainer failed", zap.Error(err))
	}
	_ = run.Close()
	if err != nil {
		os.Exit(1)
	}
}

func train(ctx context.Context, opts options, logger *zap.Logger) error {
	r, err := openReader(opts, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	dim := opts.Dim
	if shape, ok := r.Test().Shapes()[featuresColumn]; ok && len(shape) == 2 {
		dim = shape[1]
	}
	model := newClassifier[*autodiff.Backend[*cpu.Backend]](dim, opts.Hidden, opts.Classes)

	h, err := harness.New(model, r, opts.Config, autodiff.New(cpu.New()), logger)
	if err != nil {
		return err
	}

	if opts.Mode != "predict" {
		res, err := h.Fit(ctx)
		if err != nil {
			return errors.Wrap(err, "fit")
		}
		if rerr := r.Err(); rerr != nil {
			return rerr
		}
		logger.Info("training finished",
			zap.Stringer("state", res.State),
			zap.Int("step", res.Step),
			zap.Int("best_step", res.BestStep),
			zap.Float64("best_loss", res.BestLoss),
			zap.Int("restarts", res.Restarts))
	}
	if opts.Mode == "fit" {
		return nil
	}

	if err := h.Restore(0, opts.EnableParameterAveraging); err != nil {
		return errors.Wrap(err, "restore for prediction")
	}
	paths, err := h.Predict(ctx, opts.ChunkSize)
	if err != nil {
		return errors.Wrap(err, "predict")
	}
	logger.Info("predictions written", zap.Strings("paths", paths))
	return nil
}

func openReader(opts options, logger *zap.Logger) (*reader.Reader, error) {
	ropts := reader.Options{
		Seed:   opts.Seed,
		Mmap:   opts.Mmap,
		Logger: logger,
	}
	if !opts.Synthetic {
		ropts.Columns = []string{featuresColumn, labelsColumn}
		return reader.Open(opts.DataDir, ropts)
	}
	f, err := synthetic(opts.Rows, opts.Dim, opts.Classes, 3, opts.Seed)
	if err != nil {
		return nil, err
	}
	return reader.New(f, ropts)
}

package harness

import (
	"bytes"
	"os"

	"github.com/born-ml/trainkit/internal/optim"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("harness: invalid config")

// Config holds the training options. Every field has a default, see
// DefaultConfig; the yaml and arg tags expose them to config files and the
// command line.
type Config struct {
	BatchSize              int     `yaml:"batch_size" arg:"--batch-size" help:"minibatch size"`
	NumTrainingSteps       int     `yaml:"num_training_steps" arg:"--num-training-steps" help:"training step budget"`
	LearningRate           float32 `yaml:"learning_rate" arg:"--learning-rate" help:"initial learning rate"`
	Optimizer              string  `yaml:"optimizer" arg:"--optimizer" help:"adam, gd or rms"`
	GradClip               float32 `yaml:"grad_clip" arg:"--grad-clip" help:"clip gradients element-wise to [-grad_clip, grad_clip]; 0 disables"`
	RegularizationConstant float32 `yaml:"regularization_constant" arg:"--regularization-constant" help:"L2 penalty on all trainable parameters"`
	KeepProb               float32 `yaml:"keep_prob" arg:"--keep-prob" help:"dropout keep probability during training"`
	EarlyStoppingSteps     int     `yaml:"early_stopping_steps" arg:"--early-stopping-steps" help:"steps without validation improvement before stopping"`
	WarmStartInitStep      int     `yaml:"warm_start_init_step" arg:"--warm-start-init-step" help:"restore this checkpoint step and resume from it"`
	NumRestarts            int     `yaml:"num_restarts" arg:"--num-restarts" help:"restarts from the best checkpoint with a halved learning rate"`

	EnableParameterAveraging bool    `yaml:"enable_parameter_averaging" arg:"--enable-parameter-averaging" help:"checkpoint exponential moving averages of parameters"`
	AveragingDecay           float32 `yaml:"averaging_decay" arg:"--averaging-decay" help:"decay of the parameter moving average"`

	MinStepsToCheckpoint int `yaml:"min_steps_to_checkpoint" arg:"--min-steps-to-checkpoint" help:"no checkpoints at or before this step"`
	LogInterval          int `yaml:"log_interval" arg:"--log-interval" help:"steps between averaged loss reports and checkpoint decisions"`
	LossAveragingWindow  int `yaml:"loss_averaging_window" arg:"--loss-averaging-window" help:"number of recent losses averaged"`
	NumValidationBatches int `yaml:"num_validation_batches" arg:"--num-validation-batches" help:"validation batch size in multiples of batch_size"`
	KeepCheckpoints      int `yaml:"keep_checkpoints" arg:"--keep-checkpoints" help:"checkpoints retained per directory"`

	LogDir        string `yaml:"log_dir" arg:"--log-dir" help:"directory for run logs"`
	CheckpointDir string `yaml:"checkpoint_dir" arg:"--checkpoint-dir" help:"directory for checkpoints"`
	PredictionDir string `yaml:"prediction_dir" arg:"--prediction-dir" help:"directory for predictions"`
}

// DefaultConfig returns the default options.
func DefaultConfig() Config {
	return Config{
		BatchSize:                128,
		NumTrainingSteps:         20000,
		LearningRate:             0.01,
		Optimizer:                "adam",
		GradClip:                 5,
		RegularizationConstant:   0,
		KeepProb:                 1,
		EarlyStoppingSteps:       3000,
		WarmStartInitStep:        0,
		NumRestarts:              0,
		EnableParameterAveraging: false,
		AveragingDecay:           optim.DefaultAveragingDecay,
		MinStepsToCheckpoint:     100,
		LogInterval:              20,
		LossAveragingWindow:      100,
		NumValidationBatches:     1,
		KeepCheckpoints:          1,
		LogDir:                   "logs",
		CheckpointDir:            "checkpoints",
		PredictionDir:            "predictions",
	}
}

// LoadConfig reads a YAML file over the defaults. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	//nolint:gosec // G304: path is chosen by the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := cfg.UnmarshalYAMLBytes(data); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// UnmarshalYAMLBytes overlays the YAML document in data onto c.
func (c *Config) UnmarshalYAMLBytes(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// Validate checks that every option is in range.
func (c Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.BatchSize > 0, "batch_size must be positive"},
		{c.NumTrainingSteps >= 0, "num_training_steps must not be negative"},
		{c.LearningRate > 0, "learning_rate must be positive"},
		{c.GradClip >= 0, "grad_clip must not be negative"},
		{c.RegularizationConstant >= 0, "regularization_constant must not be negative"},
		{c.KeepProb > 0 && c.KeepProb <= 1, "keep_prob must be in (0, 1]"},
		{c.EarlyStoppingSteps > 0, "early_stopping_steps must be positive"},
		{c.WarmStartInitStep >= 0, "warm_start_init_step must not be negative"},
		{c.NumRestarts >= 0, "num_restarts must not be negative"},
		{c.AveragingDecay > 0 && c.AveragingDecay < 1, "averaging_decay must be in (0, 1)"},
		{c.MinStepsToCheckpoint >= 0, "min_steps_to_checkpoint must not be negative"},
		{c.LogInterval > 0, "log_interval must be positive"},
		{c.LogInterval <= c.EarlyStoppingSteps, "log_interval must not exceed early_stopping_steps"},
		{c.LossAveragingWindow > 0, "loss_averaging_window must be positive"},
		{c.NumValidationBatches > 0, "num_validation_batches must be positive"},
		{c.KeepCheckpoints > 0, "keep_checkpoints must be positive"},
		{c.LogDir != "" && c.CheckpointDir != "" && c.PredictionDir != "", "directories must be set"},
	}
	for _, check := range checks {
		if !check.ok {
			return errors.Wrap(ErrInvalidConfig, check.msg)
		}
	}
	_, err := optim.ParseKind(c.Optimizer)
	return err
}

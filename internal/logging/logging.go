// Package logging sets up the per-run logger: a timestamped file under the
// log directory teed with the console.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileTimeLayout names log files: log_<FileTimeLayout>.txt.
const FileTimeLayout = "2006-01-02_15-04"

const entryTimeLayout = "[[01/02/2006 03:04:05 PM]]"

// Config configures a run logger.
type Config struct {
	// Dir receives the log file; created when missing.
	Dir string
	// Console mirrors every entry; nil means os.Stderr.
	Console io.Writer
	Level   zapcore.Level
	// Now overrides the clock used to name the file.
	Now func() time.Time
}

// Run is a logger bound to one log file.
type Run struct {
	*zap.Logger
	path string
	file *os.File
}

// New creates the log directory and file and returns a logger writing to
// both the file and the console. Callers must Close the run.
func New(cfg Config) (*Run, error) {
	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create log directory %s", cfg.Dir)
	}

	path := filepath.Join(cfg.Dir, "log_"+cfg.Now().Format(FileTimeLayout)+".txt")
	//nolint:gosec // G304: path is built from the configured log directory
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.TimeEncoderOfLayout(entryTimeLayout)
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(config)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(file)), cfg.Level),
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(cfg.Console)), cfg.Level),
	)
	return &Run{Logger: zap.New(core), path: path, file: file}, nil
}

// Path returns the log file path.
func (r *Run) Path() string { return r.path }

// Close flushes the logger and closes the log file.
func (r *Run) Close() error {
	_ = r.Sync()
	return r.file.Close()
}

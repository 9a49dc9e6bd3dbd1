// Package checkpoint persists training snapshots keyed by step.
//
// Layout:
//
//	<dir>/model-<step>.npz          regular checkpoints
//	<dir>_avg/model_avg-<step>.npz  averaged-parameter checkpoints
//
// Each archive holds one .npy entry per tensor plus a meta.yaml entry with
// the step, learning rate, creation time and per-entry checksums.
//
// Each directory also holds index.yaml, the checkpointed steps in write
// order. Only the Keep most recently written checkpoints of each kind are
// retained, and the latest checkpoint is the last one written, whatever its
// step. Files missing from the index rank before every indexed one.
package checkpoint

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/trainkit/internal/npy"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrNoCheckpoint is returned when a requested checkpoint does not exist.
var ErrNoCheckpoint = errors.New("checkpoint: no checkpoint found")

const (
	metaFile  = "meta.yaml"
	indexFile = "index.yaml"
	extension = ".npz"
)

// index lists checkpointed steps in write order, oldest first.
type index struct {
	Steps []int `yaml:"steps"`
}

// Meta describes a checkpoint.
type Meta struct {
	Step         int       `yaml:"step"`
	LearningRate float32   `yaml:"learning_rate"`
	Averaged     bool      `yaml:"averaged"`
	RunID        string    `yaml:"run_id,omitempty"`
	CreatedAt    time.Time `yaml:"created_at"`
	// Checksums maps entry names to the SHA-256 of their contents.
	Checksums map[string]string `yaml:"checksums,omitempty"`
}

// Checkpoint is a loaded snapshot.
type Checkpoint struct {
	Meta    Meta
	Path    string
	Archive *npy.Archive
}

// Store reads and writes checkpoints under a directory.
type Store struct {
	dir    string
	keep   int
	logger *zap.Logger
}

// NewStore creates a store rooted at dir that keeps the newest keep
// checkpoints per kind (at least one).
func NewStore(dir string, keep int, logger *zap.Logger) *Store {
	if keep < 1 {
		keep = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, keep: keep, logger: logger}
}

// Dir returns the directory holding checkpoints of the given kind.
func (s *Store) Dir(averaged bool) string {
	if averaged {
		return s.dir + "_avg"
	}
	return s.dir
}

func prefix(averaged bool) string {
	if averaged {
		return "model_avg-"
	}
	return "model-"
}

// Path returns the file name of the checkpoint at step.
func (s *Store) Path(step int, averaged bool) string {
	return filepath.Join(s.Dir(averaged), prefix(averaged)+strconv.Itoa(step)+extension)
}

// Save writes entries as the checkpoint for meta.Step and prunes older ones.
func (s *Store) Save(entries []npy.Entry, meta Meta) (string, error) {
	dir := s.Dir(meta.Averaged)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		s.logger.Info("creating checkpoint directory", zap.String("dir", dir))
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	meta.Checksums = checksums(entries)
	metaBytes, err := yaml.Marshal(meta)
	if err != nil {
		return "", errors.Wrap(err, "marshal checkpoint meta")
	}

	path := s.Path(meta.Step, meta.Averaged)
	if err := npy.SaveArchive(path, entries, map[string][]byte{metaFile: metaBytes}); err != nil {
		return "", errors.Wrapf(err, "save checkpoint at step %d", meta.Step)
	}

	fields := []zap.Field{zap.String("path", path), zap.Int("step", meta.Step)}
	if info, err := os.Stat(path); err == nil {
		fields = append(fields, zap.String("size", humanize.Bytes(uint64(info.Size())))) //nolint:gosec // size is non-negative
	}
	s.logger.Info("saving model", fields...)

	return path, s.retain(meta.Step, meta.Averaged)
}

// Steps lists the steps with a checkpoint of the given kind, ascending.
// A missing directory has no checkpoints.
func (s *Store) Steps(averaged bool) ([]int, error) {
	entries, err := os.ReadDir(s.Dir(averaged))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.Dir(averaged))
	}

	pre := prefix(averaged)
	var steps []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, pre) || !strings.HasSuffix(name, extension) {
			continue
		}
		step, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, pre), extension))
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	slices.Sort(steps)
	return steps, nil
}

// Latest returns the most recently written checkpointed step.
func (s *Store) Latest(averaged bool) (int, error) {
	steps, err := s.order(averaged)
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		return 0, errors.Wrapf(ErrNoCheckpoint, "in %s", s.Dir(averaged))
	}
	return steps[len(steps)-1], nil
}

// Load reads the checkpoint at step; step 0 selects the latest.
func (s *Store) Load(step int, averaged bool) (*Checkpoint, error) {
	if step == 0 {
		latest, err := s.Latest(averaged)
		if err != nil {
			return nil, err
		}
		step = latest
	}

	path := s.Path(step, averaged)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNoCheckpoint, "%s", path)
	}
	s.logger.Info("restoring model parameters", zap.String("path", path))

	archive, err := npy.LoadArchive(path)
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}
	meta := Meta{Step: step, Averaged: averaged}
	if raw, ok := archive.Files[metaFile]; ok {
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			return nil, errors.Wrapf(err, "parse %s in %s", metaFile, path)
		}
	}
	if err := verify(archive, meta.Checksums); err != nil {
		return nil, errors.Wrapf(err, "verify %s", path)
	}
	return &Checkpoint{Meta: meta, Path: path, Archive: archive}, nil
}

// order returns the steps on disk in write order.
func (s *Store) order(averaged bool) ([]int, error) {
	steps, err := s.Steps(averaged)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir(averaged), indexFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return steps, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var idx index
	if err := yaml.Unmarshal(raw, &idx); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	onDisk := make(map[int]bool, len(steps))
	for _, step := range steps {
		onDisk[step] = true
	}
	indexed := make(map[int]bool, len(idx.Steps))
	var written []int
	for _, step := range idx.Steps {
		if onDisk[step] && !indexed[step] {
			indexed[step] = true
			written = append(written, step)
		}
	}
	order := make([]int, 0, len(steps))
	for _, step := range steps {
		if !indexed[step] {
			order = append(order, step)
		}
	}
	return append(order, written...), nil
}

// retain records step as the latest write, removes all but the keep most
// recent checkpoints and rewrites the index. step itself is never removed.
func (s *Store) retain(step int, averaged bool) error {
	order, err := s.order(averaged)
	if err != nil {
		return err
	}
	order = slices.DeleteFunc(order, func(v int) bool { return v == step })
	order = append(order, step)

	for len(order) > s.keep {
		path := s.Path(order[0], averaged)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove old checkpoint %s", path)
		}
		s.logger.Debug("removed old checkpoint", zap.String("path", path))
		order = order[1:]
	}

	raw, err := yaml.Marshal(index{Steps: order})
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint index")
	}
	path := filepath.Join(s.Dir(averaged), indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "replace %s", path)
}

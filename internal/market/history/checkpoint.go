package history

import (
	"encoding/json"
	"os"
	"time"

	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Checkpoint records how far a backfill got for one series so an
// interrupted run resumes instead of refetching from the window start.
type Checkpoint struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	NextSince time.Time `json:"next_since"`
	Done      bool      `json:"done"`
}

// CheckpointFile persists per-series checkpoints as a single JSON document.
// An empty path disables checkpointing.
type CheckpointFile struct {
	path string
}

func NewCheckpointFile(path string) *CheckpointFile {
	return &CheckpointFile{path: path}
}

// Load returns the checkpoint for a series, or a zero checkpoint when none
// has been written yet.
func (f *CheckpointFile) Load(key types.SeriesKey) (Checkpoint, error) {
	if f.path == "" {
		return Checkpoint{}, nil
	}

	all, err := f.read()
	if err != nil {
		return Checkpoint{}, err
	}

	return all[key.String()], nil
}

// Save writes the checkpoint for a series, preserving other series.
func (f *CheckpointFile) Save(key types.SeriesKey, cp Checkpoint) error {
	if f.path == "" {
		return nil
	}

	all, err := f.read()
	if err != nil {
		return err
	}

	all[key.String()] = cp

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCheckpointError, "failed to marshal checkpoint", err)
	}

	// Write-then-rename so a crash mid-write cannot corrupt the file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeCheckpointError, "failed to write checkpoint", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(errors.ErrCodeCheckpointError, "failed to replace checkpoint", err)
	}

	return nil
}

func (f *CheckpointFile) read() (map[string]Checkpoint, error) {
	all := make(map[string]Checkpoint)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}

		return nil, errors.Wrap(errors.ErrCodeCheckpointError, "failed to read checkpoint", err)
	}

	if err := json.Unmarshal(data, &all); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCheckpointError, "corrupt checkpoint file", err)
	}

	return all, nil
}

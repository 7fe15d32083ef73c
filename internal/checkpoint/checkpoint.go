// Package checkpoint persists the last fully processed date as a single ISO date line.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// File is a checkpoint stored in a plain text file. It assumes a single writer.
type File struct {
	path string
}

var _ epaper.Checkpointer = (*File)(nil)

// New returns a checkpoint backed by path.
func New(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	return &File{path: path}, nil
}

// Path returns the checkpoint file location.
func (f *File) Path() string {
	return f.path
}

// Save overwrites the checkpoint with date.
func (f *File) Save(date time.Time) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	line := date.Format(time.DateOnly) + "\n"
	if err := os.WriteFile(f.path, []byte(line), 0o600); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", f.path, err)
	}
	return nil
}

// Load returns the day after the persisted date. ok is false when no checkpoint was ever saved.
func (f *File) Load() (time.Time, bool, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read checkpoint %s: %w", f.path, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return time.Time{}, false, nil
	}
	last, err := time.Parse(time.DateOnly, text)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse checkpoint %s: %w", f.path, err)
	}
	return last.AddDate(0, 0, 1), true, nil
}

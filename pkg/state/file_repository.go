package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	filePrefix = "status"
	fileSuffix = ".json"
)

// FileName returns the status file name for a process label, e.g.
// "status.json" for "" and "status.worker-2.json" for "worker-2".
func FileName(label string) string {
	if label == "" {
		return filePrefix + fileSuffix
	}
	return filePrefix + "." + label + fileSuffix
}

// FileRepository implements Repository using a JSON file.
type FileRepository struct {
	dir  string
	name string
}

// NewFileRepository creates a new FileRepository for the given directory
// and file name.
func NewFileRepository(dir, name string) *FileRepository {
	if name == "" {
		name = FileName("")
	}
	return &FileRepository{dir: dir, name: name}
}

// Load retrieves the last saved status from disk.
// Returns an empty status and nil error if no file exists.
func (r *FileRepository) Load(ctx context.Context) (Status, error) {
	return readStatus(r.Path())
}

func readStatus(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, nil
		}
		return Status{}, err
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, fmt.Errorf("%s: %w", path, err)
	}

	return status, nil
}

// Save persists the status atomically.
// Uses atomic write (write to temp file, then rename) to prevent corruption.
func (r *FileRepository) Save(ctx context.Context, status Status) error {
	// Ensure directory exists
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}

	path := r.Path()
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmp, path)
}

// Remove deletes the status file. A missing file is not an error.
func (r *FileRepository) Remove() error {
	if err := os.Remove(r.Path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path returns the full path to the status file.
func (r *FileRepository) Path() string {
	return filepath.Join(r.dir, r.name)
}

// List reads every status file in dir, ordered by file name.
func List(dir string) ([]Status, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	out := make([]Status, 0, len(matches))
	for _, path := range matches {
		s, err := readStatus(path)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Prune removes labelled status files in dir that recorded a stop more
// than retention before now. The unlabelled file is never removed. It
// returns the number of files removed.
func Prune(dir string, retention time.Duration, now time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+".*"+fileSuffix))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range matches {
		s, err := readStatus(path)
		if err != nil || s.StoppedAt == nil {
			continue
		}
		if now.Sub(*s.StoppedAt) <= retention {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	appLog "taskline/internal/log"
)

const dataFileName = "tasks.json"

// FileRepo is a MemoryRepo that writes its whole state to a JSON file after
// every mutation.
type FileRepo struct {
	*MemoryRepo
	path string
}

// NewFileRepo opens (or creates) dataDir/tasks.json.
func NewFileRepo(dataDir string) (*FileRepo, error) {
	if dataDir == "" {
		return nil, errors.New("store: data dir is empty")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}

	path := filepath.Join(dataDir, dataFileName)
	s, err := loadState(path)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}

	mem := NewMemoryRepo()
	mem.s = s
	mem.persist = func(s state) error {
		return writeState(path, s)
	}

	appLog.Info("store opened",
		"path", path,
		"recurrences", len(s.Recurrences),
		"instances", len(s.Instances),
	)
	return &FileRepo{MemoryRepo: mem, path: path}, nil
}

// Path is the backing file.
func (r *FileRepo) Path() string {
	return r.path
}

func loadState(path string) (state, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newState(), nil
		}
		return state{}, err
	}

	s := newState()
	if err := json.Unmarshal(data, &s); err != nil {
		return state{}, err
	}
	// A "null" section in the file decodes to a nil map.
	if s.Recurrences == nil || s.Instances == nil {
		fresh := newState()
		if s.Recurrences == nil {
			s.Recurrences = fresh.Recurrences
		}
		if s.Instances == nil {
			s.Instances = fresh.Instances
		}
	}
	return s, nil
}

// writeState replaces path atomically: temp file in the same directory,
// fsync, chmod 0600, rename.
func writeState(path string, s state) error {
	data, err := json.MarshalIndent(&s, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".taskline-data-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

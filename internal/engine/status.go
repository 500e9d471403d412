package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/anomalystack/anomaly-scan/internal/models"
)

const statusFileName = "status.json"

// StatusFile persists a small operational summary between runs so the CLI
// can report on the engine without touching the pattern store.
type StatusFile struct {
	path string
	mu   sync.Mutex
}

// NewStatusFile places the status document under dataDir.
func NewStatusFile(dataDir string) (*StatusFile, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &StatusFile{path: filepath.Join(dataDir, statusFileName)}, nil
}

// Load reads the current status. A missing file yields the zero status.
func (s *StatusFile) Load() (models.SystemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update applies fn to the current status and persists the result atomically.
func (s *StatusFile) Update(fn func(*models.SystemStatus)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.read()
	if err != nil {
		return err
	}
	fn(&status)
	status.Initialized = true

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *StatusFile) read() (models.SystemStatus, error) {
	var status models.SystemStatus
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return status, nil
		}
		return status, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return models.SystemStatus{}, nil
	}
	return status, nil
}

package patterns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

const patternsFileName = "patterns.json"

// FileStore keeps the pattern library in one JSON document under the data
// directory. Writes go to a temp file first and land with an atomic rename,
// so a crash mid-write never corrupts the library. A single mutex serialises
// writers; the pipeline has exactly one extraction stage, so contention is
// not a concern.
type FileStore struct {
	logger *slog.Logger
	path   string
	mu     sync.Mutex
}

// NewFileStore creates the data directory if needed and returns the store.
func NewFileStore(logger *slog.Logger, dataDir string) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{logger: logger, path: filepath.Join(dataDir, patternsFileName)}, nil
}

func (s *FileStore) SavePatterns(ctx context.Context, patterns []models.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readAll()
	if err != nil {
		return utils.NewAppError("patterns.file.save", utils.KindPersistence, "read pattern library", err)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		seen[p.ID] = struct{}{}
	}
	for _, p := range patterns {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		existing = append(existing, p)
		seen[p.ID] = struct{}{}
	}

	if err := s.writeAll(existing); err != nil {
		return utils.NewAppError("patterns.file.save", utils.KindPersistence, "write pattern library", err)
	}
	s.logger.Debug("pattern library updated", "path", s.path, "total", len(existing))
	return nil
}

func (s *FileStore) LoadPatterns(ctx context.Context) ([]models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patterns, err := s.readAll()
	if err != nil {
		return nil, utils.NewAppError("patterns.file.load", utils.KindPersistence, "read pattern library", err)
	}
	return patterns, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readAll() ([]models.Pattern, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var patterns []models.Pattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return patterns, nil
}

func (s *FileStore) writeAll(patterns []models.Pattern) error {
	data, err := json.MarshalIndent(patterns, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

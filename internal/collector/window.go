package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/models"
)

const windowFileName = "window.json"

// retainedWindow is the persisted rolling sample window. Samples older than
// the retention cutoff are pruned on every append.
type retainedWindow struct {
	System  []models.MetricSample `json:"system"`
	Process []models.MetricSample `json:"process"`
}

type windowFile struct {
	path string
	mu   sync.Mutex
}

func newWindowFile(dataDir string) (*windowFile, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &windowFile{path: filepath.Join(dataDir, windowFileName)}, nil
}

// append merges new samples into the window, drops everything before cutoff,
// persists atomically and returns the retained window.
func (w *windowFile) append(system models.MetricSample, process []models.MetricSample, cutoff time.Time) (retainedWindow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	window, err := w.read()
	if err != nil {
		return retainedWindow{}, err
	}

	window.System = append(window.System, system)
	window.Process = append(window.Process, process...)
	window.System = pruneSamples(window.System, cutoff)
	window.Process = pruneSamples(window.Process, cutoff)

	if err := w.write(window); err != nil {
		return retainedWindow{}, err
	}
	return window, nil
}

func (w *windowFile) read() (retainedWindow, error) {
	var window retainedWindow
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return window, nil
		}
		return window, fmt.Errorf("read sample window: %w", err)
	}
	if err := json.Unmarshal(data, &window); err != nil {
		// A corrupt window is recoverable: start a fresh one rather
		// than wedging every future collection pass.
		return retainedWindow{}, nil
	}
	return window, nil
}

func (w *windowFile) write(window retainedWindow) error {
	data, err := json.Marshal(window)
	if err != nil {
		return err
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sample window: %w", err)
	}
	return os.Rename(tmp, w.path)
}

func pruneSamples(samples []models.MetricSample, cutoff time.Time) []models.MetricSample {
	out := samples[:0]
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

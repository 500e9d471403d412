package scanner

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

// LoadScanners reads the manifest and every artifact it lists. A missing
// manifest means no scanners have been generated yet and is not an error.
func LoadScanners(dir string) ([]models.ScannerSpec, models.ScannerManifest, error) {
	var manifest models.ScannerManifest

	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, manifest, nil
		}
		return nil, manifest, utils.NewAppError("scanner.load", utils.KindPersistence, "read manifest", err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, manifest, utils.NewAppError("scanner.load", utils.KindPersistence, "parse manifest", err)
	}

	specs := make([]models.ScannerSpec, 0, len(manifest.Scanners))
	for _, entry := range manifest.Scanners {
		raw, err := os.ReadFile(filepath.Join(dir, entry.File))
		if err != nil {
			return nil, manifest, utils.NewAppError("scanner.load", utils.KindPersistence, "read scanner artifact", err)
		}
		var spec models.ScannerSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, manifest, utils.NewAppError("scanner.load", utils.KindPersistence, "parse scanner artifact", err)
		}
		specs = append(specs, spec)
	}
	return specs, manifest, nil
}

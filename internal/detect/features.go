package detect

import (
	"sort"

	"github.com/anomalystack/anomaly-scan/internal/models"
)

// featureMatrix turns metric samples into a dense, column-normalised matrix.
// Columns follow the sorted union of metric names so the layout is stable
// across runs. Missing values are filled with the column mean before
// normalisation, which makes them neutral for every model.
func featureMatrix(samples []models.MetricSample) ([][]float64, []string) {
	if len(samples) == 0 {
		return nil, nil
	}

	nameSet := make(map[string]struct{})
	for _, s := range samples {
		for name := range s.Values {
			nameSet[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]float64, len(samples))
	present := make([][]bool, len(samples))
	for i, s := range samples {
		row := make([]float64, len(names))
		mask := make([]bool, len(names))
		for j, name := range names {
			if v, ok := s.Values[name]; ok {
				row[j] = v
				mask[j] = true
			}
		}
		rows[i] = row
		present[i] = mask
	}

	for j := range names {
		sum := 0.0
		count := 0
		for i := range rows {
			if present[i][j] {
				sum += rows[i][j]
				count++
			}
		}
		if count == 0 {
			continue
		}
		mean := sum / float64(count)
		for i := range rows {
			if !present[i][j] {
				rows[i][j] = mean
			}
		}
	}

	normalizeColumns(rows)
	return rows, names
}

// normalizeColumns z-scores each column in place. Constant columns become
// all zeros instead of dividing by a zero deviation.
func normalizeColumns(rows [][]float64) {
	if len(rows) == 0 {
		return
	}
	dims := len(rows[0])
	column := make([]float64, len(rows))
	for j := 0; j < dims; j++ {
		for i := range rows {
			column[i] = rows[i][j]
		}
		stats := models.ComputeStats(column)
		for i := range rows {
			if stats.Std == 0 {
				rows[i][j] = 0
				continue
			}
			rows[i][j] = (rows[i][j] - stats.Mean) / stats.Std
		}
	}
}

// baselineStats computes per-metric full-window statistics from the raw,
// unnormalised samples. These ride along on every anomaly record so that
// threshold derivation sees the whole window, not just the outliers.
func baselineStats(samples []models.MetricSample) map[string]models.MetricStats {
	series := make(map[string][]float64)
	for _, s := range samples {
		for name, v := range s.Values {
			series[name] = append(series[name], v)
		}
	}
	out := make(map[string]models.MetricStats, len(series))
	for name, values := range series {
		out[name] = models.ComputeStats(values)
	}
	return out
}

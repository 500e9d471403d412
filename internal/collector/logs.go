package collector

import (
	"strings"
	"time"

	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/scanner"
)

const (
	logTailLines   = 1000
	maxLogMessages = 50
)

// summarizeLogs digests the tail of a service's log files into level counts
// plus a bounded sample of the offending lines. A service with no readable
// log file yields nothing, which is normal on hosts not running it.
func summarizeLogs(service string, paths []string, now time.Time) (models.LogSummary, bool) {
	summary := models.LogSummary{Service: service, CollectedAt: now}
	readable := false
	for _, path := range paths {
		lines, err := scanner.TailFile(path, logTailLines)
		if err != nil {
			continue
		}
		readable = true
		for _, line := range lines {
			summary.TotalLines++
			switch classifyLine(line) {
			case models.SeverityCritical:
				summary.CriticalCount++
				summary.Messages = appendBounded(summary.Messages, line)
			case models.SeverityHigh:
				summary.ErrorCount++
				summary.Messages = appendBounded(summary.Messages, line)
			case models.SeverityLow:
				summary.WarningCount++
			}
		}
	}
	return summary, readable
}

func appendBounded(messages []string, line string) []string {
	if len(messages) >= maxLogMessages {
		return messages
	}
	return append(messages, line)
}

// classifyLine buckets a log line by its most severe level marker.
func classifyLine(line string) models.Severity {
	lower := strings.ToLower(line)
	switch {
	case containsAny(lower, "fatal", "critical", "emergency", "panic"):
		return models.SeverityCritical
	case containsAny(lower, "error", " err ", "failed", "failure"):
		return models.SeverityHigh
	case containsAny(lower, "warning", "warn"):
		return models.SeverityLow
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

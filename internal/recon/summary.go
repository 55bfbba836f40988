package recon

import (
	"sort"

	"execution-core/internal/schema"
)

// CreateSummary aggregates a diff set into a summary: counts by severity
// and type, a deterministically ordered top-N subset, and the derived
// escalation flags. Given the same diffs and clock, two invocations
// produce byte-identical output.
func (e *Engine) CreateSummary(runID, sessionID string, diffs []schema.ReconDiff, topN int) schema.ReconSummary {
	sorted := make([]schema.ReconDiff, len(diffs))
	copy(sorted, diffs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return sorted[i].Severity > sorted[j].Severity
		}
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].DiffID < sorted[j].DiffID
	})

	summary := schema.ReconSummary{
		RunID:            runID,
		Timestamp:        e.clock().UnixNano(),
		SessionID:        sessionID,
		TotalDiffs:       len(sorted),
		CountsBySeverity: make(map[string]int),
		CountsByType:     make(map[string]int),
	}
	for _, diff := range sorted {
		summary.CountsBySeverity[diff.Severity.String()]++
		summary.CountsByType[diff.Type.String()]++
		if diff.Severity > summary.MaxSeverity {
			summary.MaxSeverity = diff.Severity
		}
		switch diff.Severity {
		case schema.SeverityFail:
			summary.HasFail = true
		case schema.SeverityCritical:
			summary.HasCritical = true
		}
	}
	if topN <= 0 || topN > len(sorted) {
		topN = len(sorted)
	}
	summary.TopDiffs = sorted[:topN]
	return summary
}

package schema

// ReconDiff is one detected divergence between ledger state and an
// external snapshot. Expected/Actual/Delta are decimal strings rendered at
// the field's configured scale so exports stay readable without the
// registry at hand.
type ReconDiff struct {
	DiffID    string   `json:"diffId"`
	Type      DiffType `json:"type"`
	Severity  Severity `json:"severity"`
	Key       string   `json:"key"`
	Expected  string   `json:"expected"`
	Actual    string   `json:"actual"`
	Delta     string   `json:"delta"`
	Timestamp int64    `json:"timestamp"`
}

// ReconSummary aggregates one reconciliation run.
// HasFail/HasCritical/MaxSeverity are derived from the diff set.
type ReconSummary struct {
	RunID            string         `json:"runId"`
	Timestamp        int64          `json:"timestamp"`
	SessionID        string         `json:"sessionId,omitempty"`
	TotalDiffs       int            `json:"totalDiffs"`
	CountsBySeverity map[string]int `json:"countsBySeverity"`
	CountsByType     map[string]int `json:"countsByType"`
	TopDiffs         []ReconDiff    `json:"topDiffs"`
	HasFail          bool           `json:"hasFail"`
	HasCritical      bool           `json:"hasCritical"`
	MaxSeverity      Severity       `json:"maxSeverity"`
}

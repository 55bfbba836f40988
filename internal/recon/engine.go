package recon

import (
	"sort"
	"time"

	"execution-core/internal/ledger"
	"execution-core/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Thresholds classify relative drift, in basis points of the expected
// value. Drift at or above FailBps is FAIL, at or above WarnBps is WARN,
// anything else nonzero is INFO.
type Thresholds struct {
	WarnBps int64 `json:"warnBps"`
	FailBps int64 `json:"failBps"`
}

// DefaultThresholds returns the operator defaults: 1% WARN, 5% FAIL.
func DefaultThresholds() Thresholds {
	return Thresholds{WarnBps: 100, FailBps: 500}
}

// Engine diffs ledger snapshots against external venue snapshots. It
// never mutates the ledgers: inputs are point-in-time copies.
type Engine struct {
	registry   *schema.Registry
	thresholds Thresholds
	clock      func() time.Time
}

// NewEngine creates a reconciliation engine. Invalid thresholds fall back
// to the defaults.
func NewEngine(registry *schema.Registry, thresholds Thresholds) *Engine {
	if thresholds.WarnBps <= 0 || thresholds.FailBps <= thresholds.WarnBps {
		thresholds = DefaultThresholds()
	}
	return &Engine{
		registry:   registry,
		thresholds: thresholds,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock swaps the timestamp source. Intended for tests and for
// reproducing a run.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	if clock != nil {
		e.clock = clock
	}
	return e
}

// Reconcile computes position diffs over the union of internal and
// external symbols plus a single cash diff. Identical input and clock
// produce identical output: symbols are walked in id order and every diff
// in a run shares one timestamp.
func (e *Engine) Reconcile(internal ledger.Snapshot, external ExternalSnapshot) ([]schema.ReconDiff, error) {
	resolved, err := resolve(e.registry, external)
	if err != nil {
		return nil, err
	}
	now := e.clock().UnixNano()

	internalPos := make(map[schema.SymbolID]schema.Quantity, len(internal.Positions))
	for _, entry := range internal.Positions {
		internalPos[entry.SymbolID] = entry.Qty
	}
	union := make(map[schema.SymbolID]struct{}, len(internalPos)+len(resolved.positions))
	for id := range internalPos {
		union[id] = struct{}{}
	}
	for id := range resolved.positions {
		union[id] = struct{}{}
	}
	ids := make([]schema.SymbolID, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var diffs []schema.ReconDiff
	for _, id := range ids {
		expected := int64(internalPos[id])
		actual := int64(resolved.positions[id])
		delta := expected - actual
		if delta == 0 {
			continue
		}
		name := symbolName(e.registry, id)
		scale := e.registry.SymbolScale(id).QuantityScale
		diffs = append(diffs, schema.ReconDiff{
			DiffID:    "POS-" + name,
			Type:      schema.DiffTypePosition,
			Severity:  e.classify(delta, expected),
			Key:       name,
			Expected:  schema.FormatScaled(expected, scale),
			Actual:    schema.FormatScaled(actual, scale),
			Delta:     schema.FormatScaled(delta, scale),
			Timestamp: now,
		})
	}

	cashScale := schema.DefaultScaleSpec().NotionalScale
	expectedCash := int64(internal.Cash)
	actualCash := int64(resolved.cash)
	if delta := expectedCash - actualCash; delta != 0 {
		diffs = append(diffs, schema.ReconDiff{
			DiffID:    "CASH",
			Type:      schema.DiffTypeCash,
			Severity:  e.classify(delta, expectedCash),
			Key:       "cash",
			Expected:  schema.FormatScaled(expectedCash, cashScale),
			Actual:    schema.FormatScaled(actualCash, cashScale),
			Delta:     schema.FormatScaled(delta, cashScale),
			Timestamp: now,
		})
	}
	return diffs, nil
}

// classify maps relative drift to severity. A zero expected value with a
// nonzero delta counts as full drift.
func (e *Engine) classify(delta, expected int64) schema.Severity {
	if delta < 0 {
		delta = -delta
	}
	if expected < 0 {
		expected = -expected
	}
	switch {
	case atLeastBps(delta, expected, e.thresholds.FailBps):
		return schema.SeverityFail
	case atLeastBps(delta, expected, e.thresholds.WarnBps):
		return schema.SeverityWarn
	default:
		return schema.SeverityInfo
	}
}

// atLeastBps reports whether delta/expected >= bps/10000 without floating
// point, guarding the cross-multiplication against overflow.
func atLeastBps(delta, expected, bps int64) bool {
	if delta <= 0 || bps <= 0 {
		return false
	}
	if expected <= 0 {
		return true
	}
	if delta > maxInt64/10_000 {
		return true
	}
	lhs := delta * 10_000
	if expected > maxInt64/bps {
		return false
	}
	return lhs >= expected*bps
}

func symbolName(registry *schema.Registry, id schema.SymbolID) string {
	if sym, ok := registry.Symbol(id); ok {
		return sym.Name
	}
	return "UNKNOWN"
}

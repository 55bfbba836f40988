package recon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/audit"
	"execution-core/internal/ledger"
)

type stubFetcher struct {
	snap ExternalSnapshot
}

func (s stubFetcher) Fetch(context.Context) (ExternalSnapshot, error) {
	return s.snap, nil
}

func TestSchedulerRunOnceEmitsSummaryAndDiffs(t *testing.T) {
	reg := newReconRegistry(t)
	engine := NewEngine(reg, DefaultThresholds()).WithClock(fixedClock())
	log := audit.NewLog()

	internal := ledger.Snapshot{
		Cash:      10_000_000_000,
		Positions: []ledger.PositionEntry{{SymbolID: 1, Qty: 100_000_000}},
	}
	fetcher := stubFetcher{snap: ExternalSnapshot{
		Cash:      mustDecimal(t, "10000"),
		Positions: []ExternalPosition{{Symbol: "BTC-USD", Qty: mustDecimal(t, "0.95")}},
	}}

	scheduler := NewScheduler(
		SchedulerConfig{TopN: 5, SessionID: "sess-1"},
		engine, log, fetcher,
		func() ledger.Snapshot { return internal },
	)

	summary, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalDiffs)
	assert.True(t, summary.HasFail)
	assert.Equal(t, "sess-1", summary.SessionID)

	require.Len(t, log.ByKind(audit.KindReconSummary), 1)
	require.Len(t, log.ByKind(audit.KindReconDiff), 1)
	// Summary and diffs share the run id as correlation.
	assert.Len(t, log.ByCorrelation(summary.RunID), 2)
}

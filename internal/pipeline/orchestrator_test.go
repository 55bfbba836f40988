package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/audit"
	"execution-core/internal/ledger"
	"execution-core/internal/obs"
	"execution-core/internal/risk"
	"execution-core/internal/schema"
	"execution-core/internal/venue"
)

type fixture struct {
	registry  *schema.Registry
	orders    *ledger.OrderLedger
	positions *ledger.PositionLedger
	log       *audit.Log
	paper     *venue.Paper
	venues    *venue.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := schema.NewRegistry()
	venueID, err := registry.AddVenue("PAPER")
	require.NoError(t, err)
	_, err = registry.AddSymbol("BTC-USD", venueID, schema.DefaultScaleSpec())
	require.NoError(t, err)

	paper := venue.NewPaper(registry)
	venues := venue.NewRegistry()
	venues.Register(schema.ExecutionModePaper, paper)

	return &fixture{
		registry:  registry,
		orders:    ledger.NewOrderLedger(),
		positions: ledger.NewPositionLedger(registry, 100_000_000_000),
		log:       audit.NewLog(),
		paper:     paper,
		venues:    venues,
	}
}

func (f *fixture) orchestrator(t *testing.T, cfg Config, hook risk.Hook) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, Deps{
		Registry:  f.registry,
		Orders:    f.orders,
		Positions: f.positions,
		Audit:     f.log,
		Risk:      hook,
		Venues:    f.venues,
		Metrics:   obs.NewMetrics(),
	})
	require.NoError(t, err)
	return o
}

func testIntent(nonce uint64) schema.OrderIntent {
	return schema.OrderIntent{
		SymbolID:    1,
		StrategyID:  7,
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC,
		Price:       50_000_000_000,
		Qty:         10_000_000,
		Nonce:       nonce,
	}
}

type blockHook struct{ action risk.Action }

func (h blockHook) Evaluate(context.Context, schema.OrderIntent) risk.Decision {
	return risk.Decision{Action: h.action, Reason: "test policy"}
}

// slowAdapter blocks until the per-attempt context expires.
type slowAdapter struct{}

func (slowAdapter) Submit(ctx context.Context, _ schema.Order, _ string) (schema.ExecutionEvent, error) {
	<-ctx.Done()
	return schema.ExecutionEvent{}, ctx.Err()
}

func (slowAdapter) Cancel(context.Context, schema.Order) (schema.ExecutionEvent, error) {
	return schema.ExecutionEvent{Kind: schema.EventKindCancelAck}, nil
}

func stageKinds(entries []audit.Entry) []audit.Kind {
	kinds := make([]audit.Kind, 0, len(entries))
	for _, entry := range entries {
		kinds = append(kinds, entry.Kind)
	}
	return kinds
}

func TestPipelineFillPath(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	result := o.SubmitIntent(context.Background(), testIntent(1))
	require.True(t, result.Success, "result: %+v", result)
	assert.Equal(t, schema.OrderStateFilled, result.Order.State)
	assert.Equal(t, schema.Quantity(10_000_000), result.Order.FilledQty)
	require.NotNil(t, result.Snapshot)

	// 0.1 BTC at 50000 moved 5000 cash into position.
	assert.Equal(t, schema.Notional(95_000_000_000), f.positions.Cash())
	assert.Equal(t, schema.Quantity(10_000_000), f.positions.Position(1))

	// Exactly one audit entry per traversed stage, in pipeline order.
	entries := f.log.ByCorrelation(result.CorrelationID)
	assert.Equal(t, []audit.Kind{
		audit.KindStageIntake,
		audit.KindStageValidate,
		audit.KindStageRisk,
		audit.KindStageRoute,
		audit.KindStageDispatch,
		audit.KindStageEvent,
		audit.KindStagePostTrade,
		audit.KindStageHandoff,
	}, stageKinds(entries))
}

func TestPipelineIdempotentResubmission(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	first := o.SubmitIntent(context.Background(), testIntent(1))
	require.True(t, first.Success)
	second := o.SubmitIntent(context.Background(), testIntent(1))

	// Same result, no second venue submit, no double position.
	assert.Equal(t, first.Order.ClientOrderID, second.Order.ClientOrderID)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.Equal(t, 1, f.paper.SubmitCount())
	assert.Equal(t, schema.Quantity(10_000_000), f.positions.Position(1))

	// The duplicate leaves an INTENT_DUPLICATE marker, not a second trail.
	dupes := f.log.ByKind(audit.KindIntentDuplicate)
	require.Len(t, dupes, 1)

	// A different nonce is a distinct decision and executes again.
	third := o.SubmitIntent(context.Background(), testIntent(2))
	require.True(t, third.Success)
	assert.Equal(t, 2, f.paper.SubmitCount())
}

func TestPipelineConcurrentDuplicatesCoalesce(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	const workers = 8
	results := make([]Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.SubmitIntent(context.Background(), testIntent(1))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.paper.SubmitCount())
	for _, result := range results {
		assert.Equal(t, results[0].Order.ClientOrderID, result.Order.ClientOrderID)
		assert.True(t, result.Success)
	}
	assert.Equal(t, schema.Quantity(10_000_000), f.positions.Position(1))
}

func TestPipelineContractValidationBeforeRisk(t *testing.T) {
	f := newFixture(t)
	// A hook that would block; it must never be consulted for an invalid
	// contract.
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, blockHook{action: risk.ActionBlock})

	intent := testIntent(1)
	intent.Qty = 0
	result := o.SubmitIntent(context.Background(), intent)

	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonContractInvalidQuantity, result.Reason)
	assert.Equal(t, schema.OrderStateFailed, result.Order.State)

	entries := f.log.ByCorrelation(result.CorrelationID)
	assert.Equal(t, []audit.Kind{audit.KindStageIntake, audit.KindStageValidate}, stageKinds(entries))
}

func TestPipelineLimitOrderRequiresPrice(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	intent := testIntent(1)
	intent.Price = 0
	result := o.SubmitIntent(context.Background(), intent)

	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonContractInvalidPrice, result.Reason)
}

func TestPipelineRiskBlockStopsBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, blockHook{action: risk.ActionBlock})

	result := o.SubmitIntent(context.Background(), testIntent(1))

	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonPolicyRiskBlocked, result.Reason)
	assert.Equal(t, 0, f.paper.SubmitCount())
	assert.Empty(t, f.log.ByKind(audit.KindStageDispatch))
	assert.Empty(t, f.log.ByKind(audit.KindStageRoute))
}

func TestPipelineRiskPauseReason(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, blockHook{action: risk.ActionPause})

	result := o.SubmitIntent(context.Background(), testIntent(1))
	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonPolicyRiskPaused, result.Reason)
}

func TestPipelineDefaultModeDeniesDispatch(t *testing.T) {
	f := newFixture(t)
	// Zero-value mode: nothing configured means LIVE_BLOCKED.
	o := f.orchestrator(t, Config{}, risk.AllowAll{})

	result := o.SubmitIntent(context.Background(), testIntent(1))

	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonPolicyLiveNotEnabled, result.Reason)
	assert.Equal(t, 0, f.paper.SubmitCount())
	assert.Empty(t, f.log.ByKind(audit.KindStageDispatch))

	entries := f.log.ByCorrelation(result.CorrelationID)
	assert.Equal(t, []audit.Kind{
		audit.KindStageIntake,
		audit.KindStageValidate,
		audit.KindStageRisk,
		audit.KindStageRoute,
	}, stageKinds(entries))
}

func TestPipelineNoAdapterForMode(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModeShadow}, risk.AllowAll{})

	result := o.SubmitIntent(context.Background(), testIntent(1))
	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonRouteNoAdapter, result.Reason)
}

func TestPipelineDispatchTimeoutRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	f.venues.Register(schema.ExecutionModeTestnet, slowAdapter{})
	o := f.orchestrator(t, Config{
		Mode:            schema.ExecutionModeTestnet,
		DispatchTimeout: 10 * time.Millisecond,
		DispatchRetries: 2,
		RetryBackoff:    time.Millisecond,
	}, risk.AllowAll{})

	result := o.SubmitIntent(context.Background(), testIntent(1))

	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonAdapterTimeout, result.Reason)
	assert.Equal(t, schema.OrderStateFailed, result.Order.State)

	dispatches := f.log.ByKind(audit.KindStageDispatch)
	require.Len(t, dispatches, 1)
	assert.Contains(t, string(dispatches[0].Payload), `"attempts":3`)
}

func TestPipelinePartialFill(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	key := IdempotencyKey(testIntent(1))
	f.paper.ScriptPartial(ClientOrderID(key), 4_000_000)

	result := o.SubmitIntent(context.Background(), testIntent(1))
	require.True(t, result.Success)
	assert.Equal(t, schema.OrderStatePartiallyFilled, result.Order.State)
	assert.Equal(t, schema.Quantity(4_000_000), result.Order.FilledQty)
	assert.Equal(t, schema.Quantity(4_000_000), f.positions.Position(1))
}

func TestPipelineFillRejectedByPositionLedger(t *testing.T) {
	f := newFixture(t)
	// 1.00 cash cannot cover a 5000 notional buy.
	f.positions = ledger.NewPositionLedger(f.registry, 1_000_000)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	result := o.SubmitIntent(context.Background(), testIntent(1))

	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonLedgerInvariant, result.Reason)
	assert.Equal(t, schema.OrderStateFailed, result.Order.State)
	assert.Equal(t, schema.Quantity(0), result.Order.FilledQty)

	// Neither ledger moved, and the order never reads as filled.
	assert.Equal(t, schema.Notional(1_000_000), f.positions.Cash())
	assert.Equal(t, schema.Quantity(0), f.positions.Position(1))
	assert.Empty(t, f.orders.ByState(schema.OrderStateFilled))

	stored, ok := f.orders.Get(result.Order.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, schema.OrderStateFailed, stored.State)
	assert.Equal(t, schema.ReasonLedgerInvariant, stored.Reason)

	// The trail truncates at the event stage.
	entries := f.log.ByCorrelation(result.CorrelationID)
	assert.Equal(t, []audit.Kind{
		audit.KindStageIntake,
		audit.KindStageValidate,
		audit.KindStageRisk,
		audit.KindStageRoute,
		audit.KindStageDispatch,
		audit.KindStageEvent,
	}, stageKinds(entries))
}

func TestPipelineDispatchCancelledByCaller(t *testing.T) {
	f := newFixture(t)
	f.venues.Register(schema.ExecutionModeTestnet, slowAdapter{})
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModeTestnet}, risk.AllowAll{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := o.SubmitIntent(ctx, testIntent(1))

	require.False(t, result.Success)
	assert.Equal(t, schema.ReasonDispatchCancelled, result.Reason)
	assert.Equal(t, schema.OrderStateFailed, result.Order.State)
}

func TestPipelineDuplicateResolvesPartialFillAsSuccess(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	// Seed the order ledger as a previous process lifetime would have
	// left it: dispatched and partially filled.
	intent := testIntent(1)
	key := IdempotencyKey(intent)
	id := ClientOrderID(key)
	_, err := f.orders.Create(schema.Order{
		ClientOrderID:  id,
		IdempotencyKey: key,
		CorrelationID:  "corr-prev",
		SymbolID:       intent.SymbolID,
		Side:           intent.Side,
		Type:           intent.Type,
		Price:          intent.Price,
		Qty:            intent.Qty,
	})
	require.NoError(t, err)
	for _, state := range []schema.OrderState{
		schema.OrderStateValidated,
		schema.OrderStateRiskApproved,
		schema.OrderStateRouted,
		schema.OrderStateDispatched,
	} {
		_, err = f.orders.Transition(id, state, schema.ReasonNone, "")
		require.NoError(t, err)
	}
	_, err = f.orders.ApplyFill(id, schema.Fill{
		FillID:   "prev-fill",
		OrderID:  id,
		SymbolID: intent.SymbolID,
		Side:     intent.Side,
		Qty:      4_000_000,
		Price:    intent.Price,
	})
	require.NoError(t, err)

	result := o.SubmitIntent(context.Background(), intent)

	// A partially filled order resolved by key is a success, not a
	// failure, and nothing dispatches again.
	require.True(t, result.Success, "result: %+v", result)
	assert.Equal(t, schema.OrderStatePartiallyFilled, result.Order.State)
	assert.Equal(t, schema.Quantity(4_000_000), result.Order.FilledQty)
	assert.Equal(t, "corr-prev", result.CorrelationID)
	assert.Equal(t, 0, f.paper.SubmitCount())
}

func TestPipelineCancelBeforeDispatchIsLocal(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	intent := testIntent(1)
	order, err := f.orders.Create(schema.Order{
		ClientOrderID:  ClientOrderID(IdempotencyKey(intent)),
		IdempotencyKey: IdempotencyKey(intent),
		CorrelationID:  "corr-local",
		SymbolID:       intent.SymbolID,
		Side:           intent.Side,
		Type:           intent.Type,
		Price:          intent.Price,
		Qty:            intent.Qty,
	})
	require.NoError(t, err)

	cancelled, err := o.Cancel(context.Background(), order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStateCancelled, cancelled.State)
	require.Len(t, f.log.ByKind(audit.KindOrderCancel), 1)
}

func TestPipelineCancelAfterTerminal(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{Mode: schema.ExecutionModePaper}, risk.AllowAll{})

	result := o.SubmitIntent(context.Background(), testIntent(1))
	require.True(t, result.Success)
	require.Equal(t, schema.OrderStateFilled, result.Order.State)

	_, err := o.Cancel(context.Background(), result.Order.ClientOrderID)
	assert.Error(t, err)
}

func TestIdempotencyKeyDeterminism(t *testing.T) {
	a := IdempotencyKey(testIntent(1))
	b := IdempotencyKey(testIntent(1))
	c := IdempotencyKey(testIntent(2))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	assert.Equal(t, "ord-"+a[:16], ClientOrderID(a))
}

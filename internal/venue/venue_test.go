package venue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/schema"
	"execution-core/pkg/exception"
)

func venueRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("PAPER")
	require.NoError(t, err)
	_, err = reg.AddSymbol("BTC-USD", venueID, schema.DefaultScaleSpec())
	require.NoError(t, err)
	return reg
}

func venueOrder(id string) schema.Order {
	return schema.Order{
		ClientOrderID: id,
		SymbolID:      1,
		Side:          schema.OrderSideBuy,
		Type:          schema.OrderTypeLimit,
		Price:         50_000_000_000,
		Qty:           10_000_000,
	}
}

func TestPaperLimitFill(t *testing.T) {
	paper := NewPaper(venueRegistry(t))

	event, err := paper.Submit(context.Background(), venueOrder("ord-1"), "key-1")
	require.NoError(t, err)
	require.Equal(t, schema.EventKindFill, event.Kind)
	require.Len(t, event.Fills, 1)
	assert.Equal(t, schema.Quantity(10_000_000), event.Fills[0].Qty)
	assert.Equal(t, schema.Price(50_000_000_000), event.Fills[0].Price)
	assert.Equal(t, schema.Fee(0), event.Fills[0].Fee)
}

func TestPaperIdempotentReplay(t *testing.T) {
	paper := NewPaper(venueRegistry(t))

	first, err := paper.Submit(context.Background(), venueOrder("ord-1"), "key-1")
	require.NoError(t, err)
	second, err := paper.Submit(context.Background(), venueOrder("ord-1"), "key-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, paper.SubmitCount())
}

func TestPaperMarketOrderNeedsMarkPrice(t *testing.T) {
	paper := NewPaper(venueRegistry(t))
	order := venueOrder("ord-1")
	order.Type = schema.OrderTypeMarket
	order.Price = 0

	event, err := paper.Submit(context.Background(), order, "key-1")
	require.NoError(t, err)
	assert.Equal(t, schema.EventKindReject, event.Kind)

	paper.SetMarkPrice(1, 51_000_000_000)
	event, err = paper.Submit(context.Background(), order, "key-2")
	require.NoError(t, err)
	require.Equal(t, schema.EventKindFill, event.Kind)
	assert.Equal(t, schema.Price(51_000_000_000), event.Fills[0].Price)
}

func TestPaperFee(t *testing.T) {
	paper := NewPaper(venueRegistry(t))
	// 10 bps on a 5000 notional is a 5.00 fee.
	paper.SetFeeBps(10)

	event, err := paper.Submit(context.Background(), venueOrder("ord-1"), "key-1")
	require.NoError(t, err)
	require.Equal(t, schema.EventKindFill, event.Kind)
	assert.Equal(t, schema.Fee(5_000_000), event.Fills[0].Fee)
}

func TestPaperScriptedPartial(t *testing.T) {
	paper := NewPaper(venueRegistry(t))
	paper.ScriptPartial("ord-1", 4_000_000)

	event, err := paper.Submit(context.Background(), venueOrder("ord-1"), "key-1")
	require.NoError(t, err)
	require.Equal(t, schema.EventKindFill, event.Kind)
	assert.Equal(t, schema.Quantity(4_000_000), event.Fills[0].Qty)

	// The script is consumed: the next submit fills the remainder fully.
	order := venueOrder("ord-1")
	order.FilledQty = 4_000_000
	event, err = paper.Submit(context.Background(), order, "key-2")
	require.NoError(t, err)
	assert.Equal(t, schema.Quantity(6_000_000), event.Fills[0].Qty)
}

func TestShadowAcksWithoutExecuting(t *testing.T) {
	shadow := NewShadow()

	event, err := shadow.Submit(context.Background(), venueOrder("ord-1"), "key-1")
	require.NoError(t, err)
	assert.Equal(t, schema.EventKindAck, event.Kind)
	assert.Empty(t, event.Fills)
	assert.Len(t, shadow.Recorded(), 1)
}

func TestChaosDeterministicBySeed(t *testing.T) {
	reg := venueRegistry(t)
	cfg := ChaosConfig{Seed: 42, TimeoutRate: 0.3, RejectRate: 0.3}

	run := func() []schema.EventKind {
		chaos, err := NewChaos(NewPaper(reg), cfg)
		require.NoError(t, err)
		kinds := make([]schema.EventKind, 0, 20)
		for i := 0; i < 20; i++ {
			event, err := chaos.Submit(context.Background(), venueOrder("ord-1"), "key")
			require.NoError(t, err)
			kinds = append(kinds, event.Kind)
		}
		return kinds
	}

	assert.Equal(t, run(), run())
}

func TestChaosFaultRates(t *testing.T) {
	reg := venueRegistry(t)
	chaos, err := NewChaos(NewPaper(reg), ChaosConfig{Seed: 7, TimeoutRate: 1})
	require.NoError(t, err)

	event, err := chaos.Submit(context.Background(), venueOrder("ord-1"), "key")
	require.NoError(t, err)
	assert.Equal(t, schema.EventKindTimeout, event.Kind)

	chaos, err = NewChaos(NewPaper(reg), ChaosConfig{Seed: 7, RejectRate: 1})
	require.NoError(t, err)
	event, err = chaos.Submit(context.Background(), venueOrder("ord-1"), "key")
	require.NoError(t, err)
	assert.Equal(t, schema.EventKindReject, event.Kind)
}

func TestChaosConfigValidation(t *testing.T) {
	_, err := NewChaos(NewPaper(venueRegistry(t)), ChaosConfig{TimeoutRate: 1.5})
	assert.Error(t, err)
	_, err = NewChaos(nil, ChaosConfig{})
	assert.Error(t, err)
	_, err = NewChaos(NewPaper(venueRegistry(t)), ChaosConfig{MaxDelay: -time.Second})
	assert.Error(t, err)
}

func TestRegistryRouting(t *testing.T) {
	reg := NewRegistry()
	paper := NewPaper(venueRegistry(t))
	reg.Register(schema.ExecutionModePaper, paper)

	adapter, err := reg.Route(schema.ExecutionModePaper)
	require.NoError(t, err)
	assert.NotNil(t, adapter)

	_, err = reg.Route(schema.ExecutionModeLiveBlocked)
	assert.ErrorIs(t, err, exception.ErrLiveNotEnabled)

	_, err = reg.Route(schema.ExecutionModeShadow)
	assert.ErrorIs(t, err, exception.ErrNoAdapterForMode)

	// LiveBlocked can never be given an adapter.
	reg.Register(schema.ExecutionModeLiveBlocked, paper)
	_, err = reg.Route(schema.ExecutionModeLiveBlocked)
	assert.ErrorIs(t, err, exception.ErrLiveNotEnabled)
}

package risk

import (
	"context"
	"testing"
	"time"

	"execution-core/internal/schema"
)

type fixedPositions map[schema.SymbolID]schema.Quantity

func (f fixedPositions) Position(id schema.SymbolID) schema.Quantity { return f[id] }

func riskRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("PAPER")
	if err != nil {
		t.Fatalf("AddVenue: %v", err)
	}
	if _, err := reg.AddSymbol("BTC-USD", venueID, schema.DefaultScaleSpec()); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	return reg
}

func riskIntent(qty schema.Quantity, price schema.Price) schema.OrderIntent {
	return schema.OrderIntent{
		SymbolID: 1,
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeLimit,
		Price:    price,
		Qty:      qty,
	}
}

func TestEngineSwitches(t *testing.T) {
	reg := riskRegistry(t)

	kill := NewEngine(Config{KillSwitch: true}, reg, nil)
	if d := kill.Evaluate(context.Background(), riskIntent(1, 1)); d.Action != ActionBlock {
		t.Fatalf("kill switch: action = %s", d.Action)
	}

	pause := NewEngine(Config{PauseSwitch: true}, reg, nil)
	if d := pause.Evaluate(context.Background(), riskIntent(1, 1)); d.Action != ActionPause {
		t.Fatalf("pause switch: action = %s", d.Action)
	}
}

func TestEngineQuantityAndNotionalLimits(t *testing.T) {
	reg := riskRegistry(t)
	// Caps: 1 BTC per order, 10000 notional per order.
	engine := NewEngine(Config{
		MaxOrderQty:      100_000_000,
		MaxOrderNotional: 10_000_000_000,
	}, reg, nil)

	if d := engine.Evaluate(context.Background(), riskIntent(100_000_001, 1)); d.Action != ActionBlock {
		t.Fatalf("qty above limit: action = %s", d.Action)
	}
	// 0.5 BTC at 50000 is 25000 notional, above the cap.
	if d := engine.Evaluate(context.Background(), riskIntent(50_000_000, 50_000_000_000)); d.Action != ActionBlock {
		t.Fatalf("notional above limit: action = %s", d.Action)
	}
	// 0.1 BTC at 50000 is 5000 notional, inside both caps.
	if d := engine.Evaluate(context.Background(), riskIntent(10_000_000, 50_000_000_000)); d.Action != ActionAllow {
		t.Fatalf("inside limits: action = %s reason = %s", d.Action, d.Reason)
	}
}

func TestEnginePositionLimit(t *testing.T) {
	reg := riskRegistry(t)
	held := fixedPositions{1: 90_000_000}
	engine := NewEngine(Config{MaxPosition: 100_000_000}, reg, held)

	// 0.2 more BTC would breach the 1 BTC cap.
	if d := engine.Evaluate(context.Background(), riskIntent(20_000_000, 1)); d.Action != ActionBlock {
		t.Fatalf("position breach: action = %s", d.Action)
	}
	if d := engine.Evaluate(context.Background(), riskIntent(10_000_000, 1)); d.Action != ActionAllow {
		t.Fatalf("position at cap: action = %s", d.Action)
	}
}

func TestEngineOrderRateLimit(t *testing.T) {
	reg := riskRegistry(t)
	engine := NewEngine(Config{
		OrderRateLimit:  2,
		OrderRateWindow: time.Minute,
	}, reg, nil)

	for i := 0; i < 2; i++ {
		if d := engine.Evaluate(context.Background(), riskIntent(1, 1)); d.Action != ActionAllow {
			t.Fatalf("order %d blocked: %s", i, d.Reason)
		}
	}
	if d := engine.Evaluate(context.Background(), riskIntent(1, 1)); d.Action != ActionBlock {
		t.Fatalf("third order in window: action = %s", d.Action)
	}
}

func TestEngineZeroConfigAllows(t *testing.T) {
	reg := riskRegistry(t)
	engine := NewEngine(Config{}, reg, nil)
	if d := engine.Evaluate(context.Background(), riskIntent(1, 1)); d.Action != ActionAllow {
		t.Fatalf("zero config: action = %s", d.Action)
	}
}

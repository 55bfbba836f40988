package risk

import (
	"context"
	"sync"
	"time"

	"execution-core/internal/schema"
)

// Config defines simple risk limits. Zero values disable the matching
// check, except the switches which act when set.
type Config struct {
	KillSwitch       bool            `json:"killSwitch"`
	PauseSwitch      bool            `json:"pauseSwitch"`
	MaxOrderQty      schema.Quantity `json:"maxOrderQty"`
	MaxOrderNotional schema.Notional `json:"maxOrderNotional"`
	MaxPosition      schema.Quantity `json:"maxPosition"`
	OrderRateLimit   int             `json:"orderRateLimit"`
	OrderRateWindow  time.Duration   `json:"orderRateWindow"`
}

// Engine is the reference Hook implementation: static limits plus a
// sliding order-rate window.
type Engine struct {
	cfg       Config
	registry  *schema.Registry
	positions PositionView

	mu              sync.Mutex
	rateWindowStart int64
	rateCount       int
}

var _ Hook = (*Engine)(nil)

// NewEngine creates a risk engine with static limits. The position view
// may be nil, which disables the position-limit check.
func NewEngine(cfg Config, registry *schema.Registry, positions PositionView) *Engine {
	return &Engine{cfg: cfg, registry: registry, positions: positions}
}

// Evaluate applies the configured checks to an order intent.
func (e *Engine) Evaluate(_ context.Context, intent schema.OrderIntent) Decision {
	if e.cfg.KillSwitch {
		return Decision{Action: ActionBlock, Reason: "kill switch engaged"}
	}
	if e.cfg.PauseSwitch {
		return Decision{Action: ActionPause, Reason: "trading paused"}
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		if !e.allowRate(time.Now().UTC().UnixNano()) {
			return Decision{Action: ActionBlock, Reason: "order rate limit exceeded"}
		}
	}

	if e.cfg.MaxOrderQty > 0 && intent.Qty > e.cfg.MaxOrderQty {
		return Decision{Action: ActionBlock, Reason: "order quantity above limit"}
	}

	if e.cfg.MaxOrderNotional > 0 && intent.Price > 0 {
		spec := e.registry.SymbolScale(intent.SymbolID)
		notional, ok := schema.MulScaled(intent.Price, intent.Qty, spec)
		if !ok || notional > e.cfg.MaxOrderNotional {
			return Decision{Action: ActionBlock, Reason: "order notional above limit"}
		}
	}

	if e.cfg.MaxPosition > 0 && e.positions != nil {
		next := applySide(e.positions.Position(intent.SymbolID), intent.Side, intent.Qty)
		if absQuantity(next) > e.cfg.MaxPosition {
			return Decision{Action: ActionBlock, Reason: "position limit exceeded"}
		}
	}

	return Decision{Action: ActionAllow}
}

func (e *Engine) allowRate(now int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := int64(e.cfg.OrderRateWindow)
	if e.rateWindowStart == 0 || now-e.rateWindowStart >= window {
		e.rateWindowStart = now
		e.rateCount = 0
	}
	e.rateCount++
	return e.rateCount <= e.cfg.OrderRateLimit
}

func applySide(pos schema.Quantity, side schema.OrderSide, qty schema.Quantity) schema.Quantity {
	switch side {
	case schema.OrderSideBuy:
		return schema.Quantity(int64(pos) + int64(qty))
	case schema.OrderSideSell:
		return schema.Quantity(int64(pos) - int64(qty))
	default:
		return pos
	}
}

func absQuantity(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}

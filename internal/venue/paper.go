package venue

import (
	"context"
	"fmt"
	"sync"

	"execution-core/internal/schema"
)

// Paper is a deterministic in-process venue. Limit orders fill at their
// limit price, market orders at the last set mark price. Replaying an
// idempotency key returns the recorded event without executing again.
type Paper struct {
	registry *schema.Registry

	mu         sync.Mutex
	markPrices map[schema.SymbolID]schema.Price
	feeBps     int64
	byKey      map[string]schema.ExecutionEvent
	partials   map[string]schema.Quantity
	seq        uint64
	submits    int
}

var _ Adapter = (*Paper)(nil)

// NewPaper creates a paper venue against the symbol registry.
func NewPaper(registry *schema.Registry) *Paper {
	return &Paper{
		registry:   registry,
		markPrices: make(map[schema.SymbolID]schema.Price),
		byKey:      make(map[string]schema.ExecutionEvent),
		partials:   make(map[string]schema.Quantity),
	}
}

// SetMarkPrice sets the price used to fill market orders.
func (p *Paper) SetMarkPrice(symbolID schema.SymbolID, price schema.Price) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markPrices[symbolID] = price
}

// SetFeeBps sets the taker fee in basis points of notional.
func (p *Paper) SetFeeBps(bps int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeBps = bps
}

// ScriptPartial makes the next submit for the client order fill only the
// given quantity instead of the full requested amount.
func (p *Paper) ScriptPartial(clientOrderID string, qty schema.Quantity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partials[clientOrderID] = qty
}

// SubmitCount reports how many submits actually executed, excluding
// idempotent replays.
func (p *Paper) SubmitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

// Submit executes the order against the simulated book.
func (p *Paper) Submit(_ context.Context, order schema.Order, idempotencyKey string) (schema.ExecutionEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event, ok := p.byKey[idempotencyKey]; ok {
		return event, nil
	}

	var execPrice schema.Price
	switch order.Type {
	case schema.OrderTypeLimit:
		execPrice = order.Price
	case schema.OrderTypeMarket:
		price, ok := p.markPrices[order.SymbolID]
		if !ok {
			event := schema.ExecutionEvent{Kind: schema.EventKindReject, Reason: "no mark price for symbol"}
			p.remember(idempotencyKey, event)
			return event, nil
		}
		execPrice = price
	default:
		event := schema.ExecutionEvent{Kind: schema.EventKindReject, Reason: "unsupported order type"}
		p.remember(idempotencyKey, event)
		return event, nil
	}

	fillQty := order.Qty - order.FilledQty
	if scripted, ok := p.partials[order.ClientOrderID]; ok {
		delete(p.partials, order.ClientOrderID)
		if scripted > 0 && scripted < fillQty {
			fillQty = scripted
		}
	}

	p.seq++
	event := schema.ExecutionEvent{
		Kind:            schema.EventKindFill,
		ExchangeOrderID: fmt.Sprintf("paper-%06d", p.seq),
		Fills: []schema.Fill{{
			FillID:   fmt.Sprintf("paper-fill-%06d", p.seq),
			OrderID:  order.ClientOrderID,
			SymbolID: order.SymbolID,
			Side:     order.Side,
			Qty:      fillQty,
			Price:    execPrice,
			Fee:      p.fee(order.SymbolID, execPrice, fillQty),
		}},
	}
	p.remember(idempotencyKey, event)
	return event, nil
}

// Cancel acknowledges the cancel. Paper fills synchronously, so by the
// time a cancel arrives there is nothing resting to pull.
func (p *Paper) Cancel(_ context.Context, order schema.Order) (schema.ExecutionEvent, error) {
	return schema.ExecutionEvent{
		Kind:            schema.EventKindCancelAck,
		ExchangeOrderID: order.ExchangeOrderID,
	}, nil
}

func (p *Paper) remember(idempotencyKey string, event schema.ExecutionEvent) {
	p.byKey[idempotencyKey] = event
	if event.Kind != schema.EventKindTimeout {
		p.submits++
	}
}

func (p *Paper) fee(symbolID schema.SymbolID, price schema.Price, qty schema.Quantity) schema.Fee {
	if p.feeBps <= 0 {
		return 0
	}
	spec := p.registry.SymbolScale(symbolID)
	notional, ok := schema.MulScaled(price, qty, spec)
	if !ok {
		return 0
	}
	fee := int64(notional) * p.feeBps / 10_000
	rescaled, ok := schema.Rescale(fee, spec.NotionalScale, spec.FeeScale)
	if !ok {
		return 0
	}
	return schema.Fee(rescaled)
}

package ledger

import (
	"sync"

	"execution-core/internal/schema"
	"execution-core/pkg/exception"
)

// PositionLedger holds the cash balance and per-symbol positions. Cash and
// quantity always move together under one mutex: every fill touches cash,
// so the critical section is the atomicity boundary, not a bottleneck to
// shard away.
type PositionLedger struct {
	mu        sync.Mutex
	registry  *schema.Registry
	cash      schema.Notional
	positions map[schema.SymbolID]schema.Quantity
	applied   map[string]struct{}
}

// NewPositionLedger creates a ledger with an initial cash balance.
func NewPositionLedger(registry *schema.Registry, initialCash schema.Notional) *PositionLedger {
	return &PositionLedger{
		registry:  registry,
		cash:      initialCash,
		positions: make(map[schema.SymbolID]schema.Quantity),
		applied:   make(map[string]struct{}),
	}
}

// ApplyFill atomically adjusts position quantity and cash. The fill is
// rejected as a whole if it would drive cash or the resulting position
// negative; nothing is mutated on rejection. Each fill id applies at most
// once.
func (l *PositionLedger) ApplyFill(fill schema.Fill) error {
	if fill.FillID == "" || fill.Qty <= 0 {
		return exception.ErrLedgerInvalidFill
	}
	if fill.Side != schema.OrderSideBuy && fill.Side != schema.OrderSideSell {
		return exception.ErrLedgerInvalidFill
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.applied[fill.FillID]; ok {
		return exception.ErrLedgerDuplicateFill
	}

	spec := l.registry.SymbolScale(fill.SymbolID)
	notional, ok := schema.MulScaled(fill.Price, fill.Qty, spec)
	if !ok {
		return exception.ErrLedgerOverflow
	}
	fee, ok := schema.Rescale(int64(fill.Fee), spec.FeeScale, spec.NotionalScale)
	if !ok {
		return exception.ErrLedgerOverflow
	}

	var newCash, newPos int64
	switch fill.Side {
	case schema.OrderSideBuy:
		spent, ok := schema.AddChecked(int64(notional), fee)
		if !ok {
			return exception.ErrLedgerOverflow
		}
		newCash, ok = schema.AddChecked(int64(l.cash), -spent)
		if !ok {
			return exception.ErrLedgerOverflow
		}
		newPos, ok = schema.AddChecked(int64(l.positions[fill.SymbolID]), int64(fill.Qty))
		if !ok {
			return exception.ErrLedgerOverflow
		}
	case schema.OrderSideSell:
		earned, ok := schema.AddChecked(int64(notional), -fee)
		if !ok {
			return exception.ErrLedgerOverflow
		}
		newCash, ok = schema.AddChecked(int64(l.cash), earned)
		if !ok {
			return exception.ErrLedgerOverflow
		}
		newPos, ok = schema.AddChecked(int64(l.positions[fill.SymbolID]), -int64(fill.Qty))
		if !ok {
			return exception.ErrLedgerOverflow
		}
	}

	if newCash < 0 {
		return exception.ErrLedgerNegativeCash
	}
	if newPos < 0 {
		return exception.ErrLedgerNegativePosition
	}

	l.cash = schema.Notional(newCash)
	l.positions[fill.SymbolID] = schema.Quantity(newPos)
	l.applied[fill.FillID] = struct{}{}
	return nil
}

// Cash returns the current cash balance.
func (l *PositionLedger) Cash() schema.Notional {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Position returns the current quantity held for a symbol.
func (l *PositionLedger) Position(symbolID schema.SymbolID) schema.Quantity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions[symbolID]
}

// Count returns the number of tracked symbols.
func (l *PositionLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

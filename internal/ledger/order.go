package ledger

import (
	"sync"
	"time"

	"execution-core/internal/schema"
	"execution-core/pkg/exception"
)

// OrderLedger is the authoritative store of orders keyed by client order
// id. Every mutation validates the requested transition against the order
// state machine; illegal transitions are rejected without touching state.
type OrderLedger struct {
	mu     sync.RWMutex
	orders map[string]*schema.Order
	clock  func() time.Time
}

// NewOrderLedger creates an empty order ledger.
func NewOrderLedger() *OrderLedger {
	return &OrderLedger{
		orders: make(map[string]*schema.Order),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock swaps the timestamp source. Intended for tests.
func (l *OrderLedger) WithClock(clock func() time.Time) *OrderLedger {
	if clock != nil {
		l.clock = clock
	}
	return l
}

// Create inserts a new order in CREATED state.
func (l *OrderLedger) Create(order schema.Order) (schema.Order, error) {
	if order.ClientOrderID == "" {
		return schema.Order{}, exception.ErrLedgerUnknownOrder
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[order.ClientOrderID]; ok {
		return schema.Order{}, exception.ErrLedgerDuplicateOrder
	}
	now := l.clock().UnixNano()
	order.State = schema.OrderStateCreated
	order.CreatedAt = now
	order.UpdatedAt = now
	stored := order
	l.orders[order.ClientOrderID] = &stored
	return order, nil
}

// Transition moves an order to the next state after validating the move
// against the state machine.
func (l *OrderLedger) Transition(id string, next schema.OrderState, reason schema.ReasonCode, detail string) (schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[id]
	if !ok {
		return schema.Order{}, exception.ErrLedgerUnknownOrder
	}
	if !canTransition(order.State, next) {
		return *order, exception.ErrLedgerInvalidTransition
	}
	order.State = next
	order.UpdatedAt = l.clock().UnixNano()
	if reason != schema.ReasonNone {
		order.Reason = reason
		order.ReasonDetail = detail
	}
	return *order, nil
}

// SetExchangeOrderID records the venue-assigned id once acknowledged.
func (l *OrderLedger) SetExchangeOrderID(id, exchangeOrderID string) (schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[id]
	if !ok {
		return schema.Order{}, exception.ErrLedgerUnknownOrder
	}
	order.ExchangeOrderID = exchangeOrderID
	order.UpdatedAt = l.clock().UnixNano()
	return *order, nil
}

// ApplyFill accumulates filled quantity and derives the resulting state
// from cumulative filled vs requested quantity.
func (l *OrderLedger) ApplyFill(id string, fill schema.Fill) (schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[id]
	if !ok {
		return schema.Order{}, exception.ErrLedgerUnknownOrder
	}
	if fill.Qty <= 0 {
		return *order, exception.ErrLedgerInvalidFill
	}
	filled, ok := schema.AddChecked(int64(order.FilledQty), int64(fill.Qty))
	if !ok || schema.Quantity(filled) > order.Qty {
		return *order, exception.ErrLedgerInvalidFill
	}
	next := schema.OrderStatePartiallyFilled
	if schema.Quantity(filled) == order.Qty {
		next = schema.OrderStateFilled
	}
	if !canTransition(order.State, next) {
		return *order, exception.ErrLedgerInvalidTransition
	}
	order.FilledQty = schema.Quantity(filled)
	order.State = next
	order.UpdatedAt = l.clock().UnixNano()
	return *order, nil
}

// Get returns a copy of the order.
func (l *OrderLedger) Get(id string) (schema.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	order, ok := l.orders[id]
	if !ok {
		return schema.Order{}, false
	}
	return *order, true
}

// ByState returns copies of all orders currently in the given state.
func (l *OrderLedger) ByState(state schema.OrderState) []schema.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []schema.Order
	for _, order := range l.orders {
		if order.State == state {
			out = append(out, *order)
		}
	}
	return out
}

// OpenOrders returns copies of all orders in a non-terminal state.
func (l *OrderLedger) OpenOrders() []schema.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []schema.Order
	for _, order := range l.orders {
		if !order.State.IsTerminal() {
			out = append(out, *order)
		}
	}
	return out
}

// Count returns the number of orders in the ledger.
func (l *OrderLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// canTransition encodes the order state machine. Terminal states allow no
// further moves. A partial fill may repeat until the order fills, cancels
// or fails.
func canTransition(from, to schema.OrderState) bool {
	switch from {
	case schema.OrderStateCreated:
		return to == schema.OrderStateValidated || to == schema.OrderStateFailed || to == schema.OrderStateCancelled
	case schema.OrderStateValidated:
		return to == schema.OrderStateRiskApproved || to == schema.OrderStateFailed || to == schema.OrderStateCancelled
	case schema.OrderStateRiskApproved:
		return to == schema.OrderStateRouted || to == schema.OrderStateFailed || to == schema.OrderStateCancelled
	case schema.OrderStateRouted:
		return to == schema.OrderStateDispatched || to == schema.OrderStateFailed || to == schema.OrderStateCancelled
	case schema.OrderStateDispatched:
		switch to {
		case schema.OrderStateAcknowledged, schema.OrderStatePartiallyFilled, schema.OrderStateFilled,
			schema.OrderStateRejected, schema.OrderStateCancelled, schema.OrderStateFailed:
			return true
		}
		return false
	case schema.OrderStateAcknowledged:
		switch to {
		case schema.OrderStatePartiallyFilled, schema.OrderStateFilled,
			schema.OrderStateRejected, schema.OrderStateCancelled, schema.OrderStateFailed:
			return true
		}
		return false
	case schema.OrderStatePartiallyFilled:
		switch to {
		case schema.OrderStatePartiallyFilled, schema.OrderStateFilled,
			schema.OrderStateCancelled, schema.OrderStateFailed:
			return true
		}
		return false
	default:
		return false
	}
}

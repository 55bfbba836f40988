package venue

import (
	"context"
	"fmt"
	"sync"

	"execution-core/internal/schema"
)

// Shadow acknowledges every order without ever filling. It records what
// would have been sent so shadow runs can be compared against live flow.
type Shadow struct {
	mu     sync.Mutex
	byKey  map[string]schema.ExecutionEvent
	orders []schema.Order
	seq    uint64
}

var _ Adapter = (*Shadow)(nil)

// NewShadow creates an ack-only adapter.
func NewShadow() *Shadow {
	return &Shadow{byKey: make(map[string]schema.ExecutionEvent)}
}

// Submit records the order and returns an acknowledgment.
func (s *Shadow) Submit(_ context.Context, order schema.Order, idempotencyKey string) (schema.ExecutionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.byKey[idempotencyKey]; ok {
		return event, nil
	}
	s.seq++
	s.orders = append(s.orders, order)
	event := schema.ExecutionEvent{
		Kind:            schema.EventKindAck,
		ExchangeOrderID: fmt.Sprintf("shadow-%06d", s.seq),
	}
	s.byKey[idempotencyKey] = event
	return event, nil
}

// Cancel acknowledges the cancel.
func (s *Shadow) Cancel(_ context.Context, order schema.Order) (schema.ExecutionEvent, error) {
	return schema.ExecutionEvent{
		Kind:            schema.EventKindCancelAck,
		ExchangeOrderID: order.ExchangeOrderID,
	}, nil
}

// Recorded returns copies of the orders seen so far.
func (s *Shadow) Recorded() []schema.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Order, len(s.orders))
	copy(out, s.orders)
	return out
}

package venue

import (
	"context"

	"execution-core/internal/schema"
	"execution-core/pkg/exception"
)

// Adapter is the venue collaborator. Submit must be idempotent on the
// supplied key: replaying a key returns the originally recorded event and
// never places a second order.
type Adapter interface {
	Submit(ctx context.Context, order schema.Order, idempotencyKey string) (schema.ExecutionEvent, error)
	Cancel(ctx context.Context, order schema.Order) (schema.ExecutionEvent, error)
}

// Registry maps execution modes to adapters. LiveBlocked is never
// routable: it is the default-deny mode and routing it fails before any
// dispatch can happen.
type Registry struct {
	adapters map[schema.ExecutionMode]Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[schema.ExecutionMode]Adapter)}
}

// Register stores an adapter for a mode. Registering LiveBlocked is a
// no-op; nothing may ever route there.
func (r *Registry) Register(mode schema.ExecutionMode, adapter Adapter) {
	if mode == schema.ExecutionModeLiveBlocked || adapter == nil {
		return
	}
	r.adapters[mode] = adapter
}

// Route resolves the adapter for a mode.
func (r *Registry) Route(mode schema.ExecutionMode) (Adapter, error) {
	if mode == schema.ExecutionModeLiveBlocked {
		return nil, exception.ErrLiveNotEnabled
	}
	adapter, ok := r.adapters[mode]
	if !ok {
		return nil, exception.ErrNoAdapterForMode
	}
	return adapter, nil
}

package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"execution-core/internal/schema"
)

// ChaosConfig controls fault injection.
type ChaosConfig struct {
	Seed        int64
	TimeoutRate float64
	RejectRate  float64
	MaxDelay    time.Duration
}

// Validate ensures the config is within supported ranges.
func (c ChaosConfig) Validate() error {
	if c.TimeoutRate < 0 || c.TimeoutRate > 1 {
		return fmt.Errorf("timeoutRate must be between 0 and 1")
	}
	if c.RejectRate < 0 || c.RejectRate > 1 {
		return fmt.Errorf("rejectRate must be between 0 and 1")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Chaos wraps an adapter with seeded fault injection: artificial timeouts,
// rejects and latency. Used as the testnet route so dispatch retry paths
// get exercised without a real flaky venue.
type Chaos struct {
	inner Adapter
	cfg   ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Adapter = (*Chaos)(nil)

// NewChaos creates a fault-injecting wrapper around an adapter.
func NewChaos(inner Adapter, cfg ChaosConfig) (*Chaos, error) {
	if inner == nil {
		return nil, fmt.Errorf("chaos inner adapter is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Chaos{
		inner: inner,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Submit rolls for a fault before delegating to the wrapped adapter.
func (c *Chaos) Submit(ctx context.Context, order schema.Order, idempotencyKey string) (schema.ExecutionEvent, error) {
	if err := c.delay(ctx); err != nil {
		return schema.ExecutionEvent{Kind: schema.EventKindTimeout}, nil
	}
	switch c.roll() {
	case faultTimeout:
		return schema.ExecutionEvent{Kind: schema.EventKindTimeout}, nil
	case faultReject:
		return schema.ExecutionEvent{Kind: schema.EventKindReject, Reason: "injected reject"}, nil
	}
	return c.inner.Submit(ctx, order, idempotencyKey)
}

// Cancel passes through without fault injection.
func (c *Chaos) Cancel(ctx context.Context, order schema.Order) (schema.ExecutionEvent, error) {
	return c.inner.Cancel(ctx, order)
}

type fault int

const (
	faultNone fault = iota
	faultTimeout
	faultReject
)

func (c *Chaos) roll() fault {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.rng.Float64()
	if c.cfg.TimeoutRate > 0 && v < c.cfg.TimeoutRate {
		return faultTimeout
	}
	if c.cfg.RejectRate > 0 && v < c.cfg.TimeoutRate+c.cfg.RejectRate {
		return faultReject
	}
	return faultNone
}

func (c *Chaos) delay(ctx context.Context) error {
	if c.cfg.MaxDelay <= 0 {
		return nil
	}
	c.mu.Lock()
	d := time.Duration(c.rng.Int63n(int64(c.cfg.MaxDelay) + 1))
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package pipeline

import (
	"time"

	"execution-core/internal/ledger"
	"execution-core/internal/schema"
)

// Config controls routing and dispatch behavior.
type Config struct {
	Mode            schema.ExecutionMode
	DispatchTimeout time.Duration
	DispatchRetries int
	RetryBackoff    time.Duration
}

const (
	defaultDispatchTimeout = 2 * time.Second
	defaultDispatchRetries = 2
	defaultRetryBackoff    = 100 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	if c.DispatchRetries < 0 {
		c.DispatchRetries = defaultDispatchRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// Result is the pipeline outcome for one intent. Repeat submissions of
// the same intent return the stored Result of the first run.
type Result struct {
	Success       bool              `json:"success"`
	Order         schema.Order      `json:"order"`
	Reason        schema.ReasonCode `json:"reason,omitempty"`
	ReasonDetail  string            `json:"reasonDetail,omitempty"`
	CorrelationID string            `json:"correlationId"`
	Snapshot      *ledger.Snapshot  `json:"snapshot,omitempty"`
}

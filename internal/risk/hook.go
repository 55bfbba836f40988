package risk

import (
	"context"

	"execution-core/internal/schema"
)

// Action is the pre-trade policy verdict. The zero value is Block so a
// zero Decision never lets an order through.
type Action uint16

const (
	ActionBlock Action = iota
	ActionAllow
	ActionPause
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "ALLOW"
	case ActionBlock:
		return "BLOCK"
	case ActionPause:
		return "PAUSE"
	default:
		return "UNKNOWN"
	}
}

// Decision is the outcome of a pre-trade policy evaluation.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Hook is the pre-trade policy collaborator. Implementations stay
// pluggable; the pipeline depends only on this contract.
type Hook interface {
	Evaluate(ctx context.Context, intent schema.OrderIntent) Decision
}

// PositionView exposes current holdings for position-limit checks.
type PositionView interface {
	Position(symbolID schema.SymbolID) schema.Quantity
}

// AllowAll is a hook that approves every intent. Useful for tools and
// tests.
type AllowAll struct{}

func (AllowAll) Evaluate(context.Context, schema.OrderIntent) Decision {
	return Decision{Action: ActionAllow}
}

package schema

// Price is a scaled integer. The scale is defined by configuration.
type Price int64

// Quantity is a scaled integer. The scale is defined by configuration.
type Quantity int64

// Notional is a scaled integer cash amount. The scale is defined by configuration.
type Notional int64

// Fee is a scaled integer. The scale is defined by configuration.
type Fee int64

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	default:
		return "UNKNOWN"
	}
}

// OrderState tracks the lifecycle of an order through the pipeline.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateCreated
	OrderStateValidated
	OrderStateRiskApproved
	OrderStateRouted
	OrderStateDispatched
	OrderStateAcknowledged
	OrderStatePartiallyFilled
	OrderStateFilled
	OrderStateRejected
	OrderStateCancelled
	OrderStateFailed
)

func (s OrderState) String() string {
	switch s {
	case OrderStateCreated:
		return "CREATED"
	case OrderStateValidated:
		return "VALIDATED"
	case OrderStateRiskApproved:
		return "RISK_APPROVED"
	case OrderStateRouted:
		return "ROUTED"
	case OrderStateDispatched:
		return "DISPATCHED"
	case OrderStateAcknowledged:
		return "ACKNOWLEDGED"
	case OrderStatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateRejected:
		return "REJECTED"
	case OrderStateCancelled:
		return "CANCELLED"
	case OrderStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state ends the order lifecycle.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateCancelled, OrderStateFailed:
		return true
	default:
		return false
	}
}

// ExecutionMode selects which adapter family the route stage may reach.
// The zero value is LiveBlocked so an unconfigured pipeline denies dispatch.
type ExecutionMode uint16

const (
	ExecutionModeLiveBlocked ExecutionMode = iota
	ExecutionModePaper
	ExecutionModeShadow
	ExecutionModeTestnet
)

func (m ExecutionMode) String() string {
	switch m {
	case ExecutionModeLiveBlocked:
		return "LIVE_BLOCKED"
	case ExecutionModePaper:
		return "PAPER"
	case ExecutionModeShadow:
		return "SHADOW"
	case ExecutionModeTestnet:
		return "TESTNET"
	default:
		return "UNKNOWN"
	}
}

// EventKind tags an adapter execution event.
type EventKind uint16

const (
	EventKindUnknown EventKind = iota
	EventKindAck
	EventKindReject
	EventKindFill
	EventKindCancelAck
	EventKindTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventKindAck:
		return "ACK"
	case EventKindReject:
		return "REJECT"
	case EventKindFill:
		return "FILL"
	case EventKindCancelAck:
		return "CANCEL_ACK"
	case EventKindTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// ReasonCode classifies a pipeline failure. The taxonomy is open: adapters
// and hooks may attach codes outside this list.
type ReasonCode string

const (
	ReasonNone                    ReasonCode = ""
	ReasonContractInvalidQuantity ReasonCode = "CONTRACT_INVALID_QUANTITY"
	ReasonContractInvalidPrice    ReasonCode = "CONTRACT_INVALID_PRICE"
	ReasonPolicyRiskBlocked       ReasonCode = "POLICY_RISK_BLOCKED"
	ReasonPolicyRiskPaused        ReasonCode = "POLICY_RISK_PAUSED"
	ReasonPolicyLiveNotEnabled    ReasonCode = "POLICY_LIVE_NOT_ENABLED"
	ReasonRouteNoAdapter          ReasonCode = "ROUTE_NO_ADAPTER"
	ReasonAdapterTimeout          ReasonCode = "ADAPTER_TIMEOUT"
	ReasonAdapterRejected         ReasonCode = "ADAPTER_REJECTED"
	ReasonDispatchCancelled       ReasonCode = "DISPATCH_CANCELLED"
	ReasonLedgerInvariant         ReasonCode = "LEDGER_INVARIANT_VIOLATION"
)

// Severity is the ordinal classification of a reconciliation divergence.
type Severity uint16

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityFail
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityFail:
		return "FAIL"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DiffType categorizes a reconciliation divergence.
// Order and fill diffs are reserved for a later phase.
type DiffType uint16

const (
	DiffTypeUnknown DiffType = iota
	DiffTypePosition
	DiffTypeCash
	DiffTypeOrder
	DiffTypeFill
)

func (t DiffType) String() string {
	switch t {
	case DiffTypePosition:
		return "POSITION"
	case DiffTypeCash:
		return "CASH"
	case DiffTypeOrder:
		return "ORDER"
	case DiffTypeFill:
		return "FILL"
	default:
		return "UNKNOWN"
	}
}

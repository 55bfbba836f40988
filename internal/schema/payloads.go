package schema

// OrderIntent is one immutable trading decision. The nonce is supplied by
// the strategy so identical decisions made twice on purpose hash apart.
type OrderIntent struct {
	SymbolID    SymbolID    `json:"symbolId"`
	StrategyID  uint32      `json:"strategyId"`
	Side        OrderSide   `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"timeInForce"`
	Price       Price       `json:"price"`
	Qty         Quantity    `json:"qty"`
	Nonce       uint64      `json:"nonce"`
}

// Order is the ledger's view of a submitted intent.
type Order struct {
	ClientOrderID   string      `json:"clientOrderId"`
	ExchangeOrderID string      `json:"exchangeOrderId,omitempty"`
	IdempotencyKey  string      `json:"idempotencyKey"`
	CorrelationID   string      `json:"correlationId"`
	SymbolID        SymbolID    `json:"symbolId"`
	StrategyID      uint32      `json:"strategyId"`
	Side            OrderSide   `json:"side"`
	Type            OrderType   `json:"type"`
	TimeInForce     TimeInForce `json:"timeInForce"`
	Price           Price       `json:"price"`
	Qty             Quantity    `json:"qty"`
	FilledQty       Quantity    `json:"filledQty"`
	State           OrderState  `json:"state"`
	Reason          ReasonCode  `json:"reason,omitempty"`
	ReasonDetail    string      `json:"reasonDetail,omitempty"`
	CreatedAt       int64       `json:"createdAt"`
	UpdatedAt       int64       `json:"updatedAt"`
}

// Fill is one execution applied exactly once to the position ledger.
type Fill struct {
	FillID   string    `json:"fillId"`
	OrderID  string    `json:"orderId"`
	SymbolID SymbolID  `json:"symbolId"`
	Side     OrderSide `json:"side"`
	Qty      Quantity  `json:"qty"`
	Price    Price     `json:"price"`
	Fee      Fee       `json:"fee"`
}

// ExecutionEvent is the adapter's answer to a submit or cancel.
// Fills is only populated for EventKindFill.
type ExecutionEvent struct {
	Kind            EventKind `json:"kind"`
	ExchangeOrderID string    `json:"exchangeOrderId,omitempty"`
	Fills           []Fill    `json:"fills,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/singleflight"

	"execution-core/internal/audit"
	errs "execution-core/internal/errors"
	"execution-core/internal/ledger"
	"execution-core/internal/obs"
	"execution-core/internal/risk"
	"execution-core/internal/schema"
	"execution-core/internal/venue"
	"execution-core/pkg/exception"
)

// Deps are the collaborators the orchestrator coordinates.
type Deps struct {
	Registry  *schema.Registry
	Orders    *ledger.OrderLedger
	Positions *ledger.PositionLedger
	Audit     *audit.Log
	Risk      risk.Hook
	Venues    *venue.Registry
	Metrics   *obs.Metrics
}

func (d Deps) validate() error {
	if d.Registry == nil || d.Orders == nil || d.Positions == nil ||
		d.Audit == nil || d.Risk == nil || d.Venues == nil {
		return exception.ErrNilInstance
	}
	return nil
}

// Orchestrator runs the eight-stage execution pipeline. Execution halts at
// the first stage failure and every traversed stage appends exactly one
// audit entry tagged with the intent's correlation id.
type Orchestrator struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	results map[string]Result
	flight  singleflight.Group
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = obs.NewMetrics()
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		results: make(map[string]Result),
	}, nil
}

// SubmitIntent runs the pipeline for one intent. A retried or duplicated
// intent with an in-flight or completed idempotency key resolves to the
// existing result and never triggers a second dispatch.
func (o *Orchestrator) SubmitIntent(ctx context.Context, intent schema.OrderIntent) Result {
	started := time.Now()
	key := IdempotencyKey(intent)
	correlationID := uuid.NewString()

	if result, ok := o.cachedResult(key); ok {
		o.appendEntry(audit.KindIntentDuplicate, correlationID, duplicatePayload{
			ClientOrderID:  result.Order.ClientOrderID,
			IdempotencyKey: key,
			OriginalRun:    result.CorrelationID,
		})
		return result
	}

	v, _, shared := o.flight.Do(key, func() (any, error) {
		if result, ok := o.cachedResult(key); ok {
			return result, nil
		}
		result := o.run(ctx, intent, key, correlationID)
		o.storeResult(key, result)
		return result, nil
	})
	result := v.(Result)
	if shared && result.CorrelationID != correlationID {
		o.appendEntry(audit.KindIntentDuplicate, correlationID, duplicatePayload{
			ClientOrderID:  result.Order.ClientOrderID,
			IdempotencyKey: key,
			OriginalRun:    result.CorrelationID,
		})
	}
	o.deps.Metrics.ObservePipeline(time.Since(started))
	return result
}

func (o *Orchestrator) run(ctx context.Context, intent schema.OrderIntent, key, correlationID string) Result {
	clientOrderID := ClientOrderID(key)

	// Stage 1: intent intake.
	stageStart := time.Now()
	order, err := o.deps.Orders.Create(schema.Order{
		ClientOrderID:  clientOrderID,
		IdempotencyKey: key,
		CorrelationID:  correlationID,
		SymbolID:       intent.SymbolID,
		StrategyID:     intent.StrategyID,
		Side:           intent.Side,
		Type:           intent.Type,
		TimeInForce:    intent.TimeInForce,
		Price:          intent.Price,
		Qty:            intent.Qty,
	})
	if errors.Is(err, exception.ErrLedgerDuplicateOrder) {
		// The key was seen by a previous process lifetime. Resolve to the
		// existing order instead of creating a second one.
		existing, _ := o.deps.Orders.Get(clientOrderID)
		return Result{
			Success: existing.State == schema.OrderStateFilled ||
				existing.State == schema.OrderStatePartiallyFilled ||
				existing.State == schema.OrderStateAcknowledged,
			Order:         existing,
			Reason:        existing.Reason,
			ReasonDetail:  existing.ReasonDetail,
			CorrelationID: existing.CorrelationID,
		}
	}
	if err != nil {
		o.appendEntry(audit.KindStageIntake, correlationID, outcomePayload{
			ClientOrderID: clientOrderID, OK: false, Reason: schema.ReasonLedgerInvariant, Detail: err.Error(),
		})
		return o.failResult(schema.Order{ClientOrderID: clientOrderID}, correlationID, schema.ReasonLedgerInvariant, err.Error())
	}
	o.appendEntry(audit.KindStageIntake, correlationID, intakePayload{
		ClientOrderID:  clientOrderID,
		IdempotencyKey: key,
		SymbolID:       intent.SymbolID,
		StrategyID:     intent.StrategyID,
		Side:           intent.Side.String(),
		Type:           intent.Type.String(),
		Price:          intent.Price,
		Qty:            intent.Qty,
	})
	o.deps.Metrics.ObserveStage(obs.StageIntake, time.Since(stageStart))

	// Stage 2: contract validation.
	stageStart = time.Now()
	if reason, detail, ok := validateContract(intent); !ok {
		order = o.failOrder(clientOrderID, schema.OrderStateFailed, reason, detail)
		o.appendEntry(audit.KindStageValidate, correlationID, outcomePayload{
			ClientOrderID: clientOrderID, OK: false, Reason: reason, Detail: detail,
		})
		o.deps.Metrics.ObserveStage(obs.StageValidate, time.Since(stageStart))
		return o.failResult(order, correlationID, reason, detail)
	}
	order, _ = o.deps.Orders.Transition(clientOrderID, schema.OrderStateValidated, schema.ReasonNone, "")
	o.appendEntry(audit.KindStageValidate, correlationID, outcomePayload{ClientOrderID: clientOrderID, OK: true})
	o.deps.Metrics.ObserveStage(obs.StageValidate, time.Since(stageStart))

	// Stage 3: pre-trade risk gate.
	stageStart = time.Now()
	decision := o.deps.Risk.Evaluate(ctx, intent)
	if decision.Action != risk.ActionAllow {
		reason := schema.ReasonPolicyRiskBlocked
		if decision.Action == risk.ActionPause {
			// Pause terminates the pipeline in this phase; held orders for
			// later re-evaluation are a product decision not taken yet.
			reason = schema.ReasonPolicyRiskPaused
		}
		order = o.failOrder(clientOrderID, schema.OrderStateFailed, reason, decision.Reason)
		o.appendEntry(audit.KindStageRisk, correlationID, riskPayload{
			ClientOrderID: clientOrderID, Action: decision.Action.String(), OK: false,
			Reason: reason, Detail: decision.Reason,
		})
		o.deps.Metrics.ObserveStage(obs.StageRisk, time.Since(stageStart))
		return o.failResult(order, correlationID, reason, decision.Reason)
	}
	order, _ = o.deps.Orders.Transition(clientOrderID, schema.OrderStateRiskApproved, schema.ReasonNone, "")
	o.appendEntry(audit.KindStageRisk, correlationID, riskPayload{
		ClientOrderID: clientOrderID, Action: decision.Action.String(), OK: true,
	})
	o.deps.Metrics.ObserveStage(obs.StageRisk, time.Since(stageStart))

	// Stage 4: route selection.
	stageStart = time.Now()
	adapter, err := o.deps.Venues.Route(o.cfg.Mode)
	if err != nil {
		reason := schema.ReasonRouteNoAdapter
		if errors.Is(err, exception.ErrLiveNotEnabled) {
			reason = schema.ReasonPolicyLiveNotEnabled
		}
		order = o.failOrder(clientOrderID, schema.OrderStateFailed, reason, err.Error())
		o.appendEntry(audit.KindStageRoute, correlationID, routePayload{
			ClientOrderID: clientOrderID, Mode: o.cfg.Mode.String(), OK: false, Reason: reason,
		})
		o.deps.Metrics.ObserveStage(obs.StageRoute, time.Since(stageStart))
		return o.failResult(order, correlationID, reason, err.Error())
	}
	order, _ = o.deps.Orders.Transition(clientOrderID, schema.OrderStateRouted, schema.ReasonNone, "")
	o.appendEntry(audit.KindStageRoute, correlationID, routePayload{
		ClientOrderID: clientOrderID, Mode: o.cfg.Mode.String(), OK: true,
	})
	o.deps.Metrics.ObserveStage(obs.StageRoute, time.Since(stageStart))

	// Stage 5: adapter dispatch. The only blocking stage, and the only
	// one allowed to retry: dispatch is idempotent on the key.
	stageStart = time.Now()
	order, _ = o.deps.Orders.Transition(clientOrderID, schema.OrderStateDispatched, schema.ReasonNone, "")
	event, attempts, dispatchErr := o.dispatch(ctx, adapter, order, key)
	if dispatchErr != nil {
		reason, ok := errs.ReasonOf(dispatchErr)
		if !ok {
			reason = schema.ReasonAdapterRejected
		}
		order = o.failOrder(clientOrderID, schema.OrderStateFailed, reason, dispatchErr.Error())
		o.appendEntry(audit.KindStageDispatch, correlationID, dispatchPayload{
			ClientOrderID: clientOrderID, Attempts: attempts, OK: false, Reason: reason,
		})
		o.deps.Metrics.ObserveStage(obs.StageDispatch, time.Since(stageStart))
		return o.failResult(order, correlationID, reason, dispatchErr.Error())
	}
	o.appendEntry(audit.KindStageDispatch, correlationID, dispatchPayload{
		ClientOrderID: clientOrderID, Attempts: attempts, EventKind: event.Kind.String(), OK: true,
	})
	o.deps.Metrics.ObserveStage(obs.StageDispatch, time.Since(stageStart))

	// Stage 6: execution event handling.
	stageStart = time.Now()
	if event.ExchangeOrderID != "" {
		order, _ = o.deps.Orders.SetExchangeOrderID(clientOrderID, event.ExchangeOrderID)
	}
	switch event.Kind {
	case schema.EventKindAck:
		order, _ = o.deps.Orders.Transition(clientOrderID, schema.OrderStateAcknowledged, schema.ReasonNone, "")
	case schema.EventKindReject:
		order, _ = o.deps.Orders.Transition(clientOrderID, schema.OrderStateRejected, schema.ReasonAdapterRejected, event.Reason)
		o.appendEntry(audit.KindStageEvent, correlationID, eventPayload{
			ClientOrderID: clientOrderID, EventKind: event.Kind.String(),
			State: order.State.String(), Detail: event.Reason,
		})
		o.deps.Metrics.ObserveStage(obs.StageEvent, time.Since(stageStart))
		return o.failResult(order, correlationID, schema.ReasonAdapterRejected, event.Reason)
	case schema.EventKindFill:
		for _, fill := range event.Fills {
			// Cash and position commit before the order state derives:
			// the order may only reach FILLED once the position ledger
			// has accepted every fill. A rejected fill fails this order
			// while it is still non-terminal, and moves nothing.
			if err := o.deps.Positions.ApplyFill(fill); err != nil {
				order = o.failOrder(clientOrderID, schema.OrderStateFailed, schema.ReasonLedgerInvariant, err.Error())
				o.appendEntry(audit.KindStageEvent, correlationID, eventPayload{
					ClientOrderID: clientOrderID, EventKind: event.Kind.String(),
					State: order.State.String(), Detail: err.Error(),
				})
				o.deps.Metrics.ObserveStage(obs.StageEvent, time.Since(stageStart))
				return o.failResult(order, correlationID, schema.ReasonLedgerInvariant, err.Error())
			}
			next, err := o.deps.Orders.ApplyFill(clientOrderID, fill)
			if err != nil {
				order = o.failOrder(clientOrderID, schema.OrderStateFailed, schema.ReasonLedgerInvariant, err.Error())
				o.appendEntry(audit.KindStageEvent, correlationID, eventPayload{
					ClientOrderID: clientOrderID, EventKind: event.Kind.String(),
					State: order.State.String(), Detail: err.Error(),
				})
				o.deps.Metrics.ObserveStage(obs.StageEvent, time.Since(stageStart))
				return o.failResult(order, correlationID, schema.ReasonLedgerInvariant, err.Error())
			}
			order = next
		}
	default:
		detail := "unexpected execution event: " + event.Kind.String()
		order = o.failOrder(clientOrderID, schema.OrderStateFailed, schema.ReasonAdapterRejected, detail)
		o.appendEntry(audit.KindStageEvent, correlationID, eventPayload{
			ClientOrderID: clientOrderID, EventKind: event.Kind.String(),
			State: order.State.String(), Detail: detail,
		})
		o.deps.Metrics.ObserveStage(obs.StageEvent, time.Since(stageStart))
		return o.failResult(order, correlationID, schema.ReasonAdapterRejected, detail)
	}
	o.appendEntry(audit.KindStageEvent, correlationID, eventPayload{
		ClientOrderID: clientOrderID, EventKind: event.Kind.String(),
		ExchangeOrderID: event.ExchangeOrderID, State: order.State.String(),
		Fills: event.Fills,
	})
	o.deps.Metrics.ObserveStage(obs.StageEvent, time.Since(stageStart))

	// Stage 7: post-trade hooks. Both ledgers committed during event
	// handling; record the resulting balances for downstream consumers.
	stageStart = time.Now()
	o.appendEntry(audit.KindStagePostTrade, correlationID, postTradePayload{
		ClientOrderID: clientOrderID,
		FillsApplied:  len(event.Fills),
		Cash:          o.deps.Positions.Cash(),
		Position:      o.deps.Positions.Position(order.SymbolID),
		OK:            true,
	})
	o.deps.Metrics.ObserveStage(obs.StagePostTrade, time.Since(stageStart))

	// Stage 8: recon hand-off.
	stageStart = time.Now()
	snapshot := o.deps.Positions.Snapshot(o.deps.Audit.LastSeq())
	o.appendEntry(audit.KindStageHandoff, correlationID, handoffPayload{
		ClientOrderID: clientOrderID,
		SnapshotSeq:   snapshot.LastSeq,
		Cash:          snapshot.Cash,
	})
	o.deps.Metrics.ObserveStage(obs.StageHandoff, time.Since(stageStart))

	return Result{
		Success:       true,
		Order:         order,
		CorrelationID: correlationID,
		Snapshot:      &snapshot,
	}
}

// Cancel aborts an order. Before dispatch the cancel is local and
// guaranteed; after dispatch it degrades to a best-effort venue request.
func (o *Orchestrator) Cancel(ctx context.Context, clientOrderID string) (schema.Order, error) {
	order, ok := o.deps.Orders.Get(clientOrderID)
	if !ok {
		return schema.Order{}, exception.ErrLedgerUnknownOrder
	}
	if order.State.IsTerminal() {
		return order, exception.ErrCancelAfterTerminal
	}

	switch order.State {
	case schema.OrderStateCreated, schema.OrderStateValidated,
		schema.OrderStateRiskApproved, schema.OrderStateRouted:
		cancelled, err := o.deps.Orders.Transition(clientOrderID, schema.OrderStateCancelled, schema.ReasonNone, "local cancel before dispatch")
		if err != nil {
			return cancelled, err
		}
		o.appendEntry(audit.KindOrderCancel, order.CorrelationID, cancelPayload{
			ClientOrderID: clientOrderID, Local: true,
		})
		return cancelled, nil
	}

	adapter, err := o.deps.Venues.Route(o.cfg.Mode)
	if err != nil {
		return order, errs.Wrap(err, "route cancel")
	}
	event, err := adapter.Cancel(ctx, order)
	if err != nil {
		return order, errs.Wrap(err, "venue cancel")
	}
	if event.Kind != schema.EventKindCancelAck {
		return order, exception.ErrCancelAfterTerminal
	}
	cancelled, err := o.deps.Orders.Transition(clientOrderID, schema.OrderStateCancelled, schema.ReasonNone, "venue cancel ack")
	if err != nil {
		return cancelled, err
	}
	o.appendEntry(audit.KindOrderCancel, order.CorrelationID, cancelPayload{
		ClientOrderID: clientOrderID, Local: false,
	})
	return cancelled, nil
}

// dispatch submits with a bounded per-attempt timeout and a fixed retry
// budget. Only timeouts retry; any other outcome returns immediately.
func (o *Orchestrator) dispatch(ctx context.Context, adapter venue.Adapter, order schema.Order, key string) (schema.ExecutionEvent, int, error) {
	attempts := 0
	budget := 1 + o.cfg.DispatchRetries
	for attempts < budget {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
		event, err := adapter.Submit(attemptCtx, order, key)
		cancel()
		switch {
		case err == nil && event.Kind != schema.EventKindTimeout:
			return event, attempts, nil
		case errors.Is(err, context.Canceled):
			// Caller cancellation, not a venue fault.
			return schema.ExecutionEvent{}, attempts, errs.WithReason(err, schema.ReasonDispatchCancelled)
		case err != nil && !errors.Is(err, context.DeadlineExceeded):
			return schema.ExecutionEvent{}, attempts, errs.WithReason(err, schema.ReasonAdapterRejected)
		}
		if attempts < budget {
			o.deps.Metrics.IncDispatchRetry()
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.Canceled) {
					return schema.ExecutionEvent{}, attempts, errs.WithReason(ctx.Err(), schema.ReasonDispatchCancelled)
				}
				return schema.ExecutionEvent{}, attempts, errs.WithReason(exception.ErrAdapterTimeout, schema.ReasonAdapterTimeout)
			case <-time.After(o.cfg.RetryBackoff * time.Duration(attempts)):
			}
		}
	}
	return schema.ExecutionEvent{}, attempts, errs.WithReason(exception.ErrAdapterTimeout, schema.ReasonAdapterTimeout)
}

func validateContract(intent schema.OrderIntent) (schema.ReasonCode, string, bool) {
	if intent.Qty <= 0 {
		return schema.ReasonContractInvalidQuantity, "quantity must be > 0", false
	}
	if intent.Type == schema.OrderTypeLimit && intent.Price <= 0 {
		return schema.ReasonContractInvalidPrice, "limit orders require a limit price", false
	}
	return schema.ReasonNone, "", true
}

func (o *Orchestrator) failOrder(clientOrderID string, state schema.OrderState, reason schema.ReasonCode, detail string) schema.Order {
	order, err := o.deps.Orders.Transition(clientOrderID, state, reason, detail)
	if err != nil {
		logs.Warnf("fail order %s, err: %+v", clientOrderID, err)
	}
	return order
}

func (o *Orchestrator) failResult(order schema.Order, correlationID string, reason schema.ReasonCode, detail string) Result {
	o.deps.Metrics.IncReason(reason)
	return Result{
		Success:       false,
		Order:         order,
		Reason:        reason,
		ReasonDetail:  detail,
		CorrelationID: correlationID,
	}
}

func (o *Orchestrator) appendEntry(kind audit.Kind, correlationID string, payload any) {
	if _, err := o.deps.Audit.Append(kind, correlationID, payload); err != nil {
		logs.Warnf("append audit entry, err: %+v", err)
	}
}

func (o *Orchestrator) cachedResult(key string) (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result, ok := o.results[key]
	return result, ok
}

func (o *Orchestrator) storeResult(key string, result Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[key] = result
}

type intakePayload struct {
	ClientOrderID  string          `json:"clientOrderId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	SymbolID       schema.SymbolID `json:"symbolId"`
	StrategyID     uint32          `json:"strategyId"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Price          schema.Price    `json:"price"`
	Qty            schema.Quantity `json:"qty"`
}

type duplicatePayload struct {
	ClientOrderID  string `json:"clientOrderId"`
	IdempotencyKey string `json:"idempotencyKey"`
	OriginalRun    string `json:"originalRun"`
}

type outcomePayload struct {
	ClientOrderID string            `json:"clientOrderId"`
	OK            bool              `json:"ok"`
	Reason        schema.ReasonCode `json:"reason,omitempty"`
	Detail        string            `json:"detail,omitempty"`
}

type riskPayload struct {
	ClientOrderID string            `json:"clientOrderId"`
	Action        string            `json:"action"`
	OK            bool              `json:"ok"`
	Reason        schema.ReasonCode `json:"reason,omitempty"`
	Detail        string            `json:"detail,omitempty"`
}

type routePayload struct {
	ClientOrderID string            `json:"clientOrderId"`
	Mode          string            `json:"mode"`
	OK            bool              `json:"ok"`
	Reason        schema.ReasonCode `json:"reason,omitempty"`
}

type dispatchPayload struct {
	ClientOrderID string            `json:"clientOrderId"`
	Attempts      int               `json:"attempts"`
	EventKind     string            `json:"eventKind,omitempty"`
	OK            bool              `json:"ok"`
	Reason        schema.ReasonCode `json:"reason,omitempty"`
}

// eventPayload carries the fills so a WAL replay can rebuild the
// position ledger without the venue.
type eventPayload struct {
	ClientOrderID   string        `json:"clientOrderId"`
	EventKind       string        `json:"eventKind"`
	ExchangeOrderID string        `json:"exchangeOrderId,omitempty"`
	State           string        `json:"state"`
	Detail          string        `json:"detail,omitempty"`
	Fills           []schema.Fill `json:"fills,omitempty"`
}

type postTradePayload struct {
	ClientOrderID string          `json:"clientOrderId"`
	FillsApplied  int             `json:"fillsApplied"`
	Cash          schema.Notional `json:"cash"`
	Position      schema.Quantity `json:"position"`
	OK            bool            `json:"ok"`
}

type handoffPayload struct {
	ClientOrderID string          `json:"clientOrderId"`
	SnapshotSeq   uint64          `json:"snapshotSeq"`
	Cash          schema.Notional `json:"cash"`
}

type cancelPayload struct {
	ClientOrderID string `json:"clientOrderId"`
	Local         bool   `json:"local"`
}

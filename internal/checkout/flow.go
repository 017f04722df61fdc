package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront/internal/backend"
	"github.com/angelmondragon/storefront/internal/cart"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/internal/payments"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
)

const StepPaymentResult = "payment_result"

// Dependencies wires a Flow.
type Dependencies struct {
	Orchestrator orders.Orchestrator
	Resolver     payments.Resolver
	Logger       *logger.Logger
	Metrics      *metrics.CheckoutMetrics
	// OnSuccess runs once, outside the flow lock, when a flow that committed a
	// cart reaches Success for that same order. cartVersion is the committed one.
	OnSuccess func(ctx context.Context, outcome Outcome, cartVersion uint64)
	Now       func() time.Time
}

// Flow is one commit attempt: Idle → Committing → RedirectedToGateway →
// ResolvingResult → {Success, Failed, PartialFailure}. A terminal flow is
// never reused.
type Flow struct {
	deps Dependencies

	mu      sync.Mutex
	outcome Outcome
	history []enums.CheckoutState

	committed   bool
	cartVersion uint64
	token       string
}

// NewFlow returns an Idle flow.
func NewFlow(deps Dependencies) (*Flow, error) {
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("order orchestrator required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("payment resolver required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	f := &Flow{deps: deps}
	f.outcome = Outcome{State: enums.CheckoutStateIdle, UpdatedAt: deps.Now().UTC()}
	f.history = []enums.CheckoutState{enums.CheckoutStateIdle}
	return f, nil
}

// Outcome returns the current view of the flow.
func (f *Flow) Outcome() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// State returns the current state.
func (f *Flow) State() enums.CheckoutState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome.State
}

// GatewayToken returns the token the flow was last resolved with.
func (f *Flow) GatewayToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// History lists every state the flow has entered, in order.
func (f *Flow) History() []enums.CheckoutState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]enums.CheckoutState, len(f.history))
	copy(out, f.history)
	return out
}

// Commit converts snap into an order and a payment redirect. The returned
// error is non-nil only when the attempt was refused and the state is unchanged;
// pipeline failures are reported through the terminal Outcome.
func (f *Flow) Commit(ctx context.Context, snap cart.Snapshot) (Outcome, error) {
	f.mu.Lock()
	state := f.outcome.State
	switch {
	case state.IsRunning():
		f.mu.Unlock()
		return Outcome{}, pkgerrors.New(pkgerrors.CodeCommitInProgress, "a checkout is already in progress").
			WithDetails(map[string]any{"state": state})
	case state != enums.CheckoutStateIdle:
		f.mu.Unlock()
		return Outcome{}, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout already finished; start a new attempt").
			WithDetails(map[string]any{"state": state})
	}
	f.committed = true
	f.cartVersion = snap.Version
	f.enterLocked(Outcome{State: enums.CheckoutStateCommitting})
	f.mu.Unlock()

	logCtx := f.deps.Logger.WithFields(ctx, map[string]any{
		"cart_version": snap.Version,
		"item_count":   snap.ItemCount,
		"total":        snap.Total.String(),
	})
	f.deps.Logger.Info(logCtx, "checkout.commit.start")

	ref, err := f.deps.Orchestrator.Commit(ctx, snap)

	next := Outcome{State: enums.CheckoutStateRedirectedToGateway, OrderStatus: enums.OrderStatusPending}
	if err != nil {
		next = failureOutcome(err)
	} else {
		next.OrderID = ref.OrderID
		next.RedirectURL = ref.RedirectURL
	}

	f.mu.Lock()
	f.enterLocked(next)
	out := f.outcome
	f.mu.Unlock()

	f.report(ctx, out)
	return out, nil
}

// AwaitReturn moves an Idle flow straight to RedirectedToGateway. It is used
// when a gateway callback arrives for a flow this process no longer holds.
func (f *Flow) AwaitReturn(orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcome.State != enums.CheckoutStateIdle {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only an idle flow can await a gateway return").
			WithDetails(map[string]any{"state": f.outcome.State})
	}
	f.enterLocked(Outcome{State: enums.CheckoutStateRedirectedToGateway, OrderID: orderID})
	return nil
}

// Resume moves an Idle flow back to the gateway step prev ended on, so an
// unsettled result can be resolved again. The commit prev made, if any, carries over.
func (f *Flow) Resume(prev *Flow) error {
	prev.mu.Lock()
	last := prev.outcome
	committed, version := prev.committed, prev.cartVersion
	prev.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcome.State != enums.CheckoutStateIdle {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only an idle flow can resume a gateway return").
			WithDetails(map[string]any{"state": f.outcome.State})
	}
	f.committed = committed
	f.cartVersion = version
	f.enterLocked(Outcome{
		State:       enums.CheckoutStateRedirectedToGateway,
		OrderID:     last.OrderID,
		OrderStatus: last.OrderStatus,
	})
	return nil
}

// Return resolves the gateway token and drives the flow to a terminal state.
// Like Commit, a non-nil error means the call was refused and nothing changed.
func (f *Flow) Return(ctx context.Context, gatewayToken string) (Outcome, error) {
	token := strings.TrimSpace(gatewayToken)
	if token == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "token_ws is required").
			WithDetails(map[string]any{"step": StepPaymentResult})
	}

	f.mu.Lock()
	state := f.outcome.State
	switch state {
	case enums.CheckoutStateRedirectedToGateway:
	case enums.CheckoutStateCommitting, enums.CheckoutStateResolvingResult:
		f.mu.Unlock()
		return Outcome{}, pkgerrors.New(pkgerrors.CodeCommitInProgress, "checkout is still in progress").
			WithDetails(map[string]any{"state": state})
	default:
		f.mu.Unlock()
		return Outcome{}, pkgerrors.New(pkgerrors.CodeStateConflict, "no payment is awaiting a gateway return").
			WithDetails(map[string]any{"state": state})
	}
	orderID := f.outcome.OrderID
	f.token = token
	f.enterLocked(Outcome{State: enums.CheckoutStateResolvingResult, OrderID: orderID, OrderStatus: f.outcome.OrderStatus})
	f.mu.Unlock()

	result, err := f.deps.Resolver.Resolve(ctx, token)

	f.mu.Lock()
	out := resultOutcome(orderID, result, err)
	mismatch := out.OrderID > 0 && orderID > 0 && out.OrderID != orderID
	if mismatch {
		f.deps.Logger.Warn(f.deps.Logger.WithFields(ctx, map[string]any{
			"expected_order_id": orderID,
			"returned_order_id": out.OrderID,
		}), "checkout.return.order_mismatch")
	}
	f.enterLocked(out)
	out = f.outcome
	settlesCart := f.committed && orderID > 0 && !mismatch
	version := f.cartVersion
	f.mu.Unlock()

	f.report(ctx, out)
	if out.State == enums.CheckoutStateSuccess && settlesCart && f.deps.OnSuccess != nil {
		f.deps.OnSuccess(ctx, out, version)
	}
	return out, nil
}

func (f *Flow) enterLocked(next Outcome) {
	next.UpdatedAt = f.deps.Now().UTC()
	f.outcome = next
	f.history = append(f.history, next.State)
}

func (f *Flow) report(ctx context.Context, out Outcome) {
	if out.OrderID > 0 {
		ctx = f.deps.Logger.WithOrderID(ctx, out.OrderID)
	}
	ctx = f.deps.Logger.WithFields(ctx, map[string]any{"state": out.State, "code": out.Code, "step": out.Step})
	switch {
	case out.Failed():
		f.deps.Logger.Error(ctx, "checkout.flow.failed", out.cause)
	case out.State == enums.CheckoutStateSuccess:
		f.deps.Logger.Info(ctx, "checkout.flow.success")
	default:
		f.deps.Logger.Info(ctx, "checkout.flow.transition")
	}
	if out.State.IsTerminal() {
		f.deps.Metrics.IncOutcome(out.State.String(), string(out.Code))
	}
}

// failureOutcome maps a commit error to Failed, or PartialFailure once an order exists.
func failureOutcome(err error) Outcome {
	code := pkgerrors.CodeOrderCreation
	step := orders.StepCreateOrder
	var orderID int64
	var backendMessage string

	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
		if v, ok := typed.Detail("step"); ok {
			if s, ok := v.(string); ok {
				step = s
			}
		}
		if v, ok := typed.Detail("order_id"); ok {
			if id, ok := v.(int64); ok {
				orderID = id
			}
		}
		if code == pkgerrors.CodeOrderCreation {
			backendMessage = backend.BackendMessage(err)
			if backendMessage == "" && typed.Unwrap() == nil {
				backendMessage = typed.Message()
			}
		}
	}

	state := enums.CheckoutStateFailed
	if code == pkgerrors.CodePaymentInitiation {
		state = enums.CheckoutStatePartialFailure
	}
	out := Outcome{
		State:   state,
		Code:    code,
		OrderID: orderID,
		Step:    step,
		Message: userMessage(code, orderID, backendMessage),
		cause:   err,
	}
	if orderID > 0 {
		out.OrderStatus = enums.OrderStatusPending
	}
	return out
}

// resultOutcome classifies a resolved payment. Only authorized reaches Success.
// The order status is the backend's when it sent one.
func resultOutcome(orderID int64, result *payments.Result, err error) Outcome {
	if err != nil {
		out := Outcome{
			State:   enums.CheckoutStateFailed,
			Code:    pkgerrors.CodePaymentIndeterminate,
			OrderID: orderID,
			Step:    StepPaymentResult,
			Message: userMessage(pkgerrors.CodePaymentIndeterminate, orderID, ""),
			cause:   err,
		}
		if orderID > 0 {
			out.OrderStatus = enums.OrderStatusPending
		}
		return out
	}
	if result.OrderID > 0 {
		orderID = result.OrderID
	}

	out := Outcome{OrderID: orderID, OrderStatus: result.OrderStatus, Payment: result, Step: StepPaymentResult}
	switch result.PaymentStatus {
	case enums.PaymentStatusAuthorized:
		out.State = enums.CheckoutStateSuccess
		out.Step = ""
		out.Message = fmt.Sprintf("Payment for %s was confirmed.", orderRef(orderID))
		if out.OrderStatus == "" {
			out.OrderStatus = enums.OrderStatusPaid
		}
		return out
	case enums.PaymentStatusRejected:
		out.Code = pkgerrors.CodePaymentRejected
	case enums.PaymentStatusPending:
		out.Code = pkgerrors.CodePaymentPending
	default:
		out.Code = pkgerrors.CodePaymentIndeterminate
	}
	out.State = enums.CheckoutStateFailed
	out.Message = userMessage(out.Code, orderID, "")
	out.cause = fmt.Errorf("payment status %q classified as %s", result.RawStatus, result.PaymentStatus)
	return out
}

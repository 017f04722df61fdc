package orders

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront/internal/backend"
	"github.com/angelmondragon/storefront/internal/cart"
	"github.com/angelmondragon/storefront/internal/session"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
)

const (
	StepPreconditions   = "preconditions"
	StepCreateOrder     = "create_order"
	StepInitiatePayment = "initiate_payment"
)

// Backend is the subset of the order backend used to commit a cart.
type Backend interface {
	CreateOrderFromCart(ctx context.Context, bearer, userID, idempotencyKey string, req backend.CreateOrderRequest) (*backend.CreateOrderResult, error)
	InitiatePayment(ctx context.Context, bearer, userID string, orderID int64) (*backend.PaymentInitiation, error)
}

// Reference is what the storefront keeps of a committed order.
type Reference struct {
	OrderID     int64  `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

// Orchestrator turns a cart snapshot into a persisted order plus a payment redirect.
type Orchestrator interface {
	Commit(ctx context.Context, snap cart.Snapshot) (*Reference, error)
}

type orchestrator struct {
	backend Backend
	creds   session.CredentialsSource
	logg    *logger.Logger
}

// NewOrchestrator wires the commit pipeline.
func NewOrchestrator(b Backend, creds session.CredentialsSource, logg *logger.Logger) (Orchestrator, error) {
	if b == nil {
		return nil, fmt.Errorf("order backend required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credentials source required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &orchestrator{backend: b, creds: creds, logg: logg}, nil
}

type createdOrder struct {
	orderID int64
}

type initiatedPayment struct {
	redirectURL string
}

// Commit runs create-order then initiate-payment, strictly in that order.
// The cart itself is never touched.
func (o *orchestrator) Commit(ctx context.Context, snap cart.Snapshot) (*Reference, error) {
	creds, err := session.Require(ctx, o.creds)
	if err != nil {
		return nil, withStep(err, StepPreconditions)
	}
	if snap.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty").
			WithDetails(map[string]any{"step": StepPreconditions})
	}

	ctx = o.logg.WithUserID(ctx, creds.UserID)

	created, err := o.createOrder(ctx, creds, snap)
	if err != nil {
		return nil, err
	}
	ctx = o.logg.WithOrderID(ctx, created.orderID)

	initiated, err := o.initiatePayment(ctx, creds, created.orderID)
	if err != nil {
		return nil, err
	}

	o.logg.Info(ctx, "checkout.commit.redirect_ready")
	return &Reference{OrderID: created.orderID, RedirectURL: initiated.redirectURL}, nil
}

func (o *orchestrator) createOrder(ctx context.Context, creds session.Credentials, snap cart.Snapshot) (*createdOrder, error) {
	req := backend.CreateOrderRequest{
		Items:    snap.Items,
		Subtotal: snap.Total,
		Amount:   snap.Total,
	}
	key := Fingerprint(creds.UserID, snap.Items)

	res, err := o.backend.CreateOrderFromCart(ctx, creds.AuthToken, creds.UserID, key, req)
	if pkgerrors.IsCode(err, pkgerrors.CodeMalformedResponse) {
		return nil, withStep(err, StepCreateOrder)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeOrderCreation, err, messageOr(backend.BackendMessage(err), "order creation failed")).
			WithDetails(map[string]any{"step": StepCreateOrder})
	}
	if !res.OK {
		return nil, pkgerrors.New(pkgerrors.CodeOrderCreation, messageOr(res.Message, "order creation rejected")).
			WithDetails(map[string]any{"step": StepCreateOrder})
	}
	if res.OrderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeMalformedResponse, "order created without an id").
			WithDetails(map[string]any{"step": StepCreateOrder})
	}

	o.logg.Info(o.logg.WithOrderID(ctx, *res.OrderID), "checkout.order.created")
	return &createdOrder{orderID: *res.OrderID}, nil
}

func (o *orchestrator) initiatePayment(ctx context.Context, creds session.Credentials, orderID int64) (*initiatedPayment, error) {
	res, err := o.backend.InitiatePayment(ctx, creds.AuthToken, creds.UserID, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentInitiation, err, messageOr(backend.BackendMessage(err), "payment initiation failed")).
			WithDetails(map[string]any{"step": StepInitiatePayment, "order_id": orderID})
	}
	if res.RedirectURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodePaymentInitiation, "payment initiated without a redirect target").
			WithDetails(map[string]any{"step": StepInitiatePayment, "order_id": orderID})
	}
	return &initiatedPayment{redirectURL: res.RedirectURL}, nil
}

func withStep(err error, step string) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err
	}
	return typed.WithDetails(map[string]any{"step": step})
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

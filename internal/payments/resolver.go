package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront/internal/backend"
	"github.com/angelmondragon/storefront/internal/session"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const StepResolvePayment = "resolve_payment"

// lookupTimeout bounds a shared lookup once it no longer follows any caller's context.
const lookupTimeout = 15 * time.Second

// Lookup is the backend read behind a gateway token.
type Lookup interface {
	PaymentReturn(ctx context.Context, bearer, gatewayToken string) (*backend.PaymentReturn, error)
}

// Result is the classified outcome for one gateway token.
type Result struct {
	OrderID       int64               `json:"order_id,omitempty"`
	OrderStatus   enums.OrderStatus   `json:"order_status,omitempty"`
	GatewayToken  string              `json:"gateway_token"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	RawStatus     string              `json:"raw_status,omitempty"`
	Amount        *decimal.Decimal    `json:"amount,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// Resolver turns a gateway return token into a classified Result.
type Resolver interface {
	Resolve(ctx context.Context, gatewayToken string) (*Result, error)
}

type resolver struct {
	lookup  Lookup
	creds   session.CredentialsSource
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	group   singleflight.Group
	timeout time.Duration
	now     func() time.Time
}

// NewResolver builds a resolver. creds may resolve to empty credentials; the
// lookup then runs without a bearer token.
func NewResolver(lookup Lookup, creds session.CredentialsSource, logg *logger.Logger, m *metrics.CheckoutMetrics) (Resolver, error) {
	if lookup == nil {
		return nil, fmt.Errorf("payment lookup required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credentials source required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &resolver{lookup: lookup, creds: creds, logg: logg, metrics: m, timeout: lookupTimeout, now: time.Now}, nil
}

// Resolve performs one read per token; concurrent calls for the same token share it.
// The shared read is detached from every caller, so a caller that gives up only
// abandons its own wait.
func (r *resolver) Resolve(ctx context.Context, gatewayToken string) (*Result, error) {
	token := strings.TrimSpace(gatewayToken)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway token is required").
			WithDetails(map[string]any{"step": StepResolvePayment})
	}

	bearer := ""
	if creds := r.creds.Credentials(ctx); strings.TrimSpace(creds.AuthToken) != "" {
		bearer = strings.TrimSpace(creds.AuthToken)
	}

	ch := r.group.DoChan(bearer+"|"+token, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.lookup.PaymentReturn(lookupCtx, bearer, token)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentLookup, ctx.Err(), "payment status lookup abandoned").
			WithDetails(map[string]any{"step": StepResolvePayment})
	case res = <-ch:
	}

	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeMalformedResponse) {
			return nil, err
		}
		msg := backend.BackendMessage(err)
		if msg == "" {
			msg = "payment status lookup failed"
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentLookup, err, msg).
			WithDetails(map[string]any{"step": StepResolvePayment})
	}

	ret := v.(*backend.PaymentReturn)
	result := &Result{
		OrderID:       ret.OrderID,
		OrderStatus:   ret.OrderStatus,
		GatewayToken:  token,
		PaymentStatus: enums.ClassifyPaymentStatus(ret.PaymentStatus),
		RawStatus:     ret.PaymentStatus,
		Timestamp:     ret.TransactionDate,
	}
	if ret.Amount.Valid {
		amount := ret.Amount.Decimal
		result.Amount = &amount
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = r.now().UTC()
	}

	r.metrics.IncClassification(result.PaymentStatus.String())
	if !shared {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"order_id":       result.OrderID,
			"payment_status": result.PaymentStatus,
			"raw_status":     result.RawStatus,
		})
		r.logg.Info(logCtx, "checkout.payment.resolved")
	}
	return result, nil
}

package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront/api/middleware"
	"github.com/angelmondragon/storefront/api/responses"
	"github.com/angelmondragon/storefront/internal/cart"
	"github.com/angelmondragon/storefront/internal/checkout"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/internal/payments"
	"github.com/angelmondragon/storefront/internal/registry"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
)

type stubOrchestrator struct {
	ref *orders.Reference
	err error
}

func (s stubOrchestrator) Commit(context.Context, cart.Snapshot) (*orders.Reference, error) {
	return s.ref, s.err
}

type stubResolver struct {
	status string
}

func (s stubResolver) Resolve(_ context.Context, token string) (*payments.Result, error) {
	return &payments.Result{
		OrderID:       77,
		GatewayToken:  token,
		PaymentStatus: enums.ClassifyPaymentStatus(s.status),
		RawStatus:     s.status,
	}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
}

func testSession(t *testing.T, orch orders.Orchestrator, status string) *registry.Session {
	t.Helper()
	reg, err := registry.New(registry.Params{
		Logger:  testLogger(),
		Flow:    checkout.Dependencies{Orchestrator: orch, Resolver: stubResolver{status: status}},
		IdleTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	s, err := reg.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func okOrchestrator() stubOrchestrator {
	return stubOrchestrator{ref: &orders.Reference{OrderID: 77, RedirectURL: "https://gateway.example/pay?token_ws=abc"}}
}

func withSession(req *http.Request, s *registry.Session) *http.Request {
	return req.WithContext(middleware.WithSession(req.Context(), s))
}

func fillCart(t *testing.T, s *registry.Session) {
	t.Helper()
	if _, err := s.Cart.AddOrIncrement(cart.Product{ID: 1, Name: "Tea", UnitPrice: decimal.NewFromInt(2500)}, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func decodeOutcome(t *testing.T, resp *httptest.ResponseRecorder) checkout.Outcome {
	t.Helper()
	var body struct {
		Data checkout.Outcome `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Data
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) responses.APIError {
	t.Helper()
	var body responses.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Error
}

func TestCheckoutCommitReturnsRedirect(t *testing.T) {
	t.Parallel()

	s := testSession(t, okOrchestrator(), "AUTHORIZED")
	fillCart(t, s)

	resp := httptest.NewRecorder()
	CheckoutCommit(testLogger()).ServeHTTP(resp, withSession(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), s))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	out := decodeOutcome(t, resp)
	if out.State != enums.CheckoutStateRedirectedToGateway || out.OrderID != 77 || out.RedirectURL == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestCheckoutCommitFailureUsesErrorEnvelope(t *testing.T) {
	t.Parallel()

	orch := stubOrchestrator{err: pkgerrors.New(pkgerrors.CodePaymentInitiation, "gateway down").
		WithDetails(map[string]any{"step": orders.StepInitiatePayment, "order_id": int64(77)})}
	s := testSession(t, orch, "AUTHORIZED")
	fillCart(t, s)

	resp := httptest.NewRecorder()
	CheckoutCommit(testLogger()).ServeHTTP(resp, withSession(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), s))

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
	apiErr := decodeError(t, resp)
	if apiErr.Code != string(pkgerrors.CodePaymentInitiation) {
		t.Fatalf("unexpected code %s", apiErr.Code)
	}
	details, _ := apiErr.Details.(map[string]any)
	if details["state"] != string(enums.CheckoutStatePartialFailure) {
		t.Fatalf("expected partial failure state, got %v", details)
	}
	if details["order_id"] != float64(77) {
		t.Fatalf("order id must reach the shopper, got %v", details["order_id"])
	}
}

func TestCheckoutCommitRejectsWhileRedirected(t *testing.T) {
	t.Parallel()

	s := testSession(t, okOrchestrator(), "AUTHORIZED")
	fillCart(t, s)
	handler := CheckoutCommit(testLogger())
	handler.ServeHTTP(httptest.NewRecorder(), withSession(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), s))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, withSession(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), s))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if code := decodeError(t, resp).Code; code != string(pkgerrors.CodeCommitInProgress) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestCheckoutReturnResolvesPayment(t *testing.T) {
	t.Parallel()

	s := testSession(t, okOrchestrator(), "AUTHORIZED")
	fillCart(t, s)
	CheckoutCommit(testLogger()).ServeHTTP(httptest.NewRecorder(), withSession(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), s))

	resp := httptest.NewRecorder()
	req := withSession(httptest.NewRequest(http.MethodGet, "/api/v1/checkout/return?token_ws=abc", nil), s)
	CheckoutReturn(testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	out := decodeOutcome(t, resp)
	if out.State != enums.CheckoutStateSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if !s.Cart.Snapshot().IsEmpty() {
		t.Fatalf("cart must be cleared after a confirmed payment")
	}
}

func TestCheckoutReturnRejectedPayment(t *testing.T) {
	t.Parallel()

	s := testSession(t, okOrchestrator(), "REJECTED")
	fillCart(t, s)
	CheckoutCommit(testLogger()).ServeHTTP(httptest.NewRecorder(), withSession(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), s))

	resp := httptest.NewRecorder()
	CheckoutReturn(testLogger()).ServeHTTP(resp, withSession(httptest.NewRequest(http.MethodGet, "/api/v1/checkout/return?token_ws=abc", nil), s))

	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d", resp.Code)
	}
	if code := decodeError(t, resp).Code; code != string(pkgerrors.CodePaymentRejected) {
		t.Fatalf("unexpected code %s", code)
	}
	if s.Cart.ItemCount() != 3 {
		t.Fatalf("cart must survive a rejected payment")
	}
}

func TestCheckoutReturnRequiresToken(t *testing.T) {
	t.Parallel()

	s := testSession(t, okOrchestrator(), "AUTHORIZED")
	resp := httptest.NewRecorder()
	CheckoutReturn(testLogger()).ServeHTTP(resp, withSession(httptest.NewRequest(http.MethodGet, "/api/v1/checkout/return", nil), s))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if s.Outcome().State != enums.CheckoutStateIdle {
		t.Fatalf("missing token must not move the flow, got %s", s.Outcome().State)
	}
}

func TestCheckoutStatusAndAbandon(t *testing.T) {
	t.Parallel()

	s := testSession(t, okOrchestrator(), "AUTHORIZED")
	fillCart(t, s)
	CheckoutCommit(testLogger()).ServeHTTP(httptest.NewRecorder(), withSession(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), s))

	status := httptest.NewRecorder()
	CheckoutStatus(testLogger()).ServeHTTP(status, withSession(httptest.NewRequest(http.MethodGet, "/api/v1/checkout", nil), s))
	if out := decodeOutcome(t, status); out.State != enums.CheckoutStateRedirectedToGateway {
		t.Fatalf("unexpected status %+v", out)
	}

	abandon := httptest.NewRecorder()
	CheckoutAbandon(testLogger()).ServeHTTP(abandon, withSession(httptest.NewRequest(http.MethodDelete, "/api/v1/checkout", nil), s))
	if abandon.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", abandon.Code)
	}
	if out := decodeOutcome(t, abandon); out.State != enums.CheckoutStateIdle {
		t.Fatalf("expected idle after abandon, got %+v", out)
	}
}

func TestHandlersRequireSession(t *testing.T) {
	t.Parallel()

	resp := httptest.NewRecorder()
	CheckoutStatus(testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/checkout", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

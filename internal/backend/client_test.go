package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/storefront/internal/cart"
	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.BackendConfig{BaseURL: srv.URL + "/api/", RequestTimeout: time.Second}, opts...)
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(config.BackendConfig{BaseURL: "  "})
	require.ErrorIs(t, err, errBaseURLRequired)
}

func TestCreateOrderFromCartRequest(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders/create-from-cart", r.URL.Path)
		assert.Equal(t, "u-1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "fp-123", r.Header.Get(IdempotencyHeader))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		items, ok := payload["items"].([]any)
		require.True(t, ok)
		assert.Len(t, items, 1)

		_, _ = w.Write([]byte(`{"ok":true,"data":{"order":{"id":77}}}`))
	})

	res, err := client.CreateOrderFromCart(context.Background(), "tok", "u-1", "fp-123", CreateOrderRequest{
		Items:    []cart.Item{{ProductID: 1, Name: "a", UnitPrice: decimal.NewFromInt(1000), Quantity: 2}},
		Subtotal: decimal.NewFromInt(2000),
		Amount:   decimal.NewFromInt(2000),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.NotNil(t, res.OrderID)
	assert.Equal(t, int64(77), *res.OrderID)
}

func TestCreateOrderFromCartMissingID(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"data":{"order":{}}}`))
	})

	res, err := client.CreateOrderFromCart(context.Background(), "tok", "u-1", "", CreateOrderRequest{})
	require.NoError(t, err)
	assert.Nil(t, res.OrderID)
}

func TestCreateOrderFromCartNotOK(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"message":"stock changed"}`))
	})

	res, err := client.CreateOrderFromCart(context.Background(), "tok", "u-1", "", CreateOrderRequest{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "stock changed", res.Message)
}

func TestCreateOrderFromCartWithoutOKFlag(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"order":{"id":77}}}`))
	})

	res, err := client.CreateOrderFromCart(context.Background(), "tok", "u-1", "", CreateOrderRequest{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.NotNil(t, res.OrderID)
	assert.Equal(t, int64(77), *res.OrderID)
}

func TestNonSuccessStatusCarriesBackendMessage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"order already exists"}`))
	})

	_, err := client.CreateOrderFromCart(context.Background(), "tok", "u-1", "", CreateOrderRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "order already exists", BackendMessage(err))
}

func TestInitiatePaymentRedirectVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		body     string
		expected string
	}{
		{name: "explicit redirect", body: `{"data":{"redirect_url":"https://pay.example/r/1"}}`, expected: "https://pay.example/r/1"},
		{name: "gateway payload", body: `{"data":{"url":"https://webpay.example/init","token":"abc"}}`, expected: "https://webpay.example/init?token_ws=abc"},
		{name: "missing target", body: `{"data":{}}`, expected: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/orders/pay", r.URL.Path)
				assert.Equal(t, "77", r.URL.Query().Get("order_id"))
				assert.Equal(t, "u-1", r.URL.Query().Get("user_id"))
				_, _ = w.Write([]byte(tc.body))
			})
			res, err := client.InitiatePayment(context.Background(), "tok", "u-1", 77)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res.RedirectURL)
		})
	}
}

func TestPaymentReturnDecodesStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "abc", r.URL.Query().Get("token_ws"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"order":{"id":"77","status":"paid"},"payment_status":"AUTHORIZED","amount":2500,"transaction_date":"2024-05-01T10:00:00Z"}}`))
	})

	res, err := client.PaymentReturn(context.Background(), "", "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(77), res.OrderID)
	assert.Equal(t, enums.OrderStatusPaid, res.OrderStatus)
	assert.Equal(t, "AUTHORIZED", res.PaymentStatus)
	require.True(t, res.Amount.Valid)
	assert.True(t, res.Amount.Decimal.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, 2024, res.TransactionDate.Year())
}

func TestPaymentReturnOrderStatusVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		order  string
		id     int64
		status enums.OrderStatus
	}{
		{name: "bare id", order: `77`, id: 77},
		{name: "unknown status", order: `{"id":77,"status":"shipped"}`, id: 77},
		{name: "alias", order: `{"id":"12","status":"Canceled"}`, id: 12, status: enums.OrderStatusCancelled},
		{name: "status without id", order: `{"status":"pending"}`, status: enums.OrderStatusPending},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"data":{"order":` + tc.order + `,"payment_status":"AUTHORIZED"}}`))
			})
			res, err := client.PaymentReturn(context.Background(), "", "abc")
			require.NoError(t, err)
			assert.Equal(t, tc.id, res.OrderID)
			assert.Equal(t, tc.status, res.OrderStatus)
		})
	}
}

func TestMalformedJSONIsTyped(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := client.PaymentReturn(context.Background(), "", "abc")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeMalformedResponse))
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, WithBreaker(config.BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute}))

	for i := 0; i < 2; i++ {
		_, err := client.PaymentReturn(context.Background(), "", "abc")
		require.Error(t, err)
	}
	_, err := client.PaymentReturn(context.Background(), "", "abc")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, WithBreaker(config.BreakerConfig{ConsecutiveFailures: 1, Timeout: time.Minute}))

	for i := 0; i < 3; i++ {
		_, err := client.PaymentReturn(context.Background(), "", "abc")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestBackendCallsAreObserved(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.NewCheckoutMetrics(reg)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"payment_status":"PENDING"}}`))
	}, WithMetrics(m))

	_, err := client.PaymentReturn(context.Background(), "", "abc")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "storefront_backend_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExtractMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "top", extractMessage([]byte(`{"message":"top"}`)))
	assert.Equal(t, "nested", extractMessage([]byte(`{"error":{"message":"nested"}}`)))
	assert.Equal(t, "plain", extractMessage([]byte(`{"error":"plain"}`)))
	assert.Equal(t, "gateway down", extractMessage([]byte(" gateway down \n")))
	assert.True(t, strings.HasPrefix(redirectTarget("", "https://x.example/p?a=1", "t"), "https://x.example/p?a=1&token_ws="))
}

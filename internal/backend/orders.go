package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront/internal/cart"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/shopspring/decimal"
)

// IdempotencyHeader carries the cart fingerprint on order creation.
const IdempotencyHeader = "Idempotency-Key"

// CreateOrderRequest is the body sent to create-from-cart.
type CreateOrderRequest struct {
	Items    []cart.Item     `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Amount   decimal.Decimal `json:"amount"`
}

// CreateOrderResult is the decoded create-from-cart answer.
// OrderID is nil when the backend omitted data.order.id.
type CreateOrderResult struct {
	OK      bool
	OrderID *int64
	Message string
}

// PaymentInitiation carries the gateway redirect target.
type PaymentInitiation struct {
	RedirectURL string
}

// PaymentReturn is the authoritative status behind a gateway token.
// OrderStatus is empty when the backend sent none or an unknown value.
type PaymentReturn struct {
	OrderID         int64
	OrderStatus     enums.OrderStatus
	PaymentStatus   string
	Amount          decimal.NullDecimal
	TransactionDate time.Time
}

// CreateOrderFromCart asks the backend to persist an order for userID.
func (c *Client) CreateOrderFromCart(ctx context.Context, bearer, userID, idempotencyKey string, req CreateOrderRequest) (*CreateOrderResult, error) {
	outbound := call{
		operation: OperationCreateOrder,
		method:    http.MethodPost,
		path:      createOrderPath,
		query:     url.Values{"user_id": []string{userID}},
		bearer:    bearer,
		body:      req,
	}
	if idempotencyKey != "" {
		outbound.headers = map[string]string{IdempotencyHeader: idempotencyKey}
	}
	env, err := c.do(ctx, outbound)
	if err != nil {
		return nil, err
	}

	// A body without "ok" counts as accepted; the order id decides from there.
	result := &CreateOrderResult{OK: env.OK == nil || *env.OK, Message: env.Message}
	var data struct {
		Order struct {
			ID json.RawMessage `json:"id"`
		} `json:"order"`
	}
	if len(env.Data) > 0 && decodeObject(env.Data, &data) == nil {
		if id, ok := parseID(data.Order.ID); ok {
			result.OrderID = &id
		}
	}
	return result, nil
}

// InitiatePayment requests a gateway redirect for orderID.
func (c *Client) InitiatePayment(ctx context.Context, bearer, userID string, orderID int64) (*PaymentInitiation, error) {
	env, err := c.do(ctx, call{
		operation: OperationPay,
		method:    http.MethodPost,
		path:      payOrderPath,
		query: url.Values{
			"user_id":  []string{userID},
			"order_id": []string{strconv.FormatInt(orderID, 10)},
		},
		bearer: bearer,
	})
	if err != nil {
		return nil, err
	}
	if env.OK != nil && !*env.OK {
		return nil, &APIError{Operation: OperationPay, StatusCode: http.StatusOK, Message: env.Message}
	}

	var data struct {
		RedirectURL string `json:"redirect_url"`
		URL         string `json:"url"`
		Token       string `json:"token"`
	}
	if len(env.Data) > 0 {
		if err := decodeObject(env.Data, &data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedResponse, err, "decode payment initiation").
				WithDetails(map[string]any{"step": OperationPay, "order_id": orderID})
		}
	}
	return &PaymentInitiation{RedirectURL: redirectTarget(data.RedirectURL, data.URL, data.Token)}, nil
}

// PaymentReturn looks up the outcome behind a gateway token. bearer may be empty.
func (c *Client) PaymentReturn(ctx context.Context, bearer, gatewayToken string) (*PaymentReturn, error) {
	env, err := c.do(ctx, call{
		operation: OperationPaymentReturn,
		method:    http.MethodGet,
		path:      paymentReturnPath,
		query:     url.Values{"token_ws": []string{gatewayToken}},
		bearer:    bearer,
	})
	if err != nil {
		return nil, err
	}

	var data struct {
		Order           json.RawMessage     `json:"order"`
		PaymentStatus   string              `json:"payment_status"`
		Amount          decimal.NullDecimal `json:"amount"`
		TransactionDate string              `json:"transaction_date"`
	}
	if len(env.Data) > 0 {
		if err := decodeObject(env.Data, &data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedResponse, err, "decode payment return").
				WithDetails(map[string]any{"step": OperationPaymentReturn})
		}
	}

	orderID, orderStatus := orderFrom(data.Order)
	out := &PaymentReturn{
		OrderID:       orderID,
		OrderStatus:   orderStatus,
		PaymentStatus: data.PaymentStatus,
		Amount:        data.Amount,
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(data.TransactionDate)); err == nil {
		out.TransactionDate = ts
	}
	return out, nil
}

// redirectTarget prefers an explicit redirect_url, else builds url?token_ws=token.
func redirectTarget(redirectURL, gatewayURL, token string) string {
	if trimmed := strings.TrimSpace(redirectURL); trimmed != "" {
		return trimmed
	}
	gatewayURL = strings.TrimSpace(gatewayURL)
	token = strings.TrimSpace(token)
	if gatewayURL == "" || token == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(gatewayURL, "?") {
		sep = "&"
	}
	return gatewayURL + sep + "token_ws=" + url.QueryEscape(token)
}

// orderFrom accepts either an order object with an id and status or a bare id.
func orderFrom(raw json.RawMessage) (int64, enums.OrderStatus) {
	if id, ok := parseID(raw); ok {
		return id, ""
	}
	var obj struct {
		ID     json.RawMessage `json:"id"`
		Status string          `json:"status"`
	}
	if decodeObject(raw, &obj) != nil {
		return 0, ""
	}
	var status enums.OrderStatus
	if strings.TrimSpace(obj.Status) != "" {
		if parsed, err := enums.ParseOrderStatus(obj.Status); err == nil {
			status = parsed
		}
	}
	id, _ := parseID(obj.ID)
	return id, status
}

// parseID accepts a JSON number or a numeric string.
func parseID(raw json.RawMessage) (int64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, false
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, false
		}
		num = json.Number(strings.TrimSpace(s))
	}
	id, err := num.Int64()
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeObject(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

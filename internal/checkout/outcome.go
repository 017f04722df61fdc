package checkout

import (
	"fmt"
	"time"

	"github.com/angelmondragon/storefront/internal/payments"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

// Outcome is the user-facing view of a flow.
type Outcome struct {
	State       enums.CheckoutState `json:"state"`
	Code        pkgerrors.Code      `json:"code,omitempty"`
	OrderID     int64               `json:"order_id,omitempty"`
	OrderStatus enums.OrderStatus   `json:"order_status,omitempty"`
	RedirectURL string              `json:"redirect_url,omitempty"`
	Step        string              `json:"step,omitempty"`
	Message     string              `json:"message,omitempty"`
	Payment     *payments.Result    `json:"payment,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`

	cause error
}

// Failed reports whether the flow ended in a failure state.
func (o Outcome) Failed() bool {
	return o.State == enums.CheckoutStateFailed || o.State == enums.CheckoutStatePartialFailure
}

// Err renders a failed outcome as a typed error carrying state, step and order id.
func (o Outcome) Err() error {
	if !o.Failed() {
		return nil
	}
	details := map[string]any{"state": o.State}
	if o.Step != "" {
		details["step"] = o.Step
	}
	if o.OrderID > 0 {
		details["order_id"] = o.OrderID
	}
	return pkgerrors.Wrap(o.Code, o.cause, o.Message).WithDetails(details)
}

// Cause returns the underlying error behind a failed outcome.
func (o Outcome) Cause() error {
	return o.cause
}

func orderRef(orderID int64) string {
	if orderID > 0 {
		return fmt.Sprintf("order #%d", orderID)
	}
	return "your order"
}

// userMessage explains a failure code to the shopper, naming the order when one exists.
func userMessage(code pkgerrors.Code, orderID int64, backendMessage string) string {
	switch code {
	case pkgerrors.CodeUnauthorized:
		return "Please sign in to check out."
	case pkgerrors.CodeEmptyCart:
		return "Your cart is empty."
	case pkgerrors.CodeOrderCreation:
		if backendMessage != "" {
			return "We could not create your order: " + backendMessage
		}
		return "We could not create your order. Please try again."
	case pkgerrors.CodeMalformedResponse:
		return "The order service returned an unexpected response. Please try again."
	case pkgerrors.CodePaymentInitiation:
		return fmt.Sprintf("We created %s, but payment could not be started. Retry payment for this order instead of purchasing again.", orderRef(orderID))
	case pkgerrors.CodePaymentRejected:
		return fmt.Sprintf("Payment for %s was rejected.", orderRef(orderID))
	case pkgerrors.CodePaymentPending:
		return fmt.Sprintf("Payment for %s is still pending. Please retry later.", orderRef(orderID))
	case pkgerrors.CodePaymentIndeterminate:
		if orderID > 0 {
			return fmt.Sprintf("We could not confirm the payment for order #%d. Contact support with this order number before paying again.", orderID)
		}
		return "We could not confirm your payment. Contact support before paying again."
	default:
		return fmt.Sprintf("Checkout failed for %s.", orderRef(orderID))
	}
}

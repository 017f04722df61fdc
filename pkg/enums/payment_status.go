package enums

import "strings"

// PaymentStatus is the storefront's classification of a gateway outcome.
type PaymentStatus string

const (
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusRejected   PaymentStatus = "rejected"
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusUnknown    PaymentStatus = "unknown"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusAuthorized,
	PaymentStatusRejected,
	PaymentStatusPending,
	PaymentStatusUnknown,
}

// backendPaymentStatuses maps upper-cased backend/gateway strings onto a classification.
var backendPaymentStatuses = map[string]PaymentStatus{
	"AUTHORIZED":  PaymentStatusAuthorized,
	"APPROVED":    PaymentStatusAuthorized,
	"PAID":        PaymentStatusAuthorized,
	"CAPTURED":    PaymentStatusAuthorized,
	"REJECTED":    PaymentStatusRejected,
	"FAILED":      PaymentStatusRejected,
	"DECLINED":    PaymentStatusRejected,
	"REVERSED":    PaymentStatusRejected,
	"NULLIFIED":   PaymentStatusRejected,
	"PENDING":     PaymentStatusPending,
	"INITIALIZED": PaymentStatusPending,
	"PROCESSING":  PaymentStatusPending,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ClassifyPaymentStatus maps a raw backend status onto a PaymentStatus.
// Anything unrecognized, including the empty string, is PaymentStatusUnknown.
func ClassifyPaymentStatus(raw string) PaymentStatus {
	if status, ok := backendPaymentStatuses[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return status
	}
	return PaymentStatusUnknown
}

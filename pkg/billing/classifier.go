package billing

import (
	"strings"

	"github.com/stripe/stripe-go/v76"
)

// RawStatus is what the processor reports for a checkout session
type RawStatus struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
}

// Classification is the intermediate result of reading one RawStatus
type Classification int

const (
	ClassPending Classification = iota
	ClassPaid
	ClassFailed
	ClassExpired
)

func (c Classification) String() string {
	switch c {
	case ClassPaid:
		return "paid"
	case ClassFailed:
		return "failed"
	case ClassExpired:
		return "expired"
	default:
		return "pending"
	}
}

// Stripe has no "failed" payment status on checkout sessions, but the
// status endpoint may report one for sessions whose payment intent was declined.
const paymentStatusFailed = "failed"

var (
	paymentStatusPaid = string(stripe.CheckoutSessionPaymentStatusPaid)
	sessionExpired    = string(stripe.CheckoutSessionStatusExpired)
)

// Classify maps a raw processor status to a classification.
// Rules apply in order and anything unrecognized stays pending.
func Classify(raw *RawStatus) Classification {
	if raw == nil {
		return ClassPending
	}

	status := normalize(raw.Status)
	paymentStatus := normalize(raw.PaymentStatus)

	switch {
	case paymentStatus == paymentStatusPaid:
		return ClassPaid
	case status == sessionExpired:
		return ClassExpired
	case paymentStatus == paymentStatusFailed:
		return ClassFailed
	default:
		return ClassPending
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

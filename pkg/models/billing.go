package models

import "time"

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse wraps a plain acknowledgement
type SuccessResponse struct {
	Message string `json:"message"`
}

// CheckoutRequest represents a request to start a premium checkout
type CheckoutRequest struct {
	PackageID string `json:"package_id" validate:"required,max=64"`
}

// RetryRequest restarts checkout from a failed confirmation. An empty
// PackageID reuses the package of the pending intent.
type RetryRequest struct {
	PackageID string `json:"package_id,omitempty" validate:"omitempty,max=64"`
}

// CheckoutResponse represents a created checkout session
type CheckoutResponse struct {
	URL           string `json:"url"`
	SessionID     string `json:"session_id"`
	PackageID     string `json:"package_id"`
	DisplayAmount string `json:"display_amount"`
}

// PaymentStatusResponse is the classified state of a checkout session
type PaymentStatusResponse struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
	Outcome       string `json:"outcome"`
	Terminal      bool   `json:"terminal"`
}

// PendingIntentResponse describes the checkout recorded for the browser session
type PendingIntentResponse struct {
	SessionID     string    `json:"session_id"`
	PackageID     string    `json:"package_id"`
	DisplayAmount string    `json:"display_amount"`
	InitiatedAt   time.Time `json:"initiated_at"`
}

// EntitlementResponse is the caller's premium state
type EntitlementResponse struct {
	IsPremium    bool       `json:"is_premium"`
	PremiumSince *time.Time `json:"premium_since,omitempty"`
	PackageID    string     `json:"package_id,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PackageInfo describes one purchasable premium package
type PackageInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	DisplayAmount string `json:"display_amount"`
	Description   string `json:"description"`
}

// PackagesResponse lists the purchasable packages
type PackagesResponse struct {
	Packages []PackageInfo `json:"packages"`
}

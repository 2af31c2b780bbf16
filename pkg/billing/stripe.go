package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
)

// CheckoutSession is a hosted checkout created at the processor.
// It is immutable; restarting checkout creates a new one.
type CheckoutSession struct {
	SessionID string    `json:"session_id"`
	PackageID string    `json:"package_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionRequest describes the one-off payment a checkout session collects
type SessionRequest struct {
	Package       Package
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// Processor creates and reads hosted checkout sessions
type Processor interface {
	CreateSession(ctx context.Context, req SessionRequest) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*RawStatus, error)
}

// StripeConfig holds Stripe configuration
type StripeConfig struct {
	SecretKey string
}

// StripeProcessor talks to Stripe Checkout
type StripeProcessor struct{}

// NewStripeProcessor creates a processor using the given API key
func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	// Set Stripe API key
	stripe.Key = cfg.SecretKey

	return &StripeProcessor{}
}

// CreateSession creates a payment-mode checkout session for a single package
func (p *StripeProcessor) CreateSession(ctx context.Context, req SessionRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Package.Currency),
					UnitAmount: stripe.Int64(req.Package.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.Package.Name),
						Description: stripe.String(req.Package.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutSession{
		SessionID: sess.ID,
		PackageID: req.Package.ID,
		URL:       sess.URL,
		CreatedAt: time.Unix(sess.Created, 0).UTC(),
		ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

// RetrieveSession reads the current status of a checkout session
func (p *StripeProcessor) RetrieveSession(ctx context.Context, sessionID string) (*RawStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := checkoutsession.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	return &RawStatus{
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
	}, nil
}

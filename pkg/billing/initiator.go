package billing

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudcareercoach/api/pkg/domain"
	"github.com/cloudcareercoach/api/pkg/intent"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/payments"
)

// Checkout results reported to the CheckoutRecorder
const (
	CheckoutCreated        = "created"
	CheckoutInvalidPackage = "invalid_package"
	CheckoutProcessorError = "processor_error"
	CheckoutStoreError     = "store_error"
)

// TransactionRecorder persists the reconciliation record of a checkout
type TransactionRecorder interface {
	Create(ctx context.Context, tx *payments.Transaction) error
}

// IntentWriter stores the pending intent of a browser session
type IntentWriter interface {
	Put(ctx context.Context, scope string, in intent.PendingIntent) error
}

// CheckoutRecorder receives checkout telemetry. *metrics.Metrics implements it.
type CheckoutRecorder interface {
	RecordCheckout(packageID, result string)
}

type nopCheckoutRecorder struct{}

func (nopCheckoutRecorder) RecordCheckout(string, string) {}

// InitiateRequest asks for a checkout of one package
type InitiateRequest struct {
	UserID         int
	UserEmail      string
	BrowserSession string
	PackageID      string
	Origin         string
}

// InitiateResult is returned once the checkout is durably recorded
type InitiateResult struct {
	RedirectURL   string `json:"url"`
	SessionID     string `json:"session_id"`
	PackageID     string `json:"package_id"`
	DisplayAmount string `json:"display_amount"`
}

// InitiatorConfig holds the redirect settings for checkout
type InitiatorConfig struct {
	// FrontendURL is used when the request origin is missing or not allowed
	FrontendURL string
	// AllowedOrigins are the origins checkout may redirect back to
	AllowedOrigins []string
	// OfferPath is the premium offer page, e.g. "/premium"
	OfferPath string
}

// Initiator starts hosted checkouts
type Initiator struct {
	processor    Processor
	transactions TransactionRecorder
	intents      IntentWriter
	config       InitiatorConfig
	logger       logger.Logger
	recorder     CheckoutRecorder
	now          func() time.Time
}

// NewInitiator creates a checkout initiator
func NewInitiator(processor Processor, transactions TransactionRecorder, intents IntentWriter, cfg InitiatorConfig, log logger.Logger) *Initiator {
	if log == nil {
		log = logger.Default()
	}
	if cfg.OfferPath == "" {
		cfg.OfferPath = "/premium"
	}
	return &Initiator{
		processor:    processor,
		transactions: transactions,
		intents:      intents,
		config:       cfg,
		logger:       log,
		recorder:     nopCheckoutRecorder{},
		now:          time.Now,
	}
}

// SetRecorder sets the checkout telemetry sink
func (i *Initiator) SetRecorder(r CheckoutRecorder) {
	if r == nil {
		r = nopCheckoutRecorder{}
	}
	i.recorder = r
}

// Initiate creates a checkout session for the requested package, records it
// and stores the pending intent. The redirect URL is only returned after
// both writes succeeded.
func (i *Initiator) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	pkg, err := LookupPackage(req.PackageID)
	if err != nil {
		i.recorder.RecordCheckout(req.PackageID, CheckoutInvalidPackage)
		return nil, err
	}
	if req.UserID <= 0 {
		return nil, domain.NewUnauthorizedError()
	}
	if req.BrowserSession == "" {
		return nil, domain.NewValidationError("browser session is required")
	}

	origin := i.ResolveOrigin(req.Origin)
	offer := origin + i.config.OfferPath

	sess, err := i.processor.CreateSession(ctx, SessionRequest{
		Package:       pkg,
		CustomerEmail: req.UserEmail,
		SuccessURL:    offer + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     offer,
		Metadata: map[string]string{
			"user_id":      strconv.Itoa(req.UserID),
			"user_email":   req.UserEmail,
			"package_id":   pkg.ID,
			"package_name": pkg.Name,
		},
	})
	if err != nil {
		i.recorder.RecordCheckout(pkg.ID, CheckoutProcessorError)
		return nil, err
	}

	err = i.transactions.Create(ctx, &payments.Transaction{
		UserID:    req.UserID,
		SessionID: sess.SessionID,
		PackageID: pkg.ID,
		Amount:    pkg.Amount,
		Currency:  pkg.Currency,
	})
	if err != nil {
		i.recorder.RecordCheckout(pkg.ID, CheckoutStoreError)
		return nil, fmt.Errorf("failed to record checkout: %w", err)
	}

	err = i.intents.Put(ctx, req.BrowserSession, intent.PendingIntent{
		SessionID:     sess.SessionID,
		PackageID:     pkg.ID,
		DisplayAmount: pkg.DisplayAmount(),
		InitiatedAt:   i.now().UTC(),
	})
	if err != nil {
		i.recorder.RecordCheckout(pkg.ID, CheckoutStoreError)
		return nil, fmt.Errorf("failed to store pending intent: %w", err)
	}

	i.recorder.RecordCheckout(pkg.ID, CheckoutCreated)
	i.logger.Info("checkout session created",
		"user_id", req.UserID,
		"package_id", pkg.ID,
		"session_id", MaskSessionID(sess.SessionID),
	)

	return &InitiateResult{
		RedirectURL:   sess.URL,
		SessionID:     sess.SessionID,
		PackageID:     pkg.ID,
		DisplayAmount: pkg.DisplayAmount(),
	}, nil
}

// ResolveOrigin returns origin when it is an allowed http(s) origin and the
// frontend URL otherwise, without a trailing slash
func (i *Initiator) ResolveOrigin(origin string) string {
	fallback := strings.TrimRight(i.config.FrontendURL, "/")
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return fallback
	}

	if f, ok := normalizeOrigin(fallback); ok && f == normalized {
		return normalized
	}
	for _, allowed := range i.config.AllowedOrigins {
		if a, ok := normalizeOrigin(allowed); ok && a == normalized {
			return normalized
		}
	}
	return fallback
}

// normalizeOrigin reduces raw to scheme://host, rejecting anything that
// could redirect off-site
func normalizeOrigin(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	// Only http and https (prevents javascript:, data:, etc.)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	// Reject userinfo (https://attacker@legitimate.com)
	if parsed.User != nil {
		return "", false
	}
	if parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host), true
}

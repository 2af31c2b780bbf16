package billing

import (
	"context"
	"strings"

	"github.com/cloudcareercoach/api/pkg/email"
	"github.com/cloudcareercoach/api/pkg/logger"
)

// EmailSender abstracts email sending for billing notifications.
type EmailSender interface {
	SendEmail(toEmail, toName, subject, htmlBody, plainTextBody string) error
}

// EmailServiceAdapter adapts the email.Service to the EmailSender interface.
type EmailServiceAdapter struct {
	service *email.Service
}

// NewEmailServiceAdapter creates a new adapter wrapping the email service.
func NewEmailServiceAdapter(s *email.Service) *EmailServiceAdapter {
	return &EmailServiceAdapter{service: s}
}

// SendEmail sends an email using the underlying email service.
func (a *EmailServiceAdapter) SendEmail(toEmail, toName, subject, htmlBody, plainTextBody string) error {
	return a.service.SendRawEmail(toEmail, toName, subject, htmlBody, plainTextBody)
}

// PremiumActivation describes a user who just became premium
type PremiumActivation struct {
	UserID    int
	Email     string
	Name      string
	PackageID string
	Outcome   Outcome
}

// PremiumNotifier emails the premium welcome message
type PremiumNotifier struct {
	sender  EmailSender
	baseURL string
	logger  logger.Logger
}

// NewPremiumNotifier creates a notifier linking back to baseURL
func NewPremiumNotifier(sender EmailSender, baseURL string, log logger.Logger) *PremiumNotifier {
	if log == nil {
		log = logger.Default()
	}
	return &PremiumNotifier{sender: sender, baseURL: strings.TrimRight(baseURL, "/"), logger: log}
}

// NotifyPremiumActivated sends the welcome email for a first activation
func (n *PremiumNotifier) NotifyPremiumActivated(ctx context.Context, a PremiumActivation) error {
	if a.Email == "" {
		n.logger.Warn("skipping premium welcome email, user has no email", "user_id", a.UserID)
		return nil
	}

	packageName := "Premium"
	if pkg, err := LookupPackage(a.PackageID); err == nil {
		packageName = pkg.Name
	} else if pkg, ok := PackageForAmount(a.Outcome.Amount, a.Outcome.Currency); ok {
		packageName = pkg.Name
	}

	name := a.Name
	if name == "" {
		name = "there"
	}

	subject, html, plain := buildPremiumWelcomeEmail(
		name,
		packageName,
		a.Outcome.DisplayAmount(),
		MaskSessionID(a.Outcome.SessionID),
		n.baseURL,
	)
	return n.sender.SendEmail(a.Email, a.Name, subject, html, plain)
}

package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEmail struct {
	to, name, subject, html, plain string
}

type fakeSender struct {
	sent []sentEmail
	err  error
}

func (f *fakeSender) SendEmail(toEmail, toName, subject, htmlBody, plainTextBody string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{toEmail, toName, subject, htmlBody, plainTextBody})
	return nil
}

func TestEmailServiceAdapterImplementsInterface(t *testing.T) {
	// Verify at compile time that EmailServiceAdapter implements EmailSender
	var _ EmailSender = &EmailServiceAdapter{}
}

func TestNewEmailServiceAdapter(t *testing.T) {
	adapter := NewEmailServiceAdapter(nil)
	assert.NotNil(t, adapter)
}

func TestBuildPremiumWelcomeEmail(t *testing.T) {
	subject, html, plain := buildPremiumWelcomeEmail("Ana", "Yearly Premium", "$299.99", "cs_test_****c3d4", "https://app.careercoach.dev")

	assert.Contains(t, subject, "Premium")
	assert.Contains(t, html, "Ana")
	assert.Contains(t, html, "Yearly Premium")
	assert.Contains(t, html, "$299.99")
	assert.Contains(t, html, "https://app.careercoach.dev/dashboard")
	assert.Contains(t, plain, "cs_test_****c3d4")
	assert.NotContains(t, plain, "<")
}

func TestPremiumNotifier_SendsWelcome(t *testing.T) {
	sender := &fakeSender{}
	n := NewPremiumNotifier(sender, "https://app.careercoach.dev/", logger.Nop())

	err := n.NotifyPremiumActivated(context.Background(), PremiumActivation{
		UserID:    3,
		Email:     "ana@example.com",
		Name:      "Ana",
		PackageID: PackageMonthly,
		Outcome:   Paid("cs_test_a1b2c3d4", 2999, "usd"),
	})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ana@example.com", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].plain, "Monthly Premium")
	assert.Contains(t, sender.sent[0].plain, "$29.99")
	assert.Contains(t, sender.sent[0].plain, "cs_test_****c3d4")
	assert.NotContains(t, sender.sent[0].plain, "a1b2c3d4")
}

func TestPremiumNotifier_PackageFromAmount(t *testing.T) {
	sender := &fakeSender{}
	n := NewPremiumNotifier(sender, "https://app.careercoach.dev", logger.Nop())

	err := n.NotifyPremiumActivated(context.Background(), PremiumActivation{
		Email:   "ana@example.com",
		Outcome: Paid("cs_test_1", 29999, "USD"),
	})
	require.NoError(t, err)
	assert.Contains(t, sender.sent[0].html, "Yearly Premium")
	assert.Contains(t, sender.sent[0].plain, "Hi there")
}

func TestPremiumNotifier_NoEmailIsSkipped(t *testing.T) {
	sender := &fakeSender{}
	n := NewPremiumNotifier(sender, "https://app.careercoach.dev", logger.Nop())

	err := n.NotifyPremiumActivated(context.Background(), PremiumActivation{UserID: 3, Outcome: Paid("cs_test_1", 2999, "usd")})
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestPremiumNotifier_SenderError(t *testing.T) {
	sender := &fakeSender{err: errors.New("sendgrid down")}
	n := NewPremiumNotifier(sender, "https://app.careercoach.dev", logger.Nop())

	err := n.NotifyPremiumActivated(context.Background(), PremiumActivation{Email: "a@example.com", Outcome: Paid("cs_test_1", 2999, "usd")})
	assert.Error(t, err)
}

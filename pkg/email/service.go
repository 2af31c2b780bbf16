package email

import (
	"fmt"

	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const defaultSendGridHost = "https://api.sendgrid.com"

// Service handles email sending
type Service struct {
	fromEmail    string
	fromName     string
	sendGridKey  string
	sendGridHost string
	useSendGrid  bool
	logger       logger.Logger
}

// NewService creates a new email service
// If sendGridAPIKey is provided, emails will be sent via SendGrid
// Otherwise, emails will be logged (development mode)
func NewService(fromEmail, fromName, sendGridAPIKey string, log logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	useSendGrid := sendGridAPIKey != ""
	if useSendGrid {
		log.Info("email service initialized with SendGrid")
	} else {
		log.Warn("email service in console-only mode, set SENDGRID_API_KEY for production")
	}

	return &Service{
		fromEmail:    fromEmail,
		fromName:     fromName,
		sendGridKey:  sendGridAPIKey,
		sendGridHost: defaultSendGridHost,
		useSendGrid:  useSendGrid,
		logger:       log,
	}
}

// SendRawEmail sends an email with custom subject and body content.
// Uses SendGrid in production, logs in development.
func (s *Service) SendRawEmail(toEmail, toName, subject, htmlBody, plainTextBody string) error {
	if toEmail == "" {
		return fmt.Errorf("recipient email is required")
	}
	if s.useSendGrid {
		return s.sendViaSendGrid(toEmail, toName, subject, htmlBody, plainTextBody)
	}

	s.logger.Info("email not sent (development mode)",
		"subject", subject,
		"to", toEmail,
		"from", s.fromEmail,
	)
	return nil
}

// sendViaSendGrid sends email using SendGrid API
func (s *Service) sendViaSendGrid(toEmail, toName, subject, htmlBody, plainTextBody string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(toName, toEmail)

	message := mail.NewSingleEmail(from, subject, to, plainTextBody, htmlBody)

	client := sendgrid.NewSendClient(s.sendGridKey)
	client.Request.BaseURL = s.sendGridHost + "/v3/mail/send"
	response, err := client.Send(message)
	if err != nil {
		s.logger.Error("sendgrid request failed", "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
		return fmt.Errorf("sendgrid returned error status: %d", response.StatusCode)
	}

	s.logger.Info("email sent", "to", toEmail, "status", response.StatusCode)
	return nil
}

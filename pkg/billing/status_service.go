package billing

import (
	"context"
	"strings"

	"github.com/cloudcareercoach/api/pkg/domain"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/payments"
)

// TransactionStore reads and refreshes checkout records
type TransactionStore interface {
	GetBySession(ctx context.Context, sessionID string) (*payments.Transaction, error)
	UpdateStatus(ctx context.Context, sessionID, sessionStatus, paymentStatus string) error
}

// StatusService answers status queries from the processor and keeps the
// local checkout record in step with it. It is the in-process StatusProvider.
type StatusService struct {
	processor    Processor
	transactions TransactionStore
	logger       logger.Logger
}

// NewStatusService creates a status service
func NewStatusService(processor Processor, transactions TransactionStore, log logger.Logger) *StatusService {
	if log == nil {
		log = logger.Default()
	}
	return &StatusService{processor: processor, transactions: transactions, logger: log}
}

// Authorize returns NOT_FOUND unless userID started the checkout session
func (s *StatusService) Authorize(ctx context.Context, userID int, sessionID string) error {
	_, err := s.owned(ctx, userID, sessionID)
	return err
}

// Check returns the processor status of a session owned by userID
func (s *StatusService) Check(ctx context.Context, userID int, sessionID string) (*RawStatus, error) {
	tx, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	raw, err := s.processor.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, tx, raw)
	return raw, nil
}

// Fetch implements StatusProvider without an ownership check
func (s *StatusService) Fetch(ctx context.Context, sessionID string) (*RawStatus, error) {
	raw, err := s.processor.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tx, err := s.transactions.GetBySession(ctx, sessionID)
	if err != nil {
		if !domain.IsNotFound(err) {
			s.logger.Warn("failed to load checkout record", "session_id", MaskSessionID(sessionID), "error", err)
		}
		return raw, nil
	}
	s.persist(ctx, tx, raw)
	return raw, nil
}

func (s *StatusService) owned(ctx context.Context, userID int, sessionID string) (*payments.Transaction, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.NewValidationError("session id is required")
	}
	tx, err := s.transactions.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Someone else's session looks exactly like an unknown one
	if tx.UserID != userID {
		return nil, domain.NewNotFoundError("payment transaction")
	}
	return tx, nil
}

// persist stores status changes. A failure here does not invalidate the
// answer the processor just gave.
func (s *StatusService) persist(ctx context.Context, tx *payments.Transaction, raw *RawStatus) {
	if raw == nil {
		return
	}
	if tx.SessionStatus == raw.Status && tx.PaymentStatus == raw.PaymentStatus {
		return
	}
	if err := s.transactions.UpdateStatus(ctx, tx.SessionID, raw.Status, raw.PaymentStatus); err != nil {
		s.logger.Warn("failed to persist checkout status",
			"session_id", MaskSessionID(tx.SessionID),
			"error", err,
		)
		return
	}
	tx.SessionStatus = raw.Status
	tx.PaymentStatus = raw.PaymentStatus
}

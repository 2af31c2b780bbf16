// Package payments keeps the reconciliation record written for every checkout.
package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/cloudcareercoach/api/pkg/database"
	"github.com/cloudcareercoach/api/pkg/domain"
	"github.com/google/uuid"
)

// Initial statuses of a freshly created checkout session
const (
	SessionStatusOpen    = "open"
	PaymentStatusPending = "pending"
)

// Transaction is the local record of one checkout session
type Transaction struct {
	ID            string     `json:"id"`
	UserID        int        `json:"user_id"`
	SessionID     string     `json:"session_id"`
	PackageID     string     `json:"package_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	SessionStatus string     `json:"session_status"`
	PaymentStatus string     `json:"payment_status"`
	EntitledAt    *time.Time `json:"entitled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

var columns = []string{
	"id", "user_id", "session_id", "package_id", "amount", "currency",
	"session_status", "payment_status", "entitled_at", "created_at", "updated_at",
}

// Repository reads and writes payment transactions
type Repository struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewRepository creates a repository on the given database
func NewRepository(client *database.Client) *Repository {
	return &Repository{db: client.DB, dialect: client.Dialect, now: time.Now}
}

// Create inserts tx, filling in id, statuses and timestamps when empty
func (r *Repository) Create(ctx context.Context, tx *Transaction) error {
	if tx.SessionID == "" {
		return domain.NewValidationError("session id is required")
	}
	now := r.now().UTC()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.SessionStatus == "" {
		tx.SessionStatus = SessionStatusOpen
	}
	if tx.PaymentStatus == "" {
		tx.PaymentStatus = PaymentStatusPending
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	query, args := entsql.Dialect(r.dialect).
		Insert(database.TransactionsTable).
		Columns(columns...).
		Values(tx.ID, tx.UserID, tx.SessionID, tx.PackageID, tx.Amount, tx.Currency,
			tx.SessionStatus, tx.PaymentStatus, tx.EntitledAt, tx.CreatedAt, tx.UpdatedAt).
		Query()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert payment transaction: %w", err)
	}
	return nil
}

// GetBySession returns the transaction for a checkout session
func (r *Repository) GetBySession(ctx context.Context, sessionID string) (*Transaction, error) {
	query, args := entsql.Dialect(r.dialect).
		Select(columns...).
		From(entsql.Table(database.TransactionsTable)).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("payment transaction")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment transaction: %w", err)
	}
	return tx, nil
}

// UpdateStatus stores the latest processor statuses for a session
func (r *Repository) UpdateStatus(ctx context.Context, sessionID, sessionStatus, paymentStatus string) error {
	query, args := entsql.Dialect(r.dialect).
		Update(database.TransactionsTable).
		Set("session_status", sessionStatus).
		Set("payment_status", paymentStatus).
		Set("updated_at", r.now().UTC()).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payment transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("payment transaction")
	}
	return nil
}

// MarkEntitled records that the session's payment granted premium.
// The first mark wins; later calls leave the timestamp alone.
func (r *Repository) MarkEntitled(ctx context.Context, sessionID string, at time.Time) error {
	query, args := entsql.Dialect(r.dialect).
		Update(database.TransactionsTable).
		Set("entitled_at", at.UTC()).
		Set("updated_at", r.now().UTC()).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.IsNull("entitled_at"),
		)).
		Query()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark payment transaction entitled: %w", err)
	}
	return nil
}

// MarkReconciled records that a reconciliation run looked at the session
// without settling it, which moves it behind checkouts not yet examined.
func (r *Repository) MarkReconciled(ctx context.Context, sessionID string, at time.Time) error {
	query, args := entsql.Dialect(r.dialect).
		Update(database.TransactionsTable).
		Set("reconciled_at", at.UTC()).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark payment transaction reconciled: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("payment transaction")
	}
	return nil
}

// ListUnsettled returns transactions created before cutoff that have not
// granted premium yet and were neither expired nor declined. Checkouts never
// examined come first, oldest first, then the least recently examined.
func (r *Repository) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	selector := entsql.Dialect(r.dialect).
		Select(columns...).
		From(entsql.Table(database.TransactionsTable)).
		Where(entsql.And(
			entsql.IsNull("entitled_at"),
			entsql.NEQ("session_status", "expired"),
			entsql.NEQ("payment_status", "failed"),
			entsql.LT("created_at", cutoff.UTC()),
		)).
		OrderExpr(entsql.Expr("COALESCE(reconciled_at, created_at)")).
		OrderBy("created_at")
	if limit > 0 {
		selector.Limit(limit)
	}
	query, args := selector.Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		tx         Transaction
		entitledAt sql.NullTime
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.SessionID, &tx.PackageID, &tx.Amount, &tx.Currency,
		&tx.SessionStatus, &tx.PaymentStatus, &entitledAt, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if entitledAt.Valid {
		t := entitledAt.Time
		tx.EntitledAt = &t
	}
	return &tx, nil
}

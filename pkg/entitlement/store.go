// Package entitlement records which users hold premium access.
package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/database"
	"github.com/cloudcareercoach/api/pkg/domain"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/payments"
)

// Apply results reported to the Recorder
const (
	ResultActivated = "activated"
	ResultRefreshed = "refreshed"
	ResultFailed    = "failed"
)

// Entitlement is a user's premium flag
type Entitlement struct {
	UserID        int        `json:"user_id"`
	IsPremium     bool       `json:"is_premium"`
	PremiumSince  *time.Time `json:"premium_since"`
	PackageID     string     `json:"package_id,omitempty"`
	LastSessionID string     `json:"-"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// User is the part of the account record the store needs
type User struct {
	ID       int
	Email    string
	FullName string
}

// Notifier is told about first activations only
type Notifier interface {
	NotifyPremiumActivated(ctx context.Context, a billing.PremiumActivation) error
}

// Ledger is the checkout record. It names the package bought in a session
// and is marked once that session granted premium.
type Ledger interface {
	GetBySession(ctx context.Context, sessionID string) (*payments.Transaction, error)
	MarkEntitled(ctx context.Context, sessionID string, at time.Time) error
}

// Recorder receives entitlement telemetry. *metrics.Metrics implements it.
type Recorder interface {
	RecordEntitlementApplied(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEntitlementApplied(string) {}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Store applies paid outcomes to the users table. Applying the same
// outcome any number of times leaves the same state as applying it once.
type Store struct {
	db       *sql.DB
	dialect  string
	logger   logger.Logger
	notifier Notifier
	ledger   Ledger
	recorder Recorder
	now      func() time.Time

	mu    sync.Mutex
	locks map[int]*userLock
}

// NewStore creates an entitlement store
func NewStore(client *database.Client, log logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{
		db:       client.DB,
		dialect:  client.Dialect,
		logger:   log,
		recorder: nopRecorder{},
		now:      time.Now,
		locks:    make(map[int]*userLock),
	}
}

// SetNotifier sets the first-activation notifier
func (s *Store) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetLedger sets the checkout ledger
func (s *Store) SetLedger(l Ledger) {
	s.ledger = l
}

// SetRecorder sets the telemetry sink
func (s *Store) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// EnsureUser inserts the account projection if it is not there yet
func (s *Store) EnsureUser(ctx context.Context, u User) error {
	if u.ID <= 0 {
		return domain.NewValidationError("user id is required")
	}
	query, args := entsql.Dialect(s.dialect).
		Insert(database.UsersTable).
		Columns("id", "email", "full_name", "updated_at").
		Values(u.ID, u.Email, u.FullName, s.now().UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// Apply grants premium for a paid outcome. The first application sets
// premium_since and triggers the welcome notification; later applications
// refresh package_id, last_session_id and updated_at.
func (s *Store) Apply(ctx context.Context, userID int, outcome billing.Outcome) (*Entitlement, error) {
	if !outcome.IsPaid() {
		return nil, domain.NewValidationError(fmt.Sprintf("cannot grant premium for %s outcome", outcome.Kind))
	}
	if userID <= 0 {
		return nil, domain.NewValidationError("user id is required")
	}

	unlock := s.lock(userID)
	defer unlock()

	now := s.now().UTC()
	packageID := s.packageFor(ctx, outcome)

	activated, user, err := s.apply(ctx, userID, outcome.SessionID, packageID, now)
	if err != nil {
		s.recorder.RecordEntitlementApplied(ResultFailed)
		return nil, err
	}

	if activated {
		s.recorder.RecordEntitlementApplied(ResultActivated)
		s.logger.Info("premium activated",
			"user_id", userID,
			"package_id", packageID,
			"session_id", billing.MaskSessionID(outcome.SessionID),
		)
		if s.notifier != nil {
			err := s.notifier.NotifyPremiumActivated(ctx, billing.PremiumActivation{
				UserID:    userID,
				Email:     user.Email,
				Name:      user.FullName,
				PackageID: packageID,
				Outcome:   outcome,
			})
			if err != nil {
				s.logger.Error("failed to send premium welcome", "user_id", userID, "error", err)
			}
		}
	} else {
		s.recorder.RecordEntitlementApplied(ResultRefreshed)
		s.logger.Debug("premium refreshed", "user_id", userID)
	}

	if s.ledger != nil && outcome.SessionID != "" {
		if err := s.ledger.MarkEntitled(ctx, outcome.SessionID, now); err != nil && !domain.IsNotFound(err) {
			s.logger.Warn("failed to mark checkout entitled",
				"session_id", billing.MaskSessionID(outcome.SessionID),
				"error", err,
			)
		}
	}

	return s.Get(ctx, userID)
}

// packageFor names the package bought in the outcome's session. The ledger
// row is authoritative; the paid amount is only a fallback since discounts
// and tax change it.
func (s *Store) packageFor(ctx context.Context, outcome billing.Outcome) string {
	if s.ledger != nil && outcome.SessionID != "" {
		tx, err := s.ledger.GetBySession(ctx, outcome.SessionID)
		switch {
		case err == nil && tx.PackageID != "":
			return tx.PackageID
		case err != nil && !domain.IsNotFound(err):
			s.logger.Warn("failed to read checkout package",
				"session_id", billing.MaskSessionID(outcome.SessionID),
				"error", err,
			)
		}
	}
	if pkg, ok := billing.PackageForAmount(outcome.Amount, outcome.Currency); ok {
		return pkg.ID
	}
	return ""
}

func (s *Store) apply(ctx context.Context, userID int, sessionID, packageID string, now time.Time) (bool, *User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// premium_since is only ever set once per activation
	activate := entsql.Dialect(s.dialect).
		Update(database.UsersTable).
		Set("is_premium", true).
		Set("premium_since", now).
		Set("package_id", packageID).
		Set("last_session_id", sessionID).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", userID),
			entsql.Or(
				entsql.IsNull("premium_since"),
				entsql.EQ("is_premium", false),
			),
		))
	n, err := execAffected(ctx, tx, activate)
	if err != nil {
		return false, nil, fmt.Errorf("failed to activate premium: %w", err)
	}

	activated := n == 1
	if !activated {
		refresh := entsql.Dialect(s.dialect).
			Update(database.UsersTable).
			Set("last_session_id", sessionID).
			Set("updated_at", now).
			Where(entsql.EQ("id", userID))
		if packageID != "" {
			refresh.Set("package_id", packageID)
		}
		n, err := execAffected(ctx, tx, refresh)
		if err != nil {
			return false, nil, fmt.Errorf("failed to refresh premium: %w", err)
		}
		if n == 0 {
			return false, nil, domain.NewNotFoundError("user")
		}
	}

	user := &User{ID: userID}
	query, args := entsql.Dialect(s.dialect).
		Select("email", "full_name").
		From(entsql.Table(database.UsersTable)).
		Where(entsql.EQ("id", userID)).
		Query()
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&user.Email, &user.FullName); err != nil {
		return false, nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit entitlement: %w", err)
	}
	return activated, user, nil
}

// Get returns the user's entitlement
func (s *Store) Get(ctx context.Context, userID int) (*Entitlement, error) {
	query, args := entsql.Dialect(s.dialect).
		Select("id", "is_premium", "premium_since", "package_id", "last_session_id", "updated_at").
		From(entsql.Table(database.UsersTable)).
		Where(entsql.EQ("id", userID)).
		Query()

	var (
		e     Entitlement
		since sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&e.UserID, &e.IsPremium, &since, &e.PackageID, &e.LastSessionID, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("user")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}
	if since.Valid {
		t := since.Time
		e.PremiumSince = &t
	}
	return &e, nil
}

// lock serializes applies for one user and returns the unlock func
func (s *Store) lock(userID int) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

func execAffected(ctx context.Context, tx *sql.Tx, q entsql.Querier) (int64, error) {
	query, args := q.Query()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

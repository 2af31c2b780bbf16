package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/cache"
	"github.com/cloudcareercoach/api/pkg/entitlement"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/payments"
)

// Reconciliation results, used as metric labels
const (
	ReconcileApplied        = "applied"
	ReconcileClosed         = "closed"
	ReconcilePending        = "pending"
	ReconcileTransportError = "transport_error"
	ReconcileApplyFailed    = "apply_failed"
)

const lockKey = "jobs:reconcile:lock"

// UnsettledLister finds checkouts that never granted premium and rotates
// the ones a run could not settle to the back of the queue
type UnsettledLister interface {
	ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]*payments.Transaction, error)
	MarkReconciled(ctx context.Context, sessionID string, at time.Time) error
}

// Applier grants premium for a paid outcome
type Applier interface {
	Apply(ctx context.Context, userID int, outcome billing.Outcome) (*entitlement.Entitlement, error)
}

// Recorder receives reconciliation telemetry. *metrics.Metrics implements it.
type Recorder interface {
	RecordReconciliation(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordReconciliation(string) {}

// ReconcilerConfig tunes a reconciliation run
type ReconcilerConfig struct {
	// MinAge leaves young checkouts to the confirmation surfaces
	MinAge time.Duration
	// BatchSize caps the checkouts examined per run
	BatchSize int
	// LockTTL bounds how long a crashed run blocks other replicas
	LockTTL time.Duration
}

// Summary counts what one run did
type Summary struct {
	Examined int            `json:"examined"`
	Results  map[string]int `json:"results"`
	Skipped  bool           `json:"skipped"`
}

// Reconciler re-queries the processor for checkouts that were paid but
// never confirmed in the browser, and grants premium through the same
// idempotent store the confirmation surfaces use.
type Reconciler struct {
	transactions UnsettledLister
	status       billing.StatusProvider
	entitlements Applier
	lock         *cache.Client
	config       ReconcilerConfig
	recorder     Recorder
	logger       logger.Logger
	now          func() time.Time
}

// NewReconciler creates a reconciler. lock may be nil for single replica setups.
func NewReconciler(
	transactions UnsettledLister,
	status billing.StatusProvider,
	entitlements Applier,
	lock *cache.Client,
	cfg ReconcilerConfig,
	log logger.Logger,
) *Reconciler {
	if log == nil {
		log = logger.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Reconciler{
		transactions: transactions,
		status:       status,
		entitlements: entitlements,
		lock:         lock,
		config:       cfg,
		recorder:     nopRecorder{},
		logger:       log.With("component", "reconciler"),
		now:          time.Now,
	}
}

// SetRecorder sets the telemetry sink
func (r *Reconciler) SetRecorder(rec Recorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	r.recorder = rec
}

// Run examines one batch of unsettled checkouts. A run that finds another
// replica holding the lock returns a skipped summary.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Results: map[string]int{}}

	if r.lock != nil {
		acquired, err := r.lock.SetNX(ctx, lockKey, r.now().UTC().Format(time.RFC3339), r.config.LockTTL)
		if err != nil {
			return summary, fmt.Errorf("failed to acquire reconcile lock: %w", err)
		}
		if !acquired {
			r.logger.Info("reconciliation already running elsewhere, skipping")
			summary.Skipped = true
			return summary, nil
		}
		defer func() {
			// The run ctx may be done already
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := r.lock.Delete(releaseCtx, lockKey); err != nil {
				r.logger.Warn("failed to release reconcile lock", "error", err)
			}
		}()
	}

	cutoff := r.now().Add(-r.config.MinAge)
	txs, err := r.transactions.ListUnsettled(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		return summary, err
	}

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result := r.reconcile(ctx, tx)
		if result != ReconcileApplied {
			if err := r.transactions.MarkReconciled(ctx, tx.SessionID, r.now()); err != nil {
				r.logger.Warn("failed to mark checkout reconciled",
					"session_id", billing.MaskSessionID(tx.SessionID),
					"error", err,
				)
			}
		}
		summary.Examined++
		summary.Results[result]++
		r.recorder.RecordReconciliation(result)
	}

	if summary.Examined > 0 {
		r.logger.Info("reconciliation finished",
			"examined", summary.Examined,
			"applied", summary.Results[ReconcileApplied],
			"closed", summary.Results[ReconcileClosed],
		)
	}
	return summary, nil
}

func (r *Reconciler) reconcile(ctx context.Context, tx *payments.Transaction) string {
	log := r.logger.With("session_id", billing.MaskSessionID(tx.SessionID), "user_id", tx.UserID)

	raw, err := r.status.Fetch(ctx, tx.SessionID)
	if err != nil {
		log.Warn("status query failed", "error", err)
		return ReconcileTransportError
	}

	switch billing.Classify(raw) {
	case billing.ClassPaid:
		outcome := billing.Paid(tx.SessionID, raw.AmountTotal, raw.Currency)
		if _, err := r.entitlements.Apply(ctx, tx.UserID, outcome); err != nil {
			log.Error("failed to apply entitlement", "error", err)
			return ReconcileApplyFailed
		}
		log.Info("entitlement applied by reconciliation")
		return ReconcileApplied
	case billing.ClassFailed, billing.ClassExpired:
		return ReconcileClosed
	default:
		return ReconcilePending
	}
}

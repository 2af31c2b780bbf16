package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/cache"
	"github.com/cloudcareercoach/api/pkg/database"
	"github.com/cloudcareercoach/api/pkg/entitlement"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/payments"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo     *payments.Repository
	store    *entitlement.Store
	statuses map[string]*billing.RawStatus
	mu       sync.Mutex
	fetches  int
	lastUser int
}

func (f *fixture) Fetch(ctx context.Context, sessionID string) (*billing.RawStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	raw, ok := f.statuses[sessionID]
	if !ok {
		return nil, errors.New("connection reset")
	}
	copied := *raw
	return &copied, nil
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	client, err := database.Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	repo := payments.NewRepository(client)
	store := entitlement.NewStore(client, logger.Nop())
	store.SetLedger(repo)
	return &fixture{repo: repo, store: store, statuses: map[string]*billing.RawStatus{}}
}

// seed creates a user and an old checkout for them
func (f *fixture) seed(t *testing.T, sessionID string, createdAt time.Time) int {
	t.Helper()
	ctx := context.Background()
	f.lastUser++
	userID := f.lastUser
	require.NoError(t, f.store.EnsureUser(ctx, entitlement.User{ID: userID, Email: gofakeit.Email(), FullName: gofakeit.Name()}))
	require.NoError(t, f.repo.Create(ctx, &payments.Transaction{
		UserID: userID, SessionID: sessionID, PackageID: "monthly",
		Amount: 2999, Currency: "usd", CreatedAt: createdAt,
	}))
	return userID
}

type reconcileCounts map[string]int

func (c reconcileCounts) RecordReconciliation(result string) { c[result]++ }

func TestReconciler_AppliesPaidCheckouts(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)

	paidUser := f.seed(t, "cs_test_paid", old)
	pendingUser := f.seed(t, "cs_test_open", old)
	f.seed(t, "cs_test_expired", old)
	f.seed(t, "cs_test_flaky", old)
	f.statuses["cs_test_paid"] = &billing.RawStatus{Status: "complete", PaymentStatus: "paid", AmountTotal: 2999, Currency: "usd"}
	f.statuses["cs_test_open"] = &billing.RawStatus{Status: "open", PaymentStatus: "unpaid"}
	f.statuses["cs_test_expired"] = &billing.RawStatus{Status: "expired", PaymentStatus: "unpaid"}

	counts := reconcileCounts{}
	r := NewReconciler(f.repo, f, f.store, nil, ReconcilerConfig{MinAge: 10 * time.Minute}, logger.Nop())
	r.SetRecorder(counts)

	summary, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Examined)
	assert.Equal(t, 1, summary.Results[ReconcileApplied])
	assert.Equal(t, 1, summary.Results[ReconcilePending])
	assert.Equal(t, 1, summary.Results[ReconcileClosed])
	assert.Equal(t, 1, summary.Results[ReconcileTransportError])
	assert.Equal(t, 1, counts[ReconcileApplied])

	ent, err := f.store.Get(ctx, paidUser)
	require.NoError(t, err)
	assert.True(t, ent.IsPremium)

	ent, err = f.store.Get(ctx, pendingUser)
	require.NoError(t, err)
	assert.False(t, ent.IsPremium)

	tx, err := f.repo.GetBySession(ctx, "cs_test_paid")
	require.NoError(t, err)
	assert.NotNil(t, tx.EntitledAt)
}

func TestReconciler_AppliesOnce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.seed(t, "cs_test_paid", time.Now().UTC().Add(-time.Hour))
	f.statuses["cs_test_paid"] = &billing.RawStatus{Status: "complete", PaymentStatus: "paid", AmountTotal: 2999, Currency: "usd"}

	r := NewReconciler(f.repo, f, f.store, nil, ReconcilerConfig{MinAge: time.Minute}, logger.Nop())

	first, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Results[ReconcileApplied])

	second, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Examined, "entitled checkouts are settled")
	assert.Equal(t, 1, f.fetches)
}

func TestReconciler_StuckCheckoutsDoNotStarveNewerOnes(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.seed(t, "cs_test_stuck_1", now.Add(-3*time.Hour))
	f.seed(t, "cs_test_stuck_2", now.Add(-2*time.Hour))
	paidUser := f.seed(t, "cs_test_paid_late", now.Add(-time.Hour))
	f.statuses["cs_test_stuck_1"] = &billing.RawStatus{Status: "complete", PaymentStatus: "unpaid"}
	f.statuses["cs_test_stuck_2"] = &billing.RawStatus{Status: "complete", PaymentStatus: "unpaid"}
	f.statuses["cs_test_paid_late"] = &billing.RawStatus{Status: "complete", PaymentStatus: "paid", AmountTotal: 2999, Currency: "usd"}

	r := NewReconciler(f.repo, f, f.store, nil, ReconcilerConfig{MinAge: 10 * time.Minute, BatchSize: 2}, logger.Nop())

	first, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Results[ReconcilePending])

	second, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Results[ReconcileApplied])

	ent, err := f.store.Get(ctx, paidUser)
	require.NoError(t, err)
	assert.True(t, ent.IsPremium)
}

func TestReconciler_LeavesYoungCheckouts(t *testing.T) {
	f := setupFixture(t)
	f.seed(t, "cs_test_young", time.Now().UTC())
	f.statuses["cs_test_young"] = &billing.RawStatus{Status: "complete", PaymentStatus: "paid", AmountTotal: 2999, Currency: "usd"}

	r := NewReconciler(f.repo, f, f.store, nil, ReconcilerConfig{MinAge: 10 * time.Minute}, logger.Nop())
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Examined)
	assert.Zero(t, f.fetches)
}

func TestReconciler_SkipsWhenLocked(t *testing.T) {
	f := setupFixture(t)
	f.seed(t, "cs_test_paid", time.Now().UTC().Add(-time.Hour))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	lock := cache.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, mr.Set(lockKey, "other-replica"))

	r := NewReconciler(f.repo, f, f.store, lock, ReconcilerConfig{}, logger.Nop())
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Skipped)
	assert.Zero(t, f.fetches)
}

func TestReconciler_ReleasesLock(t *testing.T) {
	f := setupFixture(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	lock := cache.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	r := NewReconciler(f.repo, f, f.store, lock, ReconcilerConfig{}, logger.Nop())
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.Skipped)
	assert.False(t, mr.Exists(lockKey))
}

func TestCronManager_SetupJobs(t *testing.T) {
	f := setupFixture(t)
	r := NewReconciler(f.repo, f, f.store, nil, ReconcilerConfig{}, logger.Nop())
	cm := NewCronManager(r, logger.Nop())

	require.NoError(t, cm.SetupJobs("*/15 * * * *"))
	assert.Equal(t, 1, cm.Entries())
	assert.Same(t, r, cm.GetReconciler())

	assert.Error(t, cm.SetupJobs("every now and then"))

	cm.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cm.Stop(ctx)
}

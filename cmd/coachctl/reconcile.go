package main

import (
	"fmt"
	"time"

	"github.com/cloudcareercoach/api/config"
	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/cache"
	"github.com/cloudcareercoach/api/pkg/database"
	"github.com/cloudcareercoach/api/pkg/entitlement"
	"github.com/cloudcareercoach/api/pkg/jobs"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/payments"
	"github.com/cloudcareercoach/api/pkg/secrets"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over unsettled checkouts",
		Args:  cobra.NoArgs,
		RunE:  runReconcile,
	}

	cmd.Flags().Duration("min-age", 0, "Only examine checkouts older than this (default RECONCILE_MIN_AGE)")
	cmd.Flags().Int("batch", 0, "Maximum checkouts to examine (default RECONCILE_BATCH_SIZE)")
	cmd.Flags().Bool("no-lock", false, "Skip the Redis lock shared with API replicas")

	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	ctx := cmd.Context()

	minAge, _ := cmd.Flags().GetDuration("min-age")
	batch, _ := cmd.Flags().GetInt("batch")
	noLock, _ := cmd.Flags().GetBool("no-lock")
	secretManager, err := secrets.NewManager(secrets.Config{
		Backend:   cfg.SecretsBackend,
		AWSRegion: cfg.AWSRegion,
		SecretID:  cfg.AWSSecretID,
	}, log)
	if err != nil {
		return err
	}
	if err := secrets.ApplyToConfig(ctx, secretManager, cfg); err != nil {
		return err
	}

	if minAge <= 0 {
		minAge = cfg.ReconcileMinAge
	}
	if batch <= 0 {
		batch = cfg.ReconcileBatchSize
	}

	db, err := database.NewPostgresClient(ctx, cfg.DatabaseURL, database.DefaultPoolConfig(), &database.SSLConfig{
		Mode:         cfg.DBSSLMode,
		CertPath:     cfg.DBSSLCertPath,
		KeyPath:      cfg.DBSSLKeyPath,
		RootCertPath: cfg.DBSSLRootCertPath,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	var lock *cache.Client
	if !noLock {
		lock, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer lock.Close()
	}

	repo := payments.NewRepository(db)
	processor := billing.NewStripeProcessor(billing.StripeConfig{SecretKey: cfg.StripeSecretKey})
	store := entitlement.NewStore(db, log)
	store.SetLedger(repo)

	reconciler := jobs.NewReconciler(repo, billing.NewStatusService(processor, repo, log), store, lock, jobs.ReconcilerConfig{
		MinAge:    minAge,
		BatchSize: batch,
	}, log)

	started := time.Now()
	summary, err := reconciler.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(cmd, summary, time.Since(started))
	return nil
}

func printSummary(cmd *cobra.Command, summary jobs.Summary, took time.Duration) {
	out := cmd.OutOrStdout()
	if summary.Skipped {
		fmt.Fprintln(out, "Skipped: another reconciliation holds the lock")
		return
	}
	fmt.Fprintf(out, "Examined: %d (%s)\n", summary.Examined, took.Round(time.Millisecond))
	for _, result := range []string{
		jobs.ReconcileApplied,
		jobs.ReconcileClosed,
		jobs.ReconcilePending,
		jobs.ReconcileTransportError,
		jobs.ReconcileApplyFailed,
	} {
		if n := summary.Results[result]; n > 0 {
			fmt.Fprintf(out, "  %-16s %d\n", result, n)
		}
	}
}

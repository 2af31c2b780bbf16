package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cloudcareercoach/api/config"
	"github.com/cloudcareercoach/api/pkg/auth"
	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/spf13/cobra"
)

// errNotPaid makes the process exit non-zero for anything but a confirmed payment
var errNotPaid = errors.New("payment not confirmed")

func confirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <session_id>",
		Short: "Poll a deployed API until a checkout session settles",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfirm,
	}

	cmd.Flags().String("api-url", "http://localhost:8001", "Base URL of the API")
	cmd.Flags().String("token", "", "Bearer token; minted from JWT_SECRET when empty")
	cmd.Flags().Int("user-id", 0, "User id to mint a token for")
	cmd.Flags().String("email", "", "Email to mint a token for")
	cmd.Flags().Int("attempts", 0, "Maximum status queries (default POLL_BUDGET_PAGE)")
	cmd.Flags().Duration("interval", 0, "Delay between queries (default POLL_INTERVAL)")

	return cmd
}

func runConfirm(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	flags := cmd.Flags()

	apiURL, _ := flags.GetString("api-url")
	token, _ := flags.GetString("token")
	attempts, _ := flags.GetInt("attempts")
	interval, _ := flags.GetDuration("interval")

	if token == "" {
		userID, _ := flags.GetInt("user-id")
		email, _ := flags.GetString("email")
		if userID <= 0 {
			return errors.New("either --token or --user-id is required")
		}
		minted, err := auth.GenerateJWT(userID, email, "", cfg.JWTSecret, 15*time.Minute)
		if err != nil {
			return err
		}
		token = minted
	}
	if attempts <= 0 {
		attempts = cfg.PollBudgetPage
	}
	if interval <= 0 {
		interval = cfg.PollInterval
	}

	poller := billing.NewPoller(billing.NewHTTPStatusProvider(apiURL, token, nil), billing.PollerConfig{
		Interval: interval,
	}, logger.New(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return confirmSession(ctx, cmd, poller, args[0], attempts)
}

func confirmSession(ctx context.Context, cmd *cobra.Command, poller *billing.Poller, sessionID string, attempts int) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Confirming %s (up to %d attempts)\n", billing.MaskSessionID(sessionID), attempts)

	outcome, err := poller.Poll(ctx, sessionID, attempts)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Outcome:   %s\n", outcome.Kind)
	fmt.Fprintf(out, "Attempts:  %d\n", outcome.Attempts)
	switch outcome.Kind {
	case billing.OutcomePaid:
		fmt.Fprintf(out, "Amount:    %s\n", outcome.DisplayAmount())
		return nil
	case billing.OutcomeFailed:
		if outcome.Reason != "" {
			fmt.Fprintf(out, "Reason:    %s\n", outcome.Reason)
		}
	case billing.OutcomeError:
		if outcome.Cause != nil {
			fmt.Fprintf(out, "Cause:     %s\n", outcome.Cause)
		}
	}
	return fmt.Errorf("%w: %s", errNotPaid, outcome.Kind)
}

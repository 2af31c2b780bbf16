package main

import (
	"fmt"

	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/spf13/cobra"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a raw processor status",
		Long: `Show how the confirmation flow reads a status reported by the processor.
Useful when support forwards a session status from the Stripe dashboard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			raw := &billing.RawStatus{}
			raw.Status, _ = flags.GetString("status")
			raw.PaymentStatus, _ = flags.GetString("payment-status")
			raw.AmountTotal, _ = flags.GetInt64("amount")
			raw.Currency, _ = flags.GetString("currency")

			class := billing.Classify(raw)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Classification: %s\n", class)
			if class == billing.ClassPaid {
				fmt.Fprintf(out, "Amount:         %s\n", billing.FormatAmount(raw.AmountTotal, raw.Currency))
				if pkg, ok := billing.PackageForAmount(raw.AmountTotal, raw.Currency); ok {
					fmt.Fprintf(out, "Package:        %s\n", pkg.ID)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("status", "", "Session status (open, complete, expired)")
	cmd.Flags().String("payment-status", "", "Payment status (paid, unpaid, no_payment_required)")
	cmd.Flags().Int64("amount", 0, "Amount total in minor units")
	cmd.Flags().String("currency", "usd", "ISO currency code")

	return cmd
}

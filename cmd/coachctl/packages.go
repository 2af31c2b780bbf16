package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/spf13/cobra"
)

func packagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "List purchasable premium packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(billing.Packages())
			}

			fmt.Fprintln(out, "Packages")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			for _, p := range billing.Packages() {
				fmt.Fprintf(out, "  %-8s %-16s %s\n", p.ID, p.Name, p.DisplayAmount())
			}
			return nil
		},
	}

	cmd.Flags().BoolP("json", "j", false, "Output as JSON")

	return cmd
}

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "senderctl",
		Short:         "Operator tools for sender identity verification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newBootstrapCmd(), newSweepCmd(), newTenantCmd(), newTokenCmd())
	return cmd
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

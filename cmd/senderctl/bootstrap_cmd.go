package main

import (
	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/infrastructure/dynamo"
	"github.com/spf13/cobra"
)

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the DynamoDB tables and indexes if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			dynamo.Bootstrap(cmd.Context(), dynamo.NewClient(cfg), cfg.DynamoTables)
			return writeJSON(map[string]any{"command": "bootstrap", "tables": cfg.DynamoTables})
		},
	}
}

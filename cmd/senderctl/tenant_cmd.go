package main

import (
	"fmt"

	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/infrastructure/dynamo"
	"github.com/spf13/cobra"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Inspect and change tenant subscription tiers",
	}
	cmd.AddCommand(newSetTierCmd(), newGetTierCmd())
	return cmd
}

func tenantRepo() *dynamo.TenantRepo {
	cfg := config.Load()
	return dynamo.NewTenantRepo(dynamo.NewClient(cfg), cfg.DynamoTables.Tenants)
}

func newSetTierCmd() *cobra.Command {
	var tenantID, tier string

	cmd := &cobra.Command{
		Use:   "set-tier",
		Short: "Set the subscription tier of a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := domain.Tier(tier)
			if !t.Valid() {
				return fmt.Errorf("invalid --tier %q: want free, starter, pro or enterprise", tier)
			}
			if err := tenantRepo().SetTier(cmd.Context(), tenantID, t); err != nil {
				return err
			}
			return writeJSON(domain.LimitsFor(t))
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&tier, "tier", "", "Tier: free, starter, pro or enterprise (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("tier")
	return cmd
}

func newGetTierCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "get-tier",
		Short: "Show the limits that apply to a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			limits, err := tenantRepo().GetTierLimits(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			return writeJSON(limits)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

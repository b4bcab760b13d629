package main

import (
	"fmt"

	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/domain"
	jwtinfra "github.com/sender-identity/internal/infrastructure/jwt"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint API credentials",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var tenantID, userID, role string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a tenant-scoped API token with the configured private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case domain.RoleOwner, domain.RoleAdmin, domain.RoleViewer:
			default:
				return fmt.Errorf("invalid --role %q", role)
			}
			p, err := jwtinfra.NewProvider(config.Load())
			if err != nil {
				return err
			}
			tok, err := p.Sign(tenantID, userID, role)
			if err != nil {
				return err
			}
			return writeJSON(map[string]string{"tenant_id": tenantID, "role": role, "token": tok})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&userID, "user", "operator", "User ID recorded in the token")
	cmd.Flags().StringVar(&role, "role", domain.RoleAdmin, "Role: owner, admin or viewer")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

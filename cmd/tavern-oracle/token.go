package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/tavern-oracle/config"
	"github.com/upb/tavern-oracle/middleware"
)

func tokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin endpoints",
		Long: `Issue an HS256 bearer token signed with ADMIN_JWT_SECRET.

Example:
  curl -X DELETE -H "Authorization: Bearer $(tavern-oracle token)" localhost:8080/api/v1/cache`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			token, err := middleware.NewHMACValidator(cfg.Admin.JWTSecret, cfg.Admin.Issuer).IssueToken(subject, role, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringVar(&role, "role", middleware.RoleAdmin, "Role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}

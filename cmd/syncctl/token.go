package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var errNoSigningSecret = errors.New("jwt.secret is not configured; set SYNC_JWT_SECRET or jwt.secret in config.toml")

func tokenCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration
	var raw bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token with the server's signing secret",
		Long: `Sign a token locally using the server configuration (config.toml and SYNC_* env vars).
Operator tokens may mutate; viewer tokens are read-only.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return errNoSigningSecret
			}
			tok, err := auth.NewJWTService(cfg.JWT).GenerateToken(subject, auth.Role(role), ttl)
			if err != nil {
				return err
			}
			if raw {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n\nrole %s for %s, expires %s\nexport SYNCCTL_TOKEN=%s\n",
				tok.AccessToken, role, subject, tok.ExpiresAt.Local().Format(time.RFC3339), tok.AccessToken)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, recorded on acknowledgements (required)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "operator or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (default jwt.operator_token_expiration)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print only the token")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

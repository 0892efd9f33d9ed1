package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/minerctl/internal/auth"
)

var (
	tokenRole    string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the control API",
	Long: `Sign a token with security.jwt.secret for use as
"Authorization: Bearer <token>" (or ?token= on the WebSocket).

Roles:
  viewer    read status, telemetry, history and logs
  operator  also start and stop the miner and apply profiles
  admin     also run tuning diagnostics

The TTL defaults to security.jwt.access_token_ttl minutes.

Examples:
  minerctl token --role viewer --subject grafana
  minerctl token --role operator --ttl 720h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ttl := tokenTTL
		if ttl == 0 {
			ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
		}

		token, err := auth.GenerateToken(tokenSubject, auth.Role(tokenRole), cfg.Security.JWT.Secret, ttl)
		if err != nil {
			return fmt.Errorf("minting token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleViewer), "token role: viewer, operator or admin")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject, recorded in API logs")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default from config)")
}

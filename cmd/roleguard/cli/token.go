package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/roleguard/internal/model"
)

func newTokenCmd() *cobra.Command {
	var (
		subject   string
		roles     string
		superuser bool
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed principal token",
		Long: `Issue a token asserting a subject, its roles and the superuser flag. Callers
of the decision API send it as "Authorization: Bearer <token>" alongside their
API key, and the guarded proxy accepts it the same way. The token is signed
with auth.jwt_secret.`,
		Example: `  roleguard token --subject alice --roles editor,staff
  roleguard token --subject root --superuser --ttl 15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &model.Principal{
				Subject:       subject,
				Roles:         splitRoles(roles),
				Authenticated: true,
				Superuser:     superuser,
			}
			return runToken(cmd.OutOrStdout(), p, ttl)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Subject (user) the token asserts (required)")
	cmd.Flags().StringVar(&roles, "roles", "", "Comma-separated roles")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "Mark the subject as a superuser")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("subject")

	return cmd
}

func runToken(w io.Writer, p *model.Principal, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	store, cfg, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	token, err := newAuthService(cfg, store).IssuePrincipalToken(p, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(w, token)
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/model"
)

func newCheckCmd() *cobra.Command {
	var (
		kind       string
		app        string
		subject    string
		roles      string
		superuser  bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "check <resource>",
		Short: "Decide whether a principal may access a view or template section",
		Long: `Run one access decision against the store and site policy, exactly as the
server would. Without --subject the principal is anonymous. Membership roles
are merged in when auth.memberships is enabled.

Exits with status 1 when access is denied.`,
		Example: `  roleguard check blog:post-edit --app blog --subject alice --roles editor
  roleguard check admin-links --kind template --subject bob
  roleguard check accounts:profile --app accounts --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			p, err := checkPrincipal(subject, roles, superuser)
			if err != nil {
				return err
			}
			allowed, err := runCheck(cmd.OutOrStdout(), p, app, args[0], k, jsonOutput)
			if err != nil {
				return err
			}
			if !allowed {
				return errDenied
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "view", "Resource kind: view or template")
	cmd.Flags().StringVar(&app, "app", "", "Application the view belongs to (for site policy)")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject to check (anonymous if omitted)")
	cmd.Flags().StringVar(&roles, "roles", "", "Comma-separated roles held by the subject")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "Treat the subject as a superuser")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the decision as JSON")

	return cmd
}

// checkPrincipal builds the principal for check. Roles and the superuser
// flag belong to a subject, so they are rejected without one.
func checkPrincipal(subject, roles string, superuser bool) (*model.Principal, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		if strings.TrimSpace(roles) != "" || superuser {
			return nil, errors.New("--roles and --superuser require --subject")
		}
		return model.Anonymous(), nil
	}
	return &model.Principal{
		Subject:       subject,
		Roles:         splitRoles(roles),
		Authenticated: true,
		Superuser:     superuser,
	}, nil
}

// errDenied makes the process exit non-zero without printing a usage error.
var errDenied = errors.New("access denied")

func runCheck(w io.Writer, p *model.Principal, app, resource string, kind model.ResourceKind, jsonOutput bool) (bool, error) {
	store, cfg, err := loadStore()
	if err != nil {
		return false, err
	}
	defer store.Close()

	ctx := context.Background()
	p, err = newAuthService(cfg, store).Enrich(ctx, p)
	if err != nil {
		return false, fmt.Errorf("load memberships: %w", err)
	}

	// One-shot decisions need no cache.
	cfg.Cache.Enabled = false
	checker, _ := newChecker(cfg, store, zap.NewNop())

	d, err := checker.Check(ctx, p, app, resource, kind)
	if err != nil {
		return false, err
	}

	if jsonOutput {
		return d.Allowed, printJSON(w, map[string]interface{}{
			"principal": p,
			"decision":  d,
		})
	}

	verdict := "DENIED"
	if d.Allowed {
		verdict = "ALLOWED"
	}
	who := "anonymous"
	if p.Authenticated {
		who = p.Subject
	}
	fmt.Fprintf(w, "%s: %s %q for %s\n", verdict, d.Kind, d.Resource, who)
	fmt.Fprintf(w, "  Reason: %s\n", d.Reason)
	if kind == model.KindView {
		class := string(checker.Policy().Classify(app))
		if class == "" {
			class = "none"
		}
		fmt.Fprintf(w, "  App:    %s (policy: %s)\n", app, class)
	}
	if len(p.Roles) > 0 {
		fmt.Fprintf(w, "  Roles:  %s\n", strings.Join(p.Roles, ", "))
	}
	if d.Assignment != nil {
		fmt.Fprintf(w, "  Allowed roles: %s\n", strings.Join(d.Assignment.Roles, ", "))
	}
	return d.Allowed, nil
}

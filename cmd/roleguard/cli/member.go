package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "member",
		Aliases: []string{"members"},
		Short:   "Manage role memberships",
		Long: `Grant and revoke roles for subjects. Memberships are merged into every
principal's roles when auth.memberships is enabled.`,
	}

	cmd.AddCommand(newMemberGrantCmd())
	cmd.AddCommand(newMemberRevokeCmd())
	cmd.AddCommand(newMemberListCmd())

	return cmd
}

func newMemberGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "grant <subject> <role>",
		Short:   "Grant a role to a subject",
		Example: `  roleguard member grant alice editor`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := loadStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.GrantRole(context.Background(), args[0], args[1]); err != nil {
				return fmt.Errorf("grant role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Granted %q to %q\n", args[1], args[0])
			return nil
		},
	}
}

func newMemberRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <subject> <role>",
		Short: "Revoke a role from a subject",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := loadStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.RevokeRole(context.Background(), args[0], args[1]); err != nil {
				return fmt.Errorf("revoke role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %q from %q\n", args[1], args[0])
			return nil
		},
	}
}

func newMemberListCmd() *cobra.Command {
	var (
		role       string
		subject    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List memberships",
		Example: `  roleguard member list
  roleguard member list --role editor
  roleguard member list --subject alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberList(cmd.OutOrStdout(), role, subject, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Only members of this role")
	cmd.Flags().StringVar(&subject, "subject", "", "Show the roles of one subject")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runMemberList(w io.Writer, role, subject string, jsonOutput bool) error {
	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	if subject != "" {
		roles, err := store.MemberRoles(ctx, subject)
		if err != nil {
			return fmt.Errorf("member roles: %w", err)
		}
		if jsonOutput {
			return printJSON(w, map[string]interface{}{"subject": subject, "roles": roles})
		}
		if len(roles) == 0 {
			fmt.Fprintf(w, "%s has no roles\n", subject)
			return nil
		}
		fmt.Fprintf(w, "%s: %s\n", subject, strings.Join(roles, ", "))
		return nil
	}

	members, err := store.ListMemberships(ctx, role)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}
	if jsonOutput {
		return printJSON(w, members)
	}
	if len(members) == 0 {
		fmt.Fprintln(w, "No memberships. Use 'roleguard member grant' to add one.")
		return nil
	}

	fmt.Fprintf(w, "%-30s %-24s %s\n", "SUBJECT", "ROLE", "GRANTED")
	fmt.Fprintf(w, "%-30s %-24s %s\n", "-------", "----", "-------")
	for _, m := range members {
		fmt.Fprintf(w, "%-30s %-24s %s\n", m.Subject, m.Role, m.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

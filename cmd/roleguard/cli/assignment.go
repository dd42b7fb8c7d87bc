package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/model"
)

func newAssignmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assignment",
		Aliases: []string{"assign", "a"},
		Short:   "Manage role assignments",
		Long: `Create, list, enable, disable and delete the role assignments that restrict
views and template sections. A resource without an enabled assignment is
unrestricted.

Changes are written straight to the store. A running server picks them up
once its lookup cache expires (cache.ttl).`,
	}

	cmd.AddCommand(newAssignmentListCmd())
	cmd.AddCommand(newAssignmentCreateCmd())
	cmd.AddCommand(newAssignmentRolesCmd())
	cmd.AddCommand(newAssignmentEnableCmd(true))
	cmd.AddCommand(newAssignmentEnableCmd(false))
	cmd.AddCommand(newAssignmentDeleteCmd())
	cmd.AddCommand(newAssignmentImportCmd())
	cmd.AddCommand(newAssignmentExportCmd())

	return cmd
}

// ---------- assignment list ----------

func newAssignmentListCmd() *cobra.Command {
	var (
		kind        string
		role        string
		enabledOnly bool
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List role assignments",
		Example: `  roleguard assignment list
  roleguard assignment list --kind template
  roleguard assignment list --role editor --enabled-only --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := config.AssignmentFilter{Role: role, EnabledOnly: enabledOnly}
			if kind != "" {
				k, err := parseKind(kind)
				if err != nil {
					return err
				}
				f.Kind = k
			}
			return runAssignmentList(cmd.OutOrStdout(), f, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only assignments of this kind (view or template)")
	cmd.Flags().StringVar(&role, "role", "", "Only assignments that allow this role")
	cmd.Flags().BoolVar(&enabledOnly, "enabled-only", false, "Only enforced assignments")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAssignmentList(w io.Writer, f config.AssignmentFilter, jsonOutput bool) error {
	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListAssignments(context.Background(), f)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}

	if jsonOutput {
		return printJSON(w, list)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No role assignments. Every view and template section is unrestricted.")
		fmt.Fprintln(w, "Use 'roleguard assignment create' to restrict one.")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-9s %-14s %-8s %s\n", "RESOURCE", "KIND", "ACCESS", "ENABLED", "ROLES")
	fmt.Fprintf(w, "%-36s %-9s %-14s %-8s %s\n", "--------", "----", "------", "-------", "-----")
	for _, a := range list {
		roles := strings.Join(a.Roles, ", ")
		if roles == "" {
			roles = "(none)"
		}
		fmt.Fprintf(w, "%-36s %-9s %-14s %-8s %s\n", a.Resource, a.Kind, a.AccessType(), yesNo(a.Enabled), roles)
	}
	return nil
}

// ---------- assignment create ----------

func newAssignmentCreateCmd() *cobra.Command {
	var (
		kind        string
		accessType  string
		roles       string
		description string
		disabled    bool
	)

	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Restrict a view or template section to roles",
		Example: `  roleguard assignment create blog:post-edit --roles editor,admin
  roleguard assignment create admin-links --kind template --roles staff
  roleguard assignment create accounts:login --access public
  roleguard assignment create reports --roles ops --disabled   # stored, not enforced`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			at, ok := model.ParseAccessType(accessType)
			if !ok {
				return fmt.Errorf("invalid access %q: want by_role, public or authenticated", accessType)
			}
			a := &model.RoleAssignment{
				Resource:    args[0],
				Kind:        k,
				Access:      at,
				Roles:       splitRoles(roles),
				Enabled:     !disabled,
				Description: description,
			}
			return runAssignmentCreate(cmd.OutOrStdout(), a)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "view", "Resource kind: view or template")
	cmd.Flags().StringVar(&accessType, "access", "by_role", "Who is admitted: by_role, public or authenticated")
	cmd.Flags().StringVar(&roles, "roles", "", "Comma-separated roles allowed to access the resource")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Store the assignment without enforcing it")

	return cmd
}

func runAssignmentCreate(w io.Writer, a *model.RoleAssignment) error {
	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreateAssignment(context.Background(), a); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}

	fmt.Fprintf(w, "Created %s assignment for %q\n", a.Kind, a.Resource)
	fmt.Fprintf(w, "  Access:  %s\n", a.AccessType())
	fmt.Fprintf(w, "  Roles:   %s\n", strings.Join(a.Roles, ", "))
	fmt.Fprintf(w, "  Enabled: %s\n", yesNo(a.Enabled))
	if a.Enabled && a.AccessType() == model.AccessByRole && len(a.Roles) == 0 {
		fmt.Fprintln(w, "  Warning: no roles are allowed, so every principal is denied.")
	}
	return nil
}

// ---------- assignment roles ----------

func newAssignmentRolesCmd() *cobra.Command {
	var (
		kind  string
		roles string
	)

	cmd := &cobra.Command{
		Use:     "roles <resource>",
		Short:   "Replace the roles of an assignment",
		Example: `  roleguard assignment roles blog:post-edit --roles editor`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			return withAssignment(args[0], k, func(ctx context.Context, store *config.Store, a *model.RoleAssignment) error {
				if err := store.SetAssignmentRoles(ctx, a.ID, splitRoles(roles)); err != nil {
					return fmt.Errorf("set roles: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Roles of %s %q set to %q\n", a.Kind, a.Resource, roles)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "view", "Resource kind: view or template")
	cmd.Flags().StringVar(&roles, "roles", "", "Comma-separated roles (empty denies everyone)")

	return cmd
}

// ---------- assignment enable / disable ----------

func newAssignmentEnableCmd(enable bool) *cobra.Command {
	var kind string

	use, short, verb := "enable", "Enforce an assignment", "Enabled"
	if !enable {
		use, short, verb = "disable", "Stop enforcing an assignment without deleting it", "Disabled"
	}

	cmd := &cobra.Command{
		Use:   use + " <resource>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			return withAssignment(args[0], k, func(ctx context.Context, store *config.Store, a *model.RoleAssignment) error {
				if err := store.SetAssignmentEnabled(ctx, a.ID, enable); err != nil {
					return fmt.Errorf("%s assignment: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s assignment for %q\n", verb, a.Kind, a.Resource)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "view", "Resource kind: view or template")

	return cmd
}

// ---------- assignment delete ----------

func newAssignmentDeleteCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:     "delete <resource>",
		Aliases: []string{"rm"},
		Short:   "Delete an assignment, leaving the resource unrestricted",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			return withAssignment(args[0], k, func(ctx context.Context, store *config.Store, a *model.RoleAssignment) error {
				if err := store.DeleteAssignment(ctx, a.ID); err != nil {
					return fmt.Errorf("delete assignment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s assignment for %q\n", a.Kind, a.Resource)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "view", "Resource kind: view or template")

	return cmd
}

// withAssignment opens the store, finds the assignment of resource and
// passes it to fn.
func withAssignment(resource string, kind model.ResourceKind, fn func(context.Context, *config.Store, *model.RoleAssignment) error) error {
	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	a, err := store.FindAssignment(ctx, resource, kind)
	if err != nil {
		return fmt.Errorf("%s assignment %q: %w", kind, resource, err)
	}
	return fn(ctx, store, a)
}

// ---------- assignment import / export ----------

func newAssignmentImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import assignments from a YAML file",
		Long: `Upsert role assignments from a YAML file by resource and kind. Every entry is
validated before anything is written. Use "-" to read from stdin.`,
		Example: `  roleguard assignment import assignments.yaml
  roleguard assignment export | roleguard --data-dir /tmp/rg assignment import -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssignmentImport(cmd.OutOrStdout(), cmd.InOrStdin(), args[0])
		},
	}
	return cmd
}

func runAssignmentImport(w io.Writer, stdin io.Reader, path string) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.ImportAssignments(context.Background(), r)
	if err != nil {
		return fmt.Errorf("import assignments: %w", err)
	}
	fmt.Fprintf(w, "Imported assignments: %d created, %d updated\n", res.Created, res.Updated)
	return nil
}

func newAssignmentExportCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all assignments as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssignmentExport(cmd.OutOrStdout(), outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

func runAssignmentExport(stdout io.Writer, outputFile string) error {
	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	w := stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create %s: %w", outputFile, err)
		}
		defer f.Close()
		w = f
	}

	if err := store.ExportAssignments(context.Background(), w); err != nil {
		return fmt.Errorf("export assignments: %w", err)
	}
	if outputFile != "" {
		fmt.Fprintf(stdout, "Wrote %s\n", outputFile)
	}
	return nil
}

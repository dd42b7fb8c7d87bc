package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/roleguard/internal/model"
	"github.com/faucetdb/roleguard/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin users",
		Long:  "Create and list administrative users who can manage assignments through the system API.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())
	cmd.AddCommand(newAdminActiveCmd(true))
	cmd.AddCommand(newAdminActiveCmd(false))

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new admin user",
		Example: `  roleguard admin create --email admin@example.com --password secret123
  roleguard admin create --email admin@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(cmd.OutOrStdout(), email, password, name)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Admin display name")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAdminCreate(w io.Writer, email, password, name string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	// Prompt for password if not provided
	if password == "" {
		pw, err := promptPassword()
		if err != nil {
			return err
		}
		password = pw
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}

	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	admin := &model.Admin{Email: email, PasswordHash: hash, Name: name, IsActive: true}
	if err := store.CreateAdmin(context.Background(), admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	fmt.Fprintf(w, "Created admin user %q\n", email)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all admin users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(w io.Writer, jsonOutput bool) error {
	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	admins, err := store.ListAdmins(context.Background())
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}

	if jsonOutput {
		return printJSON(w, admins)
	}

	if len(admins) == 0 {
		fmt.Fprintln(w, "No admin users configured. Use 'roleguard admin create' to create one.")
		return nil
	}

	fmt.Fprintf(w, "%-30s %-24s %-8s\n", "EMAIL", "NAME", "ACTIVE")
	fmt.Fprintf(w, "%-30s %-24s %-8s\n", "-----", "----", "------")
	for _, a := range admins {
		fmt.Fprintf(w, "%-30s %-24s %-8s\n", a.Email, a.Name, yesNo(a.IsActive))
	}
	return nil
}

// ---------- admin enable / disable ----------

func newAdminActiveCmd(active bool) *cobra.Command {
	use, short, verb := "enable", "Re-enable an admin user", "Enabled"
	if !active {
		use, short, verb = "disable", "Disable an admin user without deleting it", "Disabled"
	}

	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := loadStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetAdminActive(context.Background(), args[0], active); err != nil {
				return fmt.Errorf("%s admin: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s admin user %q\n", verb, args[0])
			return nil
		},
	}
}

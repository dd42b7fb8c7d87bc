package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys that gateways and applications use to call the decision API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		label   string
		expires string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  roleguard key create --label "edge gateway"
  roleguard key create --label ci --expires 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ttl time.Duration
			if expires != "" {
				d, err := time.ParseDuration(expires)
				if err != nil || d <= 0 {
					return fmt.Errorf("invalid --expires %q", expires)
				}
				ttl = d
			}
			return runKeyCreate(cmd.OutOrStdout(), label, ttl)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().StringVar(&expires, "expires", "", "Lifetime of the key, e.g. 720h (default: never)")

	return cmd
}

func runKeyCreate(w io.Writer, label string, ttl time.Duration) error {
	store, cfg, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rawKey, key, err := newAuthService(cfg, store).GenerateAPIKey(context.Background(), label, ttl)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Fprintln(w, "API Key created:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Key:     %s\n", rawKey)
	fmt.Fprintf(w, "  Prefix:  %s\n", key.KeyPrefix)
	if label != "" {
		fmt.Fprintf(w, "  Label:   %s\n", label)
	}
	if key.ExpiresAt != nil {
		fmt.Fprintf(w, "  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Send it in the %s header. Save it now - it cannot be retrieved again.\n", cfg.Auth.APIKeyHeader)
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(w io.Writer, jsonOutput bool) error {
	store, _, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		return printJSON(w, keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(w, "No API keys. Use 'roleguard key create' to create one.")
		return nil
	}

	fmt.Fprintf(w, "%-16s %-24s %-8s %-20s %s\n", "PREFIX", "LABEL", "ACTIVE", "EXPIRES", "LAST USED")
	fmt.Fprintf(w, "%-16s %-24s %-8s %-20s %s\n", "------", "-----", "------", "-------", "---------")
	for _, k := range keys {
		expires, lastUsed := "never", "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format("2006-01-02 15:04")
		}
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%-16s %-24s %-8s %-20s %s\n", k.KeyPrefix, k.Label, yesNo(k.IsActive), expires, lastUsed)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "revoke <prefix>",
		Short:   "Revoke an API key by its prefix",
		Example: `  roleguard key revoke rg_1a2b3c4d`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := loadStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.RevokeAPIKeyByPrefix(context.Background(), args[0]); err != nil {
				return fmt.Errorf("revoke api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %s\n", args[0])
			return nil
		},
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/roleguard/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3 document describing the decision and system APIs.
It is the same document the server publishes at /openapi.json.`,
		Example: `  roleguard openapi
  roleguard openapi --base-url https://auth.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd.OutOrStdout(), baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to put in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")

	return cmd
}

func runOpenAPI(stdout io.Writer, baseURL, outputFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	doc := openapi.Generate(openapi.Options{
		BaseURL:      baseURL,
		APIKeyHeader: cfg.Auth.APIKeyHeader,
		Version:      versionString(),
	})
	jsonBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, append(jsonBytes, '\n'), 0644); err != nil {
			return fmt.Errorf("write %s: %w", outputFile, err)
		}
		fmt.Fprintf(stdout, "Wrote %s\n", outputFile)
		return nil
	}
	fmt.Fprintln(stdout, string(jsonBytes))
	return nil
}

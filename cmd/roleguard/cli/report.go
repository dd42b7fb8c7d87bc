package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/roleguard/internal/report"
)

func newReportCmd() *cobra.Command {
	var (
		format     string
		middleware string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Audit how every configured route is protected",
		Long: `Analyze each route in the configuration against the site policy and the
stored role assignments, and report for every view who can reach it. Routes
with an assignment but no guard, or an enforced assignment without roles,
are reported as errors.

The guard middleware is considered active when proxy.upstream is set,
unless --middleware says otherwise.`,
		Example: `  roleguard report
  roleguard report --format csv -o access.csv
  roleguard report --middleware=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.OutOrStdout(), report.Format(format), middleware, outputFile)
		},
	}

	cmd.Flags().StringVar(&format, "format", "console", "Output format: console or csv")
	cmd.Flags().StringVar(&middleware, "middleware", "", "Whether the guard middleware is active: true or false (default: proxy.upstream is set)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the report to file instead of stdout")

	return cmd
}

func runReport(stdout io.Writer, format report.Format, middleware, outputFile string) error {
	store, cfg, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	active := cfg.Proxy.Upstream != ""
	switch middleware {
	case "":
	case "true", "yes":
		active = true
	case "false", "no":
		active = false
	default:
		return fmt.Errorf("invalid --middleware %q (use true or false)", middleware)
	}

	if len(cfg.Routes) == 0 {
		fmt.Fprintln(os.Stderr, "No routes configured; only the site policy is reported.")
	}

	rep, err := report.Build(context.Background(), store, newPolicy(cfg), cfg.Routes, report.Options{MiddlewareActive: active})
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	w := stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create %s: %w", outputFile, err)
		}
		defer f.Close()
		w = f
	}

	if err := report.Write(w, rep, format); err != nil {
		return err
	}
	if outputFile != "" {
		fmt.Fprintf(stdout, "Wrote %s (%s)\n", outputFile, rep.Summary())
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/blast/internal/dnscheck"
	"github.com/foxzi/blast/internal/transport"
)

var (
	dnsProvider string
	dnsSelector string
	dnsJSON     bool
	dnsTimeout  time.Duration
)

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "DNS checks for sender domains",
}

var dnsCheckCmd = &cobra.Command{
	Use:   "check <sender-address>",
	Short: "Check SPF, DKIM and DMARC of a sender domain",
	Long: `Check that the domain of a sender address publishes the SPF, DKIM and
DMARC records receivers evaluate. The DKIM key is looked up only when
--selector is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runDNSCheck,
}

func init() {
	dnsCheckCmd.Flags().StringVarP(&dnsProvider, "provider", "p", "", "Email provider the campaign will use")
	dnsCheckCmd.Flags().StringVar(&dnsSelector, "selector", "", "DKIM selector")
	dnsCheckCmd.Flags().BoolVar(&dnsJSON, "json", false, "Output as JSON")
	dnsCheckCmd.Flags().DurationVar(&dnsTimeout, "timeout", 10*time.Second, "Lookup timeout")

	dnsCmd.AddCommand(dnsCheckCmd)
	rootCmd.AddCommand(dnsCmd)
}

func runDNSCheck(cmd *cobra.Command, args []string) error {
	var kind transport.Kind
	if dnsProvider != "" {
		k, err := transport.ParseKind(dnsProvider)
		if err != nil {
			return err
		}
		kind = k
	}

	ctx, cancel := context.WithTimeout(context.Background(), dnsTimeout)
	defer cancel()

	report, err := dnscheck.NewChecker(nil).CheckSender(ctx, args[0], kind, dnsSelector)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if dnsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Sender domain: %s\n\n", report.Domain)
	for _, f := range report.Findings {
		fmt.Fprintf(out, "  %-6s %-8s %s\n", f.Record, f.Status, f.Name)
		if f.Value != "" {
			fmt.Fprintf(out, "         %s\n", f.Value)
		}
		if f.Message != "" {
			fmt.Fprintf(out, "         %s\n", f.Message)
		}
	}
	fmt.Fprintln(out)

	if !report.Ready() {
		return fmt.Errorf("sender domain %s is missing records", report.Domain)
	}
	fmt.Fprintln(out, "Sender domain is ready")
	return nil
}

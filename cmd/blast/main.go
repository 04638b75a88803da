package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/blast/internal/api"
	"github.com/foxzi/blast/internal/app"
	"github.com/foxzi/blast/internal/config"
	"github.com/foxzi/blast/internal/tls"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "blast",
	Short: "Blast - bulk email campaign sender",
	Long: `Blast sends one Editor.js document to a list of recipients through
Gmail, Outlook, ImprovMX, Resend or Amazon SES, pacing attempts and
streaming per-recipient progress.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign API server",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("blast version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig reads cfgFile, or returns the defaults when none was given
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	api.Version = version

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	// Catches unknown provider names and unreadable DKIM keys
	logger := app.NewLogger(config.LoggingConfig{Level: "error", Format: "text"}, os.Stderr)
	orchestrator, _, err := app.NewOrchestrator(cfg, logger)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Hostname: %s\n", cfg.Server.Hostname)
	fmt.Printf("  API: %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Providers: %v\n", orchestrator.Providers())
	fmt.Printf("  Pacing: %s between attempts, %d attempts per recipient\n",
		cfg.Campaign.MinInterval, cfg.Campaign.MaxAttempts)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	switch {
	case cfg.API.TLS.ACME.Enabled:
		fmt.Printf("  TLS: ACME for %v\n", cfg.API.TLS.ACME.Domains)
	case cfg.API.TLS.CertFile != "":
		info, err := tls.ReadCertificateInfo(cfg.API.TLS.CertFile, time.Now())
		if err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
		fmt.Printf("  TLS: %s (expires %s, %d days left)\n",
			info.Subject, info.NotAfter.Format("2006-01-02"), info.DaysLeft)
		if info.DaysLeft < 30 {
			fmt.Printf("  Warning: certificate expires soon\n")
		}
	}

	return nil
}

package app

import (
	"fmt"
	"log/slog"

	"github.com/foxzi/blast/internal/campaign"
	"github.com/foxzi/blast/internal/config"
	"github.com/foxzi/blast/internal/dkim"
	"github.com/foxzi/blast/internal/document"
	"github.com/foxzi/blast/internal/transport"
)

// NewOrchestrator builds the transport registry and campaign orchestrator
// described by cfg. The mailbox is nil unless the sandbox transport is
// enabled.
func NewOrchestrator(cfg *config.Config, logger *slog.Logger) (*campaign.Orchestrator, *transport.Mailbox, error) {
	opts, mailbox, err := TransportOptions(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	registry := transport.NewDefaultRegistry(opts, logger.With("component", "transport"))

	ccfg, err := CampaignConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	orchestrator, err := campaign.New(ccfg, registry, logger.With("component", "campaign"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return orchestrator, mailbox, nil
}

// CampaignConfig converts the campaign and render sections
func CampaignConfig(cfg *config.Config) (campaign.Config, error) {
	providers := make([]transport.Kind, 0, len(cfg.Campaign.Providers))
	for _, name := range cfg.Campaign.Providers {
		k, err := transport.ParseKind(name)
		if err != nil {
			return campaign.Config{}, fmt.Errorf("campaign.providers: %w", err)
		}
		providers = append(providers, k)
	}

	return campaign.Config{
		MaxAttempts:    cfg.Campaign.MaxAttempts,
		MinInterval:    cfg.Campaign.MinInterval,
		BackoffBase:    cfg.Campaign.BackoffBase,
		BackoffMax:     cfg.Campaign.BackoffMax,
		AttemptTimeout: cfg.Campaign.AttemptTimeout,
		Greeting:       cfg.Campaign.Greeting,
		Render: document.Options{
			Sanitize:     cfg.Render.Sanitize,
			InlineImages: document.ImageMode(cfg.Render.InlineImages),
		},
		Providers: providers,
	}, nil
}

// TransportOptions converts the transports section, loading DKIM keys
func TransportOptions(cfg *config.Config, logger *slog.Logger) (transport.Options, *transport.Mailbox, error) {
	tc := cfg.Transports

	var signer transport.DKIMSigner
	if len(tc.SMTP.DKIM) > 0 {
		keys := make([]dkim.DomainKey, 0, len(tc.SMTP.DKIM))
		domains := make([]string, 0, len(tc.SMTP.DKIM))
		for _, d := range tc.SMTP.DKIM {
			keys = append(keys, dkim.DomainKey{Domain: d.Domain, Selector: d.Selector, KeyFile: d.KeyFile})
			domains = append(domains, d.Domain)
		}
		provider, err := dkim.NewProvider(keys)
		if err != nil {
			return transport.Options{}, nil, fmt.Errorf("failed to load DKIM keys: %w", err)
		}
		signer = provider
		logger.Info("DKIM signing enabled", "domains", domains)
	}

	hosts := make(map[transport.Kind]string, len(tc.SMTP.Hosts))
	for name, host := range tc.SMTP.Hosts {
		k, err := transport.ParseKind(name)
		if err != nil {
			return transport.Options{}, nil, fmt.Errorf("transports.smtp.hosts: %w", err)
		}
		hosts[k] = host
	}

	verify := true
	if tc.SMTP.VerifyOnOpen != nil {
		verify = *tc.SMTP.VerifyOnOpen
	}

	opts := transport.Options{
		SMTP: transport.SMTPOptions{
			Port:               tc.SMTP.Port,
			Timeout:            tc.SMTP.Timeout,
			LocalName:          cfg.Server.Hostname,
			InsecureSkipVerify: tc.SMTP.InsecureSkipVerify,
			VerifyOnOpen:       verify,
			Hosts:              hosts,
			MessageIDDomain:    cfg.Server.Hostname,
			DKIM:               signer,
		},
		Resend: transport.ResendOptions{
			Enabled:  tc.Resend.Enabled,
			Endpoint: tc.Resend.Endpoint,
			Timeout:  tc.Resend.Timeout,
		},
		SES: transport.SESOptions{
			Enabled:          tc.SES.Enabled,
			Region:           tc.SES.Region,
			ConfigurationSet: tc.SES.ConfigurationSet,
			MessageIDDomain:  cfg.Server.Hostname,
			DKIM:             signer,
		},
	}

	var mailbox *transport.Mailbox
	if tc.Sandbox.Enabled {
		mailbox = transport.NewMailbox(tc.Sandbox.MaxMessages)
		opts.Sandbox = transport.SandboxOptions{
			Enabled:          true,
			ErrorProbability: tc.Sandbox.ErrorProbability,
			Mailbox:          mailbox,
		}
		logger.Warn("sandbox transport enabled, messages are captured and not delivered")
	}

	return opts, mailbox, nil
}

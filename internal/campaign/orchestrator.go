// Package campaign runs bulk sends: one rendered message delivered to every
// recipient in turn, paced on a shared clock, retried with backoff and
// reported through a progress emitter.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/blast/internal/document"
	"github.com/foxzi/blast/internal/email"
	"github.com/foxzi/blast/internal/metrics"
	"github.com/foxzi/blast/internal/progress"
	"github.com/foxzi/blast/internal/ratelimit"
	"github.com/foxzi/blast/internal/transport"
)

// ErrTransportSetup is returned by Prepare when the provider session cannot
// be established
var ErrTransportSetup = errors.New("transport setup failed")

// Transports opens provider adapters. *transport.Registry implements it.
type Transports interface {
	Open(ctx context.Context, kind transport.Kind, creds transport.Credentials) (transport.Transport, error)
	Kinds() []transport.Kind
}

// Config controls pacing and retries
type Config struct {
	MaxAttempts    int
	MinInterval    time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	AttemptTimeout time.Duration
	Greeting       string
	Render         document.Options
	// Providers restricts the kinds requests may select. Empty allows every
	// registered kind.
	Providers []transport.Kind
}

// DefaultConfig returns the production pacing: 3 attempts, 50s between
// attempts, backoff 1s doubling up to 30s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		MinInterval:    50 * time.Second,
		BackoffBase:    time.Second,
		BackoffMax:     30 * time.Second,
		AttemptTimeout: 2 * time.Minute,
		Greeting:       DefaultGreeting,
	}
}

// Orchestrator prepares and runs campaigns
type Orchestrator struct {
	cfg        Config
	transports Transports
	renderer   *document.Renderer
	greeter    *Greeter
	clock      ratelimit.Clock
	logger     *slog.Logger
}

// New creates an orchestrator
func New(cfg Config, transports Transports, logger *slog.Logger) (*Orchestrator, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}

	greeter, err := NewGreeter(cfg.Greeting)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:        cfg,
		transports: transports,
		renderer:   document.NewRenderer(cfg.Render),
		greeter:    greeter,
		clock:      ratelimit.SystemClock{},
		logger:     logger,
	}, nil
}

// SetClock replaces the time source used for pacing and backoff
func (o *Orchestrator) SetClock(c ratelimit.Clock) {
	o.clock = c
}

// Providers returns the kinds requests may select
func (o *Orchestrator) Providers() []transport.Kind {
	registered := o.transports.Kinds()
	if len(o.cfg.Providers) == 0 {
		return registered
	}
	var out []transport.Kind
	for _, k := range o.cfg.Providers {
		if containsKind(registered, k) {
			out = append(out, k)
		}
	}
	return out
}

// Campaign is a validated, rendered request bound to an open transport
type Campaign struct {
	ID          string
	Kind        transport.Kind
	Sender      string
	SenderName  string
	Subject     string
	HTML        string
	Text        string
	Attachments []email.Attachment
	Recipients  []email.Recipient
	UseGreeting bool

	transport transport.Transport
	logger    *slog.Logger
}

// Close releases the transport session
func (c *Campaign) Close() error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

// Summary is the final tally of a campaign
type Summary struct {
	Total        int
	Sent         int
	Failed       int
	FailedEmails []string
	Duration     time.Duration
}

// Prepare validates req, renders the document once, extracts attachments
// once and opens the transport. A *ValidationError means the request was
// bad; an error wrapping ErrTransportSetup means the provider could not be
// reached or refused the credentials.
func (o *Orchestrator) Prepare(ctx context.Context, req *Request) (*Campaign, error) {
	kind, doc, err := req.Validate(o.Providers())
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	logger := o.logger.With("campaign_id", id, "transport", string(kind))

	tr, err := o.transports.Open(ctx, kind, transport.Credentials{
		Identity: req.SenderEmail,
		Secret:   req.SenderPassword,
	})
	if err != nil {
		logger.Error("failed to open transport", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrTransportSetup, err)
	}

	c := &Campaign{
		ID:          id,
		Kind:        kind,
		Sender:      req.SenderEmail,
		SenderName:  req.SenderName,
		Subject:     req.Subject,
		HTML:        o.renderer.HTML(doc),
		Text:        o.renderer.Text(doc),
		Attachments: document.Attachments(doc),
		Recipients:  req.Recipients,
		UseGreeting: req.UseGreeting,
		transport:   tr,
		logger:      logger,
	}

	logger.Info("campaign prepared",
		"recipients", len(c.Recipients),
		"attachments", len(c.Attachments),
		"greeting", c.UseGreeting)

	return c, nil
}

// Send prepares and runs req, closing the transport afterwards
func (o *Orchestrator) Send(ctx context.Context, req *Request, emitter progress.Emitter) (*Summary, error) {
	c, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return o.Run(ctx, c, emitter)
}

// Run delivers c to every recipient in input order and emits one record per
// recipient followed by a single complete record. It returns early without
// the complete record when ctx is cancelled between attempts or when the
// emitter fails.
func (o *Orchestrator) Run(ctx context.Context, c *Campaign, emitter progress.Emitter) (*Summary, error) {
	start := o.clock.Now()
	pacer := ratelimit.NewPacer(o.cfg.MinInterval, o.clock)
	summary := &Summary{
		Total:        len(c.Recipients),
		FailedEmails: []string{},
	}

	metrics.CampaignStarted()
	outcome := metrics.OutcomeAborted
	defer func() {
		summary.Duration = o.clock.Now().Sub(start)
		metrics.CampaignFinished(string(c.Kind), outcome, summary.Duration)
	}()

	c.logger.Info("campaign started", "recipients", summary.Total)

	for _, rcpt := range c.Recipients {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("campaign cancelled", "sent", summary.Sent, "failed", summary.Failed, "error", err)
			return summary, err
		}

		log := c.logger.With("recipient", rcpt.Email)

		msg, err := o.message(c, rcpt)
		if err != nil {
			return summary, err
		}

		lastErr, err := o.deliver(ctx, c, pacer, msg, log)
		if err != nil {
			log.Warn("campaign cancelled", "sent", summary.Sent, "failed", summary.Failed, "error", err)
			return summary, err
		}

		var rec progress.Record
		if lastErr == nil {
			summary.Sent++
			metrics.IncRecipientsSent(string(c.Kind))
			log.Info("recipient delivered")
			rec = progress.Success(rcpt.Email, summary.Sent, summary.Total)
		} else {
			summary.Failed++
			summary.FailedEmails = append(summary.FailedEmails, rcpt.Email)
			metrics.IncRecipientsFailed(string(c.Kind))
			log.Error("recipient failed", "error", lastErr)
			rec = progress.Failure(rcpt.Email, lastErr.Error(), summary.Sent, summary.Total)
		}

		if err := emitter.Emit(ctx, rec); err != nil {
			return summary, fmt.Errorf("emit progress: %w", err)
		}
	}

	if err := emitter.Emit(ctx, progress.Complete(summary.Sent, summary.Failed, summary.FailedEmails)); err != nil {
		return summary, fmt.Errorf("emit progress: %w", err)
	}

	outcome = metrics.OutcomeCompleted
	c.logger.Info("campaign completed", "sent", summary.Sent, "failed", summary.Failed)
	return summary, nil
}

// message builds the delivery for one recipient
func (o *Orchestrator) message(c *Campaign, rcpt email.Recipient) (*transport.Message, error) {
	htmlBody, textBody := c.HTML, c.Text
	if c.UseGreeting {
		var err error
		htmlBody, textBody, err = o.greeter.Personalize(rcpt, htmlBody, textBody)
		if err != nil {
			return nil, err
		}
	}

	return &transport.Message{
		From:        c.Sender,
		FromName:    c.SenderName,
		To:          rcpt.Email,
		ToName:      rcpt.Name,
		ReplyTo:     c.Sender,
		Subject:     c.Subject,
		HTML:        htmlBody,
		Text:        textBody,
		Attachments: c.Attachments,
	}, nil
}

// deliver runs the attempt loop for one recipient. It returns the last
// delivery error (nil on success), or a non-nil second error when ctx was
// cancelled during a wait.
func (o *Orchestrator) deliver(ctx context.Context, c *Campaign, pacer *ratelimit.Pacer, msg *transport.Message, log *slog.Logger) (lastErr, abortErr error) {
	kind := string(c.Kind)

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := ratelimit.Backoff(attempt-1, o.cfg.BackoffBase, o.cfg.BackoffMax)
			if hint, ok := transport.RetryAfterHint(lastErr); ok {
				delay = hint
				metrics.IncRateLimited(kind)
			}
			log.Debug("waiting before retry", "attempt", attempt, "delay", delay)
			if err := o.clock.Sleep(ctx, delay); err != nil {
				return lastErr, err
			}
			metrics.IncRetries(kind)
		}

		waited, err := pacer.Wait(ctx)
		if err != nil {
			return lastErr, err
		}
		metrics.ObservePacingWait(waited)

		result, err := o.attempt(ctx, c, msg)
		pacer.Release()
		metrics.IncDeliveryAttempts(kind, result)

		if err == nil {
			log.Debug("attempt succeeded", "attempt", attempt)
			return nil, nil
		}
		lastErr = err

		temporary := transport.IsTemporaryError(err)
		log.Warn("attempt failed",
			"attempt", attempt,
			"max_attempts", o.cfg.MaxAttempts,
			"temporary", temporary,
			"error", err)
		if !temporary {
			break
		}
	}

	return lastErr, nil
}

// attempt makes one delivery and checks acceptance. The network call is not
// interrupted by caller cancellation, only by the attempt timeout.
func (o *Orchestrator) attempt(ctx context.Context, c *Campaign, msg *transport.Message) (string, error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.AttemptTimeout)
	defer cancel()

	res, err := c.transport.Deliver(actx, msg)
	if err != nil {
		if transport.IsTemporaryError(err) {
			return metrics.ResultTemporary, err
		}
		return metrics.ResultPermanent, err
	}
	if err := transport.VerifyAcceptance(res, msg.To); err != nil {
		return metrics.ResultRejected, err
	}
	return metrics.ResultSuccess, nil
}

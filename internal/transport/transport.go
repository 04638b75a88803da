// Package transport delivers single messages through SMTP providers and
// HTTP email APIs behind one interface. Provider-specific response parsing
// stays inside the adapters; callers only see a Result or a DeliveryError.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/foxzi/blast/internal/email"
)

// Kind selects the provider a campaign is delivered through
type Kind string

const (
	KindGmail    Kind = "gmail"
	KindOutlook  Kind = "outlook"
	KindImprovMX Kind = "improvemx"
	KindResend   Kind = "resend"
	KindSES      Kind = "ses"
	KindSandbox  Kind = "sandbox"
)

// ErrUnknownKind is returned for provider names outside the Kind set
var ErrUnknownKind = errors.New("unknown email provider")

// ErrNotConfigured is returned by Registry.Open for kinds without an opener
var ErrNotConfigured = errors.New("email provider not configured")

// ParseKind resolves a provider name, case-insensitively
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	switch k {
	case KindGmail, KindOutlook, KindImprovMX, KindResend, KindSES, KindSandbox:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// IsSMTP reports whether the kind is delivered over an SMTP submission session
func (k Kind) IsSMTP() bool {
	switch k {
	case KindGmail, KindOutlook, KindImprovMX:
		return true
	}
	return false
}

// RequiresSecret reports whether the sender secret must be supplied with the
// request. SES falls back to the ambient AWS credential chain and the sandbox
// never authenticates.
func (k Kind) RequiresSecret() bool {
	return k != KindSES && k != KindSandbox
}

// Credentials identify the sender to the provider
type Credentials struct {
	Identity string
	Secret   string
}

// Message is one fully personalized delivery
type Message struct {
	From        string
	FromName    string
	To          string
	ToName      string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Attachments []email.Attachment
}

// Result is what the provider reported for an accepted submission.
// SMTP adapters fill Accepted and Rejected; API adapters usually leave both
// empty.
type Result struct {
	Accepted  []string
	Rejected  []string
	Response  string
	MessageID string
}

// Transport performs delivery attempts for one campaign
type Transport interface {
	// Deliver makes exactly one delivery attempt
	Deliver(ctx context.Context, msg *Message) (*Result, error)
	// Close releases sessions held for the campaign
	Close() error
}

// Opener creates a transport bound to one set of credentials
type Opener func(ctx context.Context, kind Kind, creds Credentials) (Transport, error)

// Registry resolves provider kinds to adapters
type Registry struct {
	mu      sync.RWMutex
	openers map[Kind]Opener
	logger  *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		openers: make(map[Kind]Opener),
		logger:  logger,
	}
}

// NewDefaultRegistry registers the adapters enabled by opts
func NewDefaultRegistry(opts Options, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)

	smtpOpener := func(ctx context.Context, kind Kind, creds Credentials) (Transport, error) {
		return OpenSMTP(ctx, kind, creds, opts.SMTP, logger.With("transport", string(kind)))
	}
	r.Register(KindGmail, smtpOpener)
	r.Register(KindOutlook, smtpOpener)
	r.Register(KindImprovMX, smtpOpener)

	if opts.Resend.Enabled {
		r.Register(KindResend, func(ctx context.Context, kind Kind, creds Credentials) (Transport, error) {
			return NewResend(creds, opts.Resend, logger.With("transport", string(kind))), nil
		})
	}
	if opts.SES.Enabled {
		r.Register(KindSES, func(ctx context.Context, kind Kind, creds Credentials) (Transport, error) {
			return OpenSES(ctx, creds, opts.SES, logger.With("transport", string(kind)))
		})
	}
	if opts.Sandbox.Enabled {
		r.Register(KindSandbox, func(ctx context.Context, kind Kind, creds Credentials) (Transport, error) {
			return NewSandbox(opts.Sandbox, logger.With("transport", string(kind))), nil
		})
	}

	return r
}

// Register installs or replaces the opener for kind
func (r *Registry) Register(kind Kind, opener Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[kind] = opener
}

// Supports reports whether kind has an opener
func (r *Registry) Supports(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.openers[kind]
	return ok
}

// Kinds lists the registered kinds in name order
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.openers))
	for k := range r.openers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Open resolves kind once and returns a transport scoped to one campaign
func (r *Registry) Open(ctx context.Context, kind Kind, creds Credentials) (Transport, error) {
	r.mu.RLock()
	opener, ok := r.openers[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, kind)
	}

	t, err := opener(ctx, kind, creds)
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", kind, err)
	}
	if r.logger != nil {
		r.logger.Debug("transport opened", "transport", string(kind), "identity", creds.Identity)
	}
	return t, nil
}

// Options configures the built-in adapters
type Options struct {
	SMTP    SMTPOptions
	Resend  ResendOptions
	SES     SESOptions
	Sandbox SandboxOptions
}

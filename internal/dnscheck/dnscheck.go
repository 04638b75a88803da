// Package dnscheck verifies that a sender domain publishes the DNS records
// receivers look at before accepting campaign mail.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/foxzi/blast/internal/email"
	"github.com/foxzi/blast/internal/transport"
)

// Domain validation errors
var (
	ErrInvalidDomain   = errors.New("invalid domain name")
	ErrInvalidSelector = errors.New("invalid DKIM selector")
)

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

var selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if DKIM selector is valid
func ValidateSelector(selector string) error {
	if selector == "" || len(selector) > 63 || !selectorRegex.MatchString(selector) {
		return ErrInvalidSelector
	}
	return nil
}

// spfIncludes is the mechanism a provider's sending hosts are published under
var spfIncludes = map[transport.Kind]string{
	transport.KindGmail:    "_spf.google.com",
	transport.KindOutlook:  "spf.protection.outlook.com",
	transport.KindImprovMX: "spf.improvmx.com",
	transport.KindSES:      "amazonses.com",
}

// Status of one record check
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusMissing Status = "missing"
	StatusError   Status = "error"
)

// Finding is the outcome of one record check
type Finding struct {
	Record  string `json:"record"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report collects the findings for one sender domain
type Report struct {
	Domain   string    `json:"domain"`
	Findings []Finding `json:"findings"`
}

// Ready reports whether no record is missing or failed to resolve.
// Warnings do not block.
func (r *Report) Ready() bool {
	for _, f := range r.Findings {
		if f.Status == StatusMissing || f.Status == StatusError {
			return false
		}
	}
	return true
}

// Resolver is the part of *net.Resolver the checks use
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Checker runs sender domain checks
type Checker struct {
	resolver Resolver
}

// NewChecker creates a checker. A nil resolver uses net.DefaultResolver.
func NewChecker(r Resolver) *Checker {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Checker{resolver: r}
}

// CheckSender checks SPF, DMARC and, when selector is set, DKIM for the
// domain of sender. kind adds a warning when SPF does not cover the
// provider's hosts.
func (c *Checker) CheckSender(ctx context.Context, sender string, kind transport.Kind, selector string) (*Report, error) {
	domain := email.ExtractDomain(sender)
	if err := ValidateDomain(domain); err != nil {
		return nil, fmt.Errorf("%w: %q", err, sender)
	}
	if selector != "" {
		if err := ValidateSelector(selector); err != nil {
			return nil, fmt.Errorf("%w: %q", err, selector)
		}
	}

	report := &Report{Domain: domain}
	report.Findings = append(report.Findings, c.checkSPF(ctx, domain, spfIncludes[kind]))
	if selector != "" {
		report.Findings = append(report.Findings, c.checkDKIM(ctx, domain, selector))
	}
	report.Findings = append(report.Findings, c.checkDMARC(ctx, domain))
	return report, nil
}

// lookup returns the joined TXT strings of name starting with prefix
func (c *Checker) lookup(ctx context.Context, f *Finding, prefix string) (string, bool) {
	records, err := c.resolver.LookupTXT(ctx, f.Name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			f.Status = StatusMissing
			f.Message = "no record published"
			return "", false
		}
		f.Status = StatusError
		f.Message = fmt.Sprintf("lookup failed: %v", err)
		return "", false
	}

	for _, txt := range records {
		if strings.HasPrefix(txt, prefix) {
			return txt, true
		}
	}
	f.Status = StatusMissing
	f.Message = fmt.Sprintf("no %s record among %d TXT record(s)", strings.TrimPrefix(prefix, "v="), len(records))
	return "", false
}

func (c *Checker) checkSPF(ctx context.Context, domain, include string) Finding {
	f := Finding{Record: "SPF", Name: domain}
	txt, ok := c.lookup(ctx, &f, "v=spf1")
	if !ok {
		return f
	}

	f.Status = StatusOK
	f.Value = txt
	switch {
	case strings.Contains(txt, "+all"):
		f.Status = StatusWarning
		f.Message = "+all allows any sender, use ~all or -all"
	case include != "" && !strings.Contains(txt, include):
		f.Status = StatusWarning
		f.Message = fmt.Sprintf("does not include %s", include)
	case strings.Contains(txt, "-all"):
		f.Message = "strict policy (-all)"
	case strings.Contains(txt, "~all"):
		f.Message = "soft fail (~all)"
	}
	return f
}

func (c *Checker) checkDKIM(ctx context.Context, domain, selector string) Finding {
	f := Finding{Record: "DKIM", Name: selector + "._domainkey." + domain}

	records, err := c.resolver.LookupTXT(ctx, f.Name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			f.Status = StatusMissing
			f.Message = fmt.Sprintf("no key published for selector %q", selector)
			return f
		}
		f.Status = StatusError
		f.Message = fmt.Sprintf("lookup failed: %v", err)
		return f
	}

	// long keys are split across strings
	full := strings.Join(records, "")
	f.Value = truncate(full, 100)
	switch {
	case !strings.Contains(full, "v=DKIM1"):
		f.Status = StatusWarning
		f.Message = "TXT record is not a DKIM key"
	case !strings.Contains(full, "p=") || strings.Contains(full, "p=;") || strings.HasSuffix(full, "p="):
		f.Status = StatusWarning
		f.Message = "key revoked or missing (empty p=)"
	default:
		f.Status = StatusOK
	}
	return f
}

func (c *Checker) checkDMARC(ctx context.Context, domain string) Finding {
	f := Finding{Record: "DMARC", Name: "_dmarc." + domain}
	txt, ok := c.lookup(ctx, &f, "v=DMARC1")
	if !ok {
		return f
	}

	f.Status = StatusOK
	f.Value = txt
	switch {
	case strings.Contains(txt, "p=reject"):
		f.Message = "reject policy"
	case strings.Contains(txt, "p=quarantine"):
		f.Message = "quarantine policy"
	case strings.Contains(txt, "p=none"):
		f.Status = StatusWarning
		f.Message = "none policy (monitoring only)"
	}
	return f
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

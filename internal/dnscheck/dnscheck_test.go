package dnscheck

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/foxzi/blast/internal/transport"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if name == "fail.example.com" {
		return nil, errors.New("i/o timeout")
	}
	records, ok := f[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return records, nil
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"valid simple", "example.com", false},
		{"valid subdomain", "sub.example.com", false},
		{"valid with dash", "my-domain.com", false},
		{"valid with numbers", "123.example.com", false},
		{"empty", "", true},
		{"too long", string(make([]byte, 254)), true},
		{"invalid chars", "example!.com", true},
		{"starts with dash", "-example.com", true},
		{"ends with dash", "example-.com", true},
		{"double dot", "example..com", true},
		{"path injection", "../etc/passwd", true},
		{"null byte", "example\x00.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomain(tt.domain)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDomain(%q) error = %v, wantErr %v", tt.domain, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSelector(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		wantErr  bool
	}{
		{"valid simple", "blast", false},
		{"valid with numbers", "key2024", false},
		{"valid with dash", "dkim-key", false},
		{"empty", "", true},
		{"too long", string(make([]byte, 64)), true},
		{"invalid chars", "selector!", true},
		{"starts with dash", "-selector", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSelector(tt.selector)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSelector(%q) error = %v, wantErr %v", tt.selector, err, tt.wantErr)
			}
		})
	}
}

func TestCheckSender(t *testing.T) {
	resolver := fakeResolver{
		"example.com":                   {"google-site-verification=abc", "v=spf1 include:spf.improvmx.com -all"},
		"blast._domainkey.example.com":  {"v=DKIM1; k=rsa; p=MIIBIjAN", "BgkqhkiG9w0B"},
		"_dmarc.example.com":            {"v=DMARC1; p=quarantine; rua=mailto:d@example.com"},
		"weak.com":                      {"v=spf1 +all"},
		"_dmarc.weak.com":               {"v=DMARC1; p=none"},
		"revoked._domainkey.weak.com":   {"v=DKIM1; k=rsa; p="},
		"other.com":                     {"some-verification=xyz"},
	}
	checker := NewChecker(resolver)

	t.Run("ready domain", func(t *testing.T) {
		report, err := checker.CheckSender(context.Background(), "News <news@Example.com>", transport.KindImprovMX, "blast")
		if err != nil {
			t.Fatalf("CheckSender() error = %v", err)
		}
		if report.Domain != "example.com" {
			t.Errorf("Domain = %q", report.Domain)
		}
		if len(report.Findings) != 3 {
			t.Fatalf("got %d findings, want 3", len(report.Findings))
		}
		for _, f := range report.Findings {
			if f.Status != StatusOK {
				t.Errorf("%s status = %s (%s)", f.Record, f.Status, f.Message)
			}
		}
		if !report.Ready() {
			t.Error("Ready() = false")
		}
	})

	t.Run("provider not in spf", func(t *testing.T) {
		report, _ := checker.CheckSender(context.Background(), "news@example.com", transport.KindSES, "")
		if len(report.Findings) != 2 {
			t.Fatalf("got %d findings, want 2 without selector", len(report.Findings))
		}
		if f := report.Findings[0]; f.Status != StatusWarning || f.Message != "does not include amazonses.com" {
			t.Errorf("SPF finding = %+v", f)
		}
		if !report.Ready() {
			t.Error("warnings must not block readiness")
		}
	})

	t.Run("weak policies", func(t *testing.T) {
		report, _ := checker.CheckSender(context.Background(), "a@weak.com", transport.KindResend, "revoked")
		want := []Status{StatusWarning, StatusWarning, StatusWarning}
		for i, f := range report.Findings {
			if f.Status != want[i] {
				t.Errorf("%s status = %s, want %s", f.Record, f.Status, want[i])
			}
		}
	})

	t.Run("missing records", func(t *testing.T) {
		report, _ := checker.CheckSender(context.Background(), "a@other.com", transport.KindGmail, "blast")
		for _, f := range report.Findings {
			if f.Status != StatusMissing {
				t.Errorf("%s status = %s, want missing", f.Record, f.Status)
			}
		}
		if report.Ready() {
			t.Error("Ready() = true with missing records")
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		report, _ := checker.CheckSender(context.Background(), "a@fail.example.com", transport.KindGmail, "")
		if report.Findings[0].Status != StatusError {
			t.Errorf("SPF status = %s, want error", report.Findings[0].Status)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		if _, err := checker.CheckSender(context.Background(), "no-domain", transport.KindGmail, ""); !errors.Is(err, ErrInvalidDomain) {
			t.Errorf("error = %v, want ErrInvalidDomain", err)
		}
		if _, err := checker.CheckSender(context.Background(), "a@example.com", transport.KindGmail, "bad!"); !errors.Is(err, ErrInvalidSelector) {
			t.Errorf("error = %v, want ErrInvalidSelector", err)
		}
	})
}

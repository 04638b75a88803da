package email

import "testing"

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"simple", "user@example.com", "example.com"},
		{"with name", "User Name <user@example.com>", "example.com"},
		{"uppercase", "user@EXAMPLE.COM", "example.com"},
		{"invalid no at", "invalid", ""},
		{"invalid empty before at", "@example.com", ""},
		{"invalid empty after at", "user@", ""},
		{"empty", "", ""},
		{"subdomain", "user@mail.example.com", "mail.example.com"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ExtractDomain(tc.email)
			if result != tc.expected {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tc.email, result, tc.expected)
			}
		})
	}
}

func TestExtractDomainOrDefault(t *testing.T) {
	if got := ExtractDomainOrDefault("invalid", "localhost"); got != "localhost" {
		t.Errorf("ExtractDomainOrDefault = %q, want localhost", got)
	}
	if got := ExtractDomainOrDefault("a@b.org", "localhost"); got != "b.org" {
		t.Errorf("ExtractDomainOrDefault = %q, want b.org", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User@Example.COM", "user@example.com"},
		{"  spaced@example.com ", "spaced@example.com"},
		{"Jane Doe <Jane@Example.com>", "jane@example.com"},
		{"not an address", "not an address"},
	}

	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRecipientKey(t *testing.T) {
	a := Recipient{Name: "A", Email: "Ann@Example.com "}
	b := Recipient{Name: "B", Email: "ann@example.com"}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
}

func TestFormatAddress(t *testing.T) {
	if got := FormatAddress("", "a@example.com"); got != "a@example.com" {
		t.Errorf("FormatAddress without name = %q", got)
	}
	if got := FormatAddress("Ann", "a@example.com"); got != `"Ann" <a@example.com>` {
		t.Errorf("FormatAddress with name = %q", got)
	}
}

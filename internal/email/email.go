// Package email provides address helpers and the value types shared by the
// renderer, the transports and the campaign orchestrator.
package email

import (
	"net/mail"
	"strings"
)

// Recipient is a single campaign addressee
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Key returns the identity used to de-duplicate recipient lists
func (r Recipient) Key() string {
	return strings.ToLower(strings.TrimSpace(r.Email))
}

// Attachment is an inline file derived from the message document.
// Content holds the base64 payload as found in the source data URL.
type Attachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	ContentID   string `json:"cid"`
	ContentType string `json:"contentType,omitempty"`
}

// Normalize returns the bare lower-cased address, dropping any display name.
// Unparseable input is trimmed and lower-cased as is.
func Normalize(address string) string {
	address = strings.TrimSpace(address)
	if addr, err := mail.ParseAddress(address); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(address)
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr := Normalize(email)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}

// ExtractDomainOrDefault extracts the domain part from an email address.
// Returns the provided default value if the email is invalid or domain is empty.
func ExtractDomainOrDefault(email, defaultDomain string) string {
	domain := ExtractDomain(email)
	if domain == "" {
		return defaultDomain
	}
	return domain
}

// FormatAddress renders "Name <email>" or just the email when name is empty
func FormatAddress(name, email string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return email
	}
	return (&mail.Address{Name: name, Address: email}).String()
}

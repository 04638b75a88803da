package campaign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/foxzi/blast/internal/document"
	"github.com/foxzi/blast/internal/email"
	"github.com/foxzi/blast/internal/transport"
)

// ValidationError is a request problem reported to the caller before any
// delivery starts. Message is a single user-facing line.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Request is the payload that starts a campaign
type Request struct {
	SenderEmail    string            `json:"senderEmail"`
	SenderPassword string            `json:"senderPassword"`
	SenderName     string            `json:"senderName,omitempty"`
	Recipients     []email.Recipient `json:"recipients"`
	Subject        string            `json:"subject"`
	Text           string            `json:"text"`
	EmailProvider  string            `json:"emailProvider"`
	UseGreeting    bool              `json:"useGreeting"`
}

type wireRequest struct {
	SenderEmail    json.RawMessage `json:"senderEmail"`
	SenderPassword json.RawMessage `json:"senderPassword"`
	SenderName     json.RawMessage `json:"senderName"`
	Recipients     json.RawMessage `json:"recipients"`
	Subject        json.RawMessage `json:"subject"`
	Text           json.RawMessage `json:"text"`
	EmailProvider  json.RawMessage `json:"emailProvider"`
	UseGreeting    json.RawMessage `json:"useGreeting"`
}

// DecodeRequest reads a JSON request body. Fields of the wrong JSON type are
// reported as validation errors; a body that is valid JSON but not an object
// decodes to an empty request.
func DecodeRequest(r io.Reader) (*Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if !json.Valid(data) {
		return nil, invalid("Invalid JSON request body.")
	}

	var wire wireRequest
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, invalid("Invalid JSON request body.")
		}
	}

	req := &Request{
		SenderEmail:    rawString(wire.SenderEmail),
		SenderPassword: rawString(wire.SenderPassword),
		SenderName:     rawString(wire.SenderName),
		Text:           rawString(wire.Text),
		EmailProvider:  rawString(wire.EmailProvider),
	}

	if isPresent(wire.Recipients) {
		if bytes.TrimSpace(wire.Recipients)[0] != '[' {
			return nil, invalid("Invalid recipients. Expected an array.")
		}
		if err := json.Unmarshal(wire.Recipients, &req.Recipients); err != nil {
			return nil, invalid("Invalid recipients. Each entry must be an object with name and email.")
		}
		if req.Recipients == nil {
			req.Recipients = []email.Recipient{}
		}
	}

	if isPresent(wire.Subject) {
		if err := json.Unmarshal(wire.Subject, &req.Subject); err != nil {
			return nil, invalid("Invalid subject. Expected a string.")
		}
	}

	if isPresent(wire.UseGreeting) {
		// Non-boolean values leave the greeting off
		_ = json.Unmarshal(wire.UseGreeting, &req.UseGreeting)
	}

	return req, nil
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// rawString returns the string value of raw, or "" for any other JSON type
func rawString(raw json.RawMessage) string {
	if !isPresent(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Validate checks the request against the enabled providers and returns the
// resolved transport kind with the parsed document. Credentials and recipient
// addresses are trimmed in place.
func (r *Request) Validate(providers []transport.Kind) (transport.Kind, *document.Document, error) {
	r.SenderEmail = strings.TrimSpace(r.SenderEmail)
	r.SenderPassword = strings.TrimSpace(r.SenderPassword)
	r.SenderName = strings.TrimSpace(r.SenderName)

	kind, kindErr := transport.ParseKind(r.EmailProvider)
	if kindErr == nil && !containsKind(providers, kind) {
		kindErr = transport.ErrNotConfigured
	}

	if r.SenderEmail == "" {
		return "", nil, invalid("Missing senderEmail. Enter your SMTP username/email in the UI.")
	}
	if r.SenderPassword == "" && (kindErr != nil || kind.RequiresSecret()) {
		return "", nil, invalid("Missing senderPassword. Enter your SMTP password (or app password) in the UI.")
	}

	if r.Recipients == nil {
		return "", nil, invalid("Invalid recipients. Expected an array.")
	}
	for i := range r.Recipients {
		r.Recipients[i].Email = strings.TrimSpace(r.Recipients[i].Email)
		if r.Recipients[i].Email == "" {
			return "", nil, invalid("Invalid recipients. Entry %d has no email address.", i+1)
		}
	}

	if strings.TrimSpace(r.Subject) == "" {
		return "", nil, invalid("Missing subject.")
	}
	if strings.TrimSpace(r.Text) == "" {
		return "", nil, invalid("Missing email content (Editor.js JSON in `text`).")
	}

	if kindErr != nil {
		return "", nil, invalid("Invalid emailProvider. Expected %s.", describeKinds(providers))
	}

	doc, err := document.Parse(r.Text)
	if err != nil {
		return "", nil, invalid("Invalid Editor.js JSON in `text`.")
	}

	return kind, doc, nil
}

func containsKind(kinds []transport.Kind, k transport.Kind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

// describeKinds renders "'a', 'b', or 'c'"
func describeKinds(kinds []transport.Kind) string {
	quoted := make([]string, len(kinds))
	for i, k := range kinds {
		quoted[i] = "'" + string(k) + "'"
	}
	switch len(quoted) {
	case 0:
		return "a configured provider"
	case 1:
		return quoted[0]
	case 2:
		return quoted[0] + " or " + quoted[1]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + ", or " + quoted[len(quoted)-1]
}

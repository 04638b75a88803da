package campaign

import (
	"fmt"
	"html"

	"github.com/osteele/liquid"

	"github.com/foxzi/blast/internal/email"
)

// DefaultGreeting is the salutation prepended when a request asks for one
const DefaultGreeting = "Dear {{ name }},"

// Greeter renders the per-recipient salutation. An empty name is rendered
// as is, giving "Dear ,".
type Greeter struct {
	tpl *liquid.Template
}

// NewGreeter compiles a liquid greeting template. The bindings are name and
// email.
func NewGreeter(src string) (*Greeter, error) {
	if src == "" {
		src = DefaultGreeting
	}
	tpl, err := liquid.NewEngine().ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse greeting template: %w", err)
	}
	return &Greeter{tpl: tpl}, nil
}

// Line renders the salutation for r
func (g *Greeter) Line(r email.Recipient) (string, error) {
	out, err := g.tpl.RenderString(map[string]any{
		"name":  r.Name,
		"email": r.Email,
	})
	if err != nil {
		return "", fmt.Errorf("render greeting: %w", err)
	}
	return out, nil
}

// Personalize prefixes both bodies with the salutation. The HTML copy is
// escaped and wrapped in a paragraph.
func (g *Greeter) Personalize(r email.Recipient, htmlBody, textBody string) (string, string, error) {
	line, err := g.Line(r)
	if err != nil {
		return "", "", err
	}
	return "<p>" + html.EscapeString(line) + "</p>" + htmlBody, line + "\n\n" + textBody, nil
}

package document

import (
	"strings"

	"github.com/foxzi/blast/internal/email"
)

// Attachments derives the inline attachment set from the document's image
// blocks. Blocks without an id or without a well-formed base64 data URL are
// skipped.
func Attachments(doc *Document) []email.Attachment {
	if doc == nil {
		return nil
	}

	var out []email.Attachment
	for _, block := range doc.Blocks {
		if block.Type != BlockImage || block.ID == "" {
			continue
		}
		var d imageData
		if !block.decode(&d) {
			continue
		}
		if att, ok := imageAttachment(block.ID, d.File.URL); ok {
			out = append(out, att)
		}
	}
	return out
}

// imageAttachment parses data:<mime>;base64,<payload>
func imageAttachment(id, url string) (email.Attachment, bool) {
	meta, rest, found := strings.Cut(url, ",")
	if !found {
		return email.Attachment{}, false
	}
	// the payload ends at the next separator, if any
	payload, _, _ := strings.Cut(rest, ",")
	if payload == "" {
		return email.Attachment{}, false
	}
	if !strings.HasPrefix(meta, "data:") || !strings.HasSuffix(meta, ";base64") {
		return email.Attachment{}, false
	}

	contentType := strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64")
	if contentType == "" {
		contentType = "image/png"
	}

	return email.Attachment{
		Filename:    "image-" + id + ".png",
		Content:     payload,
		Encoding:    "base64",
		ContentID:   id,
		ContentType: contentType,
	}, true
}

package transport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/blast/internal/email"
)

const base64LineLength = 76

// BuildMIME renders msg as an RFC 5322 message. The body is a
// multipart/alternative of text and HTML, wrapped in multipart/related when
// inline attachments are present. It returns the raw message and its
// Message-ID.
func BuildMIME(msg *Message, idDomain string) ([]byte, string, error) {
	if idDomain == "" {
		idDomain = email.ExtractDomainOrDefault(msg.From, "localhost")
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), idDomain)

	var buf bytes.Buffer
	writeHeader(&buf, "From", email.FormatAddress(msg.FromName, msg.From))
	writeHeader(&buf, "To", email.FormatAddress(msg.ToName, msg.To))
	if msg.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", msg.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID)
	writeHeader(&buf, "MIME-Version", "1.0")

	inline := decodeAttachments(msg.Attachments)
	altBoundary := "alt-" + uuid.NewString()
	altType := mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": altBoundary})

	if len(inline) == 0 {
		writeHeader(&buf, "Content-Type", altType)
		buf.WriteString("\r\n")
		if err := writeAlternative(&buf, altBoundary, msg); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), messageID, nil
	}

	related := multipart.NewWriter(&buf)
	if err := related.SetBoundary("rel-" + uuid.NewString()); err != nil {
		return nil, "", err
	}
	writeHeader(&buf, "Content-Type", mime.FormatMediaType("multipart/related", map[string]string{
		"boundary": related.Boundary(),
		"type":     "multipart/alternative",
	}))
	buf.WriteString("\r\n")

	part, err := related.CreatePart(textproto.MIMEHeader{"Content-Type": {altType}})
	if err != nil {
		return nil, "", err
	}
	if err := writeAlternative(part, altBoundary, msg); err != nil {
		return nil, "", err
	}

	for _, att := range inline {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", mime.FormatMediaType(att.contentType, map[string]string{"name": att.filename}))
		header.Set("Content-Transfer-Encoding", "base64")
		header.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": att.filename}))
		if att.contentID != "" {
			header.Set("Content-ID", "<"+att.contentID+">")
		}
		part, err := related.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if err := writeBase64Lines(part, att.data); err != nil {
			return nil, "", err
		}
	}

	if err := related.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), messageID, nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writeAlternative(w io.Writer, boundary string, msg *Message) error {
	alt := multipart.NewWriter(w)
	if err := alt.SetBoundary(boundary); err != nil {
		return err
	}

	bodies := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, b := range bodies {
		part, err := alt.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {b.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return err
		}
		qp := quotedprintable.NewWriter(part)
		if _, err := io.WriteString(qp, b.body); err != nil {
			return err
		}
		if err := qp.Close(); err != nil {
			return err
		}
	}
	return alt.Close()
}

func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := min(base64LineLength, len(encoded))
		if _, err := io.WriteString(w, encoded[:n]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

type decodedAttachment struct {
	filename    string
	contentType string
	contentID   string
	data        []byte
}

// decodeAttachments decodes base64 attachment payloads, dropping the ones
// that do not decode
func decodeAttachments(atts []email.Attachment) []decodedAttachment {
	out := make([]decodedAttachment, 0, len(atts))
	for _, a := range atts {
		data, err := DecodeAttachment(a)
		if err != nil {
			continue
		}
		ct := a.ContentType
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(a.Filename))
		}
		if ct == "" {
			ct = "application/octet-stream"
		}
		out = append(out, decodedAttachment{
			filename:    a.Filename,
			contentType: ct,
			contentID:   a.ContentID,
			data:        data,
		})
	}
	return out
}

// DecodeAttachment returns the raw bytes of a base64 attachment
func DecodeAttachment(a email.Attachment) ([]byte, error) {
	if a.Encoding != "" && !strings.EqualFold(a.Encoding, "base64") {
		return nil, fmt.Errorf("unsupported attachment encoding %q", a.Encoding)
	}
	payload := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, a.Content)
	if payload == "" {
		return nil, fmt.Errorf("attachment %s is empty", a.Filename)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// data URLs from browsers sometimes drop the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", a.Filename, err)
	}
	return data, nil
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/resend/resend-go/v3"
)

const (
	defaultResendEndpoint = "https://api.resend.com/emails"
	maxErrorBodyBytes     = 4096
)

// ResendOptions configures the HTTP email API adapter
type ResendOptions struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
	// Client replaces the default HTTP client, mostly for tests
	Client *http.Client
	// Now is used to resolve HTTP-date Retry-After values
	Now func() time.Time
}

// resendTransport posts one JSON envelope per message. It holds no session,
// so Close is a no-op.
type resendTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
	now      func() time.Time
	logger   *slog.Logger
}

// NewResend creates the HTTP email API adapter. The sender secret is the API key.
func NewResend(creds Credentials, opts ResendOptions, logger *slog.Logger) Transport {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultResendEndpoint
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &resendTransport{
		endpoint: opts.Endpoint,
		apiKey:   creds.Secret,
		client:   client,
		now:      now,
		logger:   logger,
	}
}

func (t *resendTransport) Deliver(ctx context.Context, msg *Message) (*Result, error) {
	body, err := json.Marshal(t.envelope(msg))
	if err != nil {
		return nil, permanentf("encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanentf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, temporaryf("request to %s failed: %v", t.endpoint, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	text := strings.TrimSpace(string(respBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		de := &DeliveryError{
			Temporary:  true,
			Message:    fmt.Sprintf("rate limited: %s", text),
			StatusCode: resp.StatusCode,
		}
		de.RetryAfter, de.HasRetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), t.now())
		return nil, de
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if text == "" {
			text = resp.Status
		}
		return nil, &DeliveryError{
			Temporary:  false,
			Message:    text,
			StatusCode: resp.StatusCode,
		}
	}

	res := &Result{Response: resp.Status}
	var sent resend.SendEmailResponse
	if err := json.Unmarshal(respBody, &sent); err == nil {
		res.MessageID = sent.Id
	}
	t.logger.Debug("message accepted by API", "to", msg.To, "message_id", res.MessageID)
	return res, nil
}

func (t *resendTransport) Close() error { return nil }

func (t *resendTransport) envelope(msg *Message) *resend.SendEmailRequest {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}
	for _, a := range msg.Attachments {
		data, err := DecodeAttachment(a)
		if err != nil {
			t.logger.Warn("skipping undecodable attachment", "filename", a.Filename, "error", err)
			continue
		}
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     data,
			ContentType: a.ContentType,
			ContentId:   a.ContentID,
		})
	}
	return req
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
)

// SESAPI is the part of the SES v2 client the adapter uses
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESOptions configures the Amazon SES adapter
type SESOptions struct {
	Enabled          bool
	Region           string
	ConfigurationSet string
	MessageIDDomain  string
	DKIM             DKIMSigner
	// Client replaces the SDK client, mostly for tests
	Client SESAPI
}

var sesTemporaryCodes = map[string]bool{
	"TooManyRequestsException": true,
	"Throttling":               true,
	"ThrottlingException":      true,
	"LimitExceededException":   true,
	"ServiceUnavailable":       true,
}

var sesPermanentCodes = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"BadRequestException":                true,
	"NotFoundException":                  true,
}

type sesTransport struct {
	client SESAPI
	opts   SESOptions
	logger *slog.Logger
}

// OpenSES creates the SES adapter. A secret of the form
// "ACCESS_KEY_ID:SECRET_ACCESS_KEY" selects static credentials, otherwise the
// default AWS credential chain is used.
func OpenSES(ctx context.Context, creds Credentials, opts SESOptions, logger *slog.Logger) (Transport, error) {
	client := opts.Client
	if client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{}
		if opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
		}
		if id, secret, ok := strings.Cut(creds.Secret, ":"); ok && id != "" && secret != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(id, secret, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client = sesv2.NewFromConfig(awsCfg)
	}

	return &sesTransport{
		client: client,
		opts:   opts,
		logger: logger,
	}, nil
}

func (t *sesTransport) Deliver(ctx context.Context, msg *Message) (*Result, error) {
	raw, messageID, err := BuildMIME(msg, t.opts.MessageIDDomain)
	if err != nil {
		return nil, permanentf("build message: %v", err)
	}
	if t.opts.DKIM != nil {
		if signed, ok, err := t.opts.DKIM.SignFor(msg.From, raw); err != nil {
			t.logger.Warn("DKIM signing failed, sending unsigned", "from", msg.From, "error", err)
		} else if ok {
			raw = signed
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if t.opts.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(t.opts.ConfigurationSet)
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}

	res := &Result{Response: "accepted by SES", MessageID: messageID}
	if out != nil && out.MessageId != nil {
		res.MessageID = *out.MessageId
	}
	return res, nil
}

func (t *sesTransport) Close() error { return nil }

func classifySESError(err error) *DeliveryError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case sesTemporaryCodes[code]:
			return &DeliveryError{Temporary: true, Message: fmt.Sprintf("SES %s: %s", code, apiErr.ErrorMessage())}
		case sesPermanentCodes[code]:
			return &DeliveryError{Temporary: false, Message: fmt.Sprintf("SES %s: %s", code, apiErr.ErrorMessage())}
		}
	}
	return temporaryf("SES send failed: %v", err)
}

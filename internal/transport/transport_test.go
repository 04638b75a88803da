package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"gmail", KindGmail, false},
		{" Outlook ", KindOutlook, false},
		{"IMPROVEMX", KindImprovMX, false},
		{"resend", KindResend, false},
		{"ses", KindSES, false},
		{"sandbox", KindSandbox, false},
		{"yahoo", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindProperties(t *testing.T) {
	assert.True(t, KindGmail.IsSMTP())
	assert.True(t, KindImprovMX.IsSMTP())
	assert.False(t, KindResend.IsSMTP())

	assert.True(t, KindOutlook.RequiresSecret())
	assert.True(t, KindResend.RequiresSecret())
	assert.False(t, KindSES.RequiresSecret())
	assert.False(t, KindSandbox.RequiresSecret())
}

func TestSMTPHost(t *testing.T) {
	assert.Equal(t, "smtp.gmail.com", SMTPHost(KindGmail))
	assert.Equal(t, "smtp.office365.com", SMTPHost(KindOutlook))
	assert.Equal(t, "smtp.improvmx.com", SMTPHost(KindImprovMX))
	assert.Equal(t, "smtp.improvmx.com", SMTPHost(Kind("other")))
}

type nopTransport struct{}

func (nopTransport) Deliver(context.Context, *Message) (*Result, error) { return &Result{}, nil }
func (nopTransport) Close() error                                       { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry(discardLogger())

	var gotCreds Credentials
	r.Register(KindSandbox, func(ctx context.Context, kind Kind, creds Credentials) (Transport, error) {
		gotCreds = creds
		return nopTransport{}, nil
	})
	r.Register(KindResend, func(ctx context.Context, kind Kind, creds Credentials) (Transport, error) {
		return nil, errors.New("boom")
	})

	assert.Equal(t, []Kind{KindResend, KindSandbox}, r.Kinds())
	assert.True(t, r.Supports(KindSandbox))
	assert.False(t, r.Supports(KindGmail))

	tr, err := r.Open(context.Background(), KindSandbox, Credentials{Identity: "me@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, tr)
	assert.Equal(t, "me@example.com", gotCreds.Identity)

	_, err = r.Open(context.Background(), KindGmail, Credentials{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = r.Open(context.Background(), KindResend, Credentials{})
	assert.ErrorContains(t, err, "boom")
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(Options{
		Resend:  ResendOptions{Enabled: true},
		Sandbox: SandboxOptions{Enabled: true},
	}, discardLogger())

	assert.Equal(t, []Kind{KindGmail, KindImprovMX, KindOutlook, KindResend, KindSandbox}, r.Kinds())
	assert.False(t, r.Supports(KindSES))
}

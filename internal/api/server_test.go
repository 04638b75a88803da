package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/blast/internal/campaign"
	"github.com/foxzi/blast/internal/config"
	"github.com/foxzi/blast/internal/progress"
	"github.com/foxzi/blast/internal/transport"
)

const testDoc = `{"blocks":[{"id":"p1","type":"paragraph","data":{"text":"Hello there"}}]}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gatedTransport blocks deliveries to gated addresses until release is closed
type gatedTransport struct {
	gated   string
	release chan struct{}
}

func (g *gatedTransport) Deliver(ctx context.Context, msg *transport.Message) (*transport.Result, error) {
	if msg.To == g.gated {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &transport.Result{Accepted: []string{msg.To}}, nil
}

func (g *gatedTransport) Close() error { return nil }

type testEnv struct {
	server  *Server
	mailbox *transport.Mailbox
	gate    *gatedTransport
}

func newTestEnv(t *testing.T, mutate func(cfg *config.APIConfig)) *testEnv {
	t.Helper()
	logger := discardLogger()

	box := transport.NewMailbox(10)
	gate := &gatedTransport{release: make(chan struct{})}

	registry := transport.NewRegistry(logger)
	registry.Register(transport.KindSandbox, func(ctx context.Context, kind transport.Kind, creds transport.Credentials) (transport.Transport, error) {
		return transport.NewSandbox(transport.SandboxOptions{Enabled: true, Mailbox: box}, logger), nil
	})
	registry.Register(transport.KindGmail, func(ctx context.Context, kind transport.Kind, creds transport.Credentials) (transport.Transport, error) {
		return nil, &transport.DeliveryError{Message: "535 5.7.8 Username and Password not accepted", StatusCode: 535}
	})
	registry.Register(transport.KindResend, func(ctx context.Context, kind transport.Kind, creds transport.Credentials) (transport.Transport, error) {
		return gate, nil
	})

	ccfg := campaign.DefaultConfig()
	ccfg.MinInterval = 0
	orch, err := campaign.New(ccfg, registry, logger)
	require.NoError(t, err)

	apiCfg := config.Default().API
	if mutate != nil {
		mutate(&apiCfg)
	}

	return &testEnv{
		server:  NewServer(orch, box, &apiCfg, logger),
		mailbox: box,
		gate:    gate,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func campaignBody(t *testing.T, provider string, recipients ...string) io.Reader {
	t.Helper()
	rcpts := make([]map[string]string, 0, len(recipients))
	for _, r := range recipients {
		rcpts = append(rcpts, map[string]string{"name": "", "email": r})
	}
	body, err := json.Marshal(map[string]any{
		"senderEmail":    "me@example.com",
		"senderPassword": "secret",
		"recipients":     rcpts,
		"subject":        "Hello",
		"text":           testDoc,
		"emailProvider":  provider,
		"useGreeting":    true,
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestSendEmails_StreamsProgress(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/sendEmails", "/api/v1/campaigns"} {
		t.Run(path, func(t *testing.T) {
			env.mailbox.Clear()
			rr := env.do(httptest.NewRequest("POST", path, campaignBody(t, "sandbox", "a@example.com", "b@example.com")))

			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
			assert.NotEmpty(t, rr.Header().Get("X-Campaign-ID"))

			records, err := progress.ReadAll(rr.Body, nil)
			require.NoError(t, err)
			assert.Equal(t, []progress.Record{
				progress.Success("a@example.com", 1, 2),
				progress.Success("b@example.com", 2, 2),
				progress.Complete(2, 0, []string{}),
			}, records)

			msgs := env.mailbox.Messages()
			require.Len(t, msgs, 2)
			assert.True(t, strings.HasPrefix(msgs[0].Text, "Dear ,\n\nHello there"), msgs[0].Text)
		})
	}
}

func TestSendEmails_EmptyRecipients(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(httptest.NewRequest("POST", "/api/sendEmails", campaignBody(t, "sandbox")))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"status":"complete","sent":0,"failed":0,"failedEmails":[]}`+"\n", rr.Body.String())
}

func TestSendEmails_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"senderEmail"`, "Invalid JSON request body."},
		{"missing sender", `{"senderPassword":"x"}`, "Missing senderEmail. Enter your SMTP username/email in the UI."},
		{"recipients not array", `{"senderEmail":"a@b.c","senderPassword":"x","recipients":{}}`, "Invalid recipients. Expected an array."},
		{"bad provider", `{"senderEmail":"a@b.c","senderPassword":"x","recipients":[],"subject":"s","text":"{}","emailProvider":"yahoo"}`,
			"Invalid emailProvider. Expected 'gmail', 'resend', or 'sandbox'."},
		{"bad document", `{"senderEmail":"a@b.c","senderPassword":"x","recipients":[],"subject":"s","text":"hello","emailProvider":"sandbox"}`,
			"Invalid Editor.js JSON in `text`."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(httptest.NewRequest("POST", "/api/sendEmails", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, tt.want, errorMessage(t, rr))
		})
	}
}

func TestSendEmails_TransportSetupFailure(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(httptest.NewRequest("POST", "/api/sendEmails", campaignBody(t, "gmail", "a@example.com")))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "535 5.7.8 Username and Password not accepted")
}

func TestSendEmails_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) { cfg.MaxBodyBytes = 16 })

	rr := env.do(httptest.NewRequest("POST", "/api/sendEmails", campaignBody(t, "sandbox", "a@example.com")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestSendEmails_IsIncremental(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gate.gated = "b@example.com"

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sendEmails", "application/json", campaignBody(t, "resend", "a@example.com", "b@example.com"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadBytes('\n')
	require.NoError(t, err)

	var first progress.Record
	require.NoError(t, json.Unmarshal(line, &first))
	assert.Equal(t, progress.Success("a@example.com", 1, 2), first)

	// second delivery is still blocked, the first record already arrived
	close(env.gate.release)

	rest, err := progress.ReadAll(br, nil)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, progress.StatusComplete, rest[1].Status)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) { cfg.APIKey = "s3cret" })

	rr := env.do(httptest.NewRequest("POST", "/api/sendEmails", campaignBody(t, "sandbox")))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest("POST", "/api/sendEmails", campaignBody(t, "sandbox"))
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, env.do(req).Code)

	req = httptest.NewRequest("GET", "/api/v1/providers", nil)
	req.Header.Set("X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, env.do(req).Code)

	req = httptest.NewRequest("GET", "/api/v1/providers", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, env.do(req).Code)

	// health stays open
	assert.Equal(t, http.StatusOK, env.do(httptest.NewRequest("GET", "/health", nil)).Code)
}

func TestIPFilter(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) { cfg.AllowedIPs = []string{"10.0.0.0/8"} })

	req := httptest.NewRequest("GET", "/api/v1/providers", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	assert.Equal(t, http.StatusForbidden, env.do(req).Code)

	req = httptest.NewRequest("GET", "/api/v1/providers", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	assert.Equal(t, http.StatusOK, env.do(req).Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) {
		cfg.CORS.AllowedOrigins = []string{"https://composer.example.com"}
	})

	req := httptest.NewRequest("OPTIONS", "/api/sendEmails", nil)
	req.Header.Set("Origin", "https://composer.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rr := env.do(req)

	assert.Equal(t, "https://composer.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("OPTIONS", "/api/sendEmails", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr = env.do(req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, []string{"gmail", "resend", "sandbox"}, resp.Providers)
	assert.Zero(t, resp.ActiveCampaigns)
}

func TestProviders(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(httptest.NewRequest("GET", "/api/v1/providers", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ProvidersResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []ProviderInfo{
		{Name: "gmail", SMTPHost: "smtp.gmail.com", RequiresSecret: true},
		{Name: "resend", RequiresSecret: true},
		{Name: "sandbox", RequiresSecret: false},
	}, resp.Providers)
}

func TestRequestKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"none", nil, ""},
		{"bearer", map[string]string{"Authorization": "Bearer abc"}, "abc"},
		{"bearer lower case", map[string]string{"Authorization": "bearer  abc "}, "abc"},
		{"basic ignored", map[string]string{"Authorization": "Basic abc"}, ""},
		{"x-api-key wins", map[string]string{"Authorization": "Bearer abc", "X-API-Key": "xyz"}, "xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, requestKey(req))
		})
	}
}

package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedMessage struct {
	from string
	to   []string
	data string
}

// testBackend is a minimal submission server: it requires STARTTLS before
// AUTH PLAIN and refuses recipients at the "bounce" local part
type testBackend struct {
	mu       sync.Mutex
	user     string
	password string
	conns    int
	messages []receivedMessage
}

func (b *testBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &testSession{backend: b}, nil
}

// snapshot returns the number of accepted connections and the messages received
func (b *testBackend) snapshot() (int, []receivedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns, append([]receivedMessage(nil), b.messages...)
}

type countingListener struct {
	net.Listener
	backend *testBackend
}

func (l countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.backend.mu.Lock()
		l.backend.conns++
		l.backend.mu.Unlock()
	}
	return c, err
}

type testSession struct {
	backend *testBackend
	authed  bool
	from    string
	to      []string
}

func (s *testSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.user || password != s.backend.password {
			return smtp.ErrAuthFailed
		}
		s.authed = true
		return nil
	}), nil
}

func (s *testSession) Mail(from string, opts *smtp.MailOptions) error {
	if !s.authed {
		return &smtp.SMTPError{Code: 530, Message: "Authentication required"}
	}
	s.from = from
	return nil
}

func (s *testSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if strings.HasPrefix(to, "bounce@") {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "No such user"}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, receivedMessage{from: s.from, to: s.to, data: string(data)})
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *testSession) Logout() error { return nil }

func selfSignedConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}
}

func startSMTPServer(t *testing.T, tlsConfig *tls.Config) (*testBackend, string) {
	t.Helper()
	backend := &testBackend{user: "news@example.com", password: "app-password"}

	srv := smtp.NewServer(backend)
	srv.Domain = "localhost"
	srv.TLSConfig = tlsConfig
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(countingListener{Listener: l, backend: backend})
	t.Cleanup(func() { srv.Close() })

	return backend, l.Addr().String()
}

func openTestSMTP(t *testing.T, addr, password string) (Transport, error) {
	t.Helper()
	return OpenSMTP(context.Background(), KindGmail,
		Credentials{Identity: "news@example.com", Secret: password},
		SMTPOptions{
			Hosts:              map[Kind]string{KindGmail: addr},
			Timeout:            5 * time.Second,
			InsecureSkipVerify: true,
			VerifyOnOpen:       true,
		},
		discardLogger(),
	)
}

func TestSMTPDeliverReusesSession(t *testing.T) {
	backend, addr := startSMTPServer(t, selfSignedConfig(t))

	tr, err := openTestSMTP(t, addr, "app-password")
	require.NoError(t, err)

	for _, to := range []string{"ann@example.org", "bob@example.org"} {
		msg := testMessage()
		msg.To = to
		res, err := tr.Deliver(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, []string{to}, res.Accepted)
		assert.Empty(t, res.Rejected)
		assert.NotEmpty(t, res.MessageID)
		assert.NoError(t, VerifyAcceptance(res, to))
	}
	require.NoError(t, tr.Close())

	conns, msgs := backend.snapshot()
	assert.Equal(t, 1, conns)
	require.Len(t, msgs, 2)
	assert.Equal(t, "news@example.com", msgs[0].from)
	assert.Equal(t, []string{"bob@example.org"}, msgs[1].to)
	assert.Contains(t, msgs[0].data, "Subject: ")
	assert.Contains(t, msgs[0].data, "multipart/alternative")
}

func TestSMTPRejectedRecipient(t *testing.T) {
	backend, addr := startSMTPServer(t, selfSignedConfig(t))

	tr, err := openTestSMTP(t, addr, "app-password")
	require.NoError(t, err)
	defer tr.Close()

	msg := testMessage()
	msg.To = "bounce@example.org"
	res, err := tr.Deliver(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)
	assert.Equal(t, []string{"bounce@example.org"}, res.Rejected)
	assert.Contains(t, res.Response, "No such user")

	verr := VerifyAcceptance(res, msg.To)
	require.Error(t, verr)
	assert.True(t, IsTemporaryError(verr))

	// the session is still usable after RSET
	res, err = tr.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	assert.NoError(t, VerifyAcceptance(res, "ann@example.org"))

	conns, msgs := backend.snapshot()
	assert.Equal(t, 1, conns)
	assert.Len(t, msgs, 1)
}

func TestSMTPBadCredentials(t *testing.T) {
	_, addr := startSMTPServer(t, selfSignedConfig(t))

	_, err := openTestSMTP(t, addr, "wrong")
	require.Error(t, err)
	assert.False(t, IsTemporaryError(err))

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 535, de.StatusCode)
}

func TestSMTPRequiresStartTLS(t *testing.T) {
	_, addr := startSMTPServer(t, nil)

	_, err := openTestSMTP(t, addr, "app-password")
	require.Error(t, err)
	assert.False(t, IsTemporaryError(err))
	assert.Contains(t, err.Error(), "STARTTLS")
}

func TestSMTPConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = openTestSMTP(t, addr, "app-password")
	require.Error(t, err)
	assert.True(t, IsTemporaryError(err))
}

func TestSMTPLazyConnect(t *testing.T) {
	backend, addr := startSMTPServer(t, selfSignedConfig(t))

	tr, err := OpenSMTP(context.Background(), KindOutlook,
		Credentials{Identity: "news@example.com", Secret: "app-password"},
		SMTPOptions{Hosts: map[Kind]string{KindOutlook: addr}, InsecureSkipVerify: true},
		discardLogger(),
	)
	require.NoError(t, err)

	conns, _ := backend.snapshot()
	assert.Equal(t, 0, conns)

	_, err = tr.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	conns, msgs := backend.snapshot()
	assert.Equal(t, 1, conns)
	assert.Len(t, msgs, 1)
}

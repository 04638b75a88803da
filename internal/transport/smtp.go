package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

const (
	smtpSubmissionPort = 587
	defaultSMTPTimeout = 30 * time.Second
)

var smtpHosts = map[Kind]string{
	KindGmail:    "smtp.gmail.com",
	KindOutlook:  "smtp.office365.com",
	KindImprovMX: "smtp.improvmx.com",
}

// SMTPHost returns the submission host for kind. Kinds without a host of
// their own go through ImprovMX.
func SMTPHost(kind Kind) string {
	if h, ok := smtpHosts[kind]; ok {
		return h
	}
	return smtpHosts[KindImprovMX]
}

// DKIMSigner signs a raw message for the sender's domain. ok is false when
// no key is configured for it.
type DKIMSigner interface {
	SignFor(from string, message []byte) (signed []byte, ok bool, err error)
}

// SMTPOptions configures the SMTP submission adapter
type SMTPOptions struct {
	Port               int
	Timeout            time.Duration
	LocalName          string
	InsecureSkipVerify bool
	// VerifyOnOpen connects and authenticates before the campaign starts
	VerifyOnOpen bool
	// Hosts overrides the submission address ("host" or "host:port") per kind
	Hosts           map[Kind]string
	MessageIDDomain string
	DKIM            DKIMSigner
}

// smtpTransport keeps one authenticated submission session for a campaign
// and reuses it between recipients
type smtpTransport struct {
	kind   Kind
	addr   string
	host   string
	creds  Credentials
	opts   SMTPOptions
	logger *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	client *smtp.Client
}

// OpenSMTP creates the SMTP adapter for kind
func OpenSMTP(ctx context.Context, kind Kind, creds Credentials, opts SMTPOptions, logger *slog.Logger) (Transport, error) {
	if opts.Port == 0 {
		opts.Port = smtpSubmissionPort
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultSMTPTimeout
	}
	if opts.LocalName == "" {
		opts.LocalName = "localhost"
	}

	addr := SMTPHost(kind)
	if override, ok := opts.Hosts[kind]; ok && override != "" {
		addr = override
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(opts.Port))
	}
	host, _, _ := net.SplitHostPort(addr)

	t := &smtpTransport{
		kind:   kind,
		addr:   addr,
		host:   host,
		creds:  creds,
		opts:   opts,
		logger: logger,
	}

	if opts.VerifyOnOpen {
		t.mu.Lock()
		defer t.mu.Unlock()
		if err := t.connect(ctx); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Deliver submits one message over the campaign session
func (t *smtpTransport) Deliver(ctx context.Context, msg *Message) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.session(ctx); err != nil {
		return nil, err
	}

	res, err := t.submit(ctx, msg)
	if err != nil {
		// the session state is unknown after a failed transaction
		t.drop()
		return nil, err
	}
	return res, nil
}

// Close ends the session with QUIT
func (t *smtpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Quit()
	if err != nil {
		t.client.Close()
	}
	t.client = nil
	t.conn = nil
	return err
}

// session makes sure a healthy authenticated client is available
func (t *smtpTransport) session(ctx context.Context) error {
	if t.client != nil {
		t.setDeadline(time.Now().Add(t.opts.Timeout))
		err := t.client.Noop()
		t.setDeadline(time.Time{})
		if err == nil {
			return nil
		}
		t.logger.Debug("smtp session went stale, reconnecting", "addr", t.addr)
		t.drop()
	}
	return t.connect(ctx)
}

func (t *smtpTransport) connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: t.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return temporaryf("connection failed to %s: %v", t.addr, err)
	}
	conn.SetDeadline(time.Now().Add(t.opts.Timeout))

	client := smtp.NewClient(conn)
	if err := client.Hello(t.opts.LocalName); err != nil {
		client.Close()
		return categorizeError(err, "EHLO")
	}

	if ok, _ := client.Extension("STARTTLS"); !ok {
		client.Close()
		return permanentf("%s does not offer STARTTLS", t.addr)
	}
	tlsConfig := &tls.Config{
		ServerName:         t.host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.opts.InsecureSkipVerify,
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		client.Close()
		return categorizeError(err, "STARTTLS")
	}

	if err := client.Auth(t.authClient(client)); err != nil {
		client.Close()
		return categorizeError(err, "AUTH")
	}

	conn.SetDeadline(time.Time{})
	t.conn = conn
	t.client = client
	t.logger.Debug("smtp session established", "addr", t.addr, "identity", t.creds.Identity)
	return nil
}

func (t *smtpTransport) authClient(c *smtp.Client) sasl.Client {
	if c.SupportsAuth(sasl.Plain) || !c.SupportsAuth(sasl.Login) {
		return sasl.NewPlainClient("", t.creds.Identity, t.creds.Secret)
	}
	return sasl.NewLoginClient(t.creds.Identity, t.creds.Secret)
}

func (t *smtpTransport) drop() {
	if t.client != nil {
		t.client.Close()
		t.client = nil
		t.conn = nil
	}
}

func (t *smtpTransport) submit(ctx context.Context, msg *Message) (*Result, error) {
	raw, messageID, err := BuildMIME(msg, t.opts.MessageIDDomain)
	if err != nil {
		return nil, permanentf("build message: %v", err)
	}
	if t.opts.DKIM != nil {
		signed, ok, err := t.opts.DKIM.SignFor(msg.From, raw)
		if err != nil {
			t.logger.Warn("DKIM signing failed, sending unsigned", "from", msg.From, "error", err)
		} else if ok {
			raw = signed
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.opts.Timeout)
	}
	t.setDeadline(deadline)
	defer t.setDeadline(time.Time{})

	if err := t.client.Mail(msg.From, nil); err != nil {
		return nil, categorizeError(err, "MAIL FROM")
	}

	res := &Result{MessageID: messageID}
	var rcptErr error
	if err := t.client.Rcpt(msg.To, nil); err != nil {
		res.Rejected = append(res.Rejected, msg.To)
		rcptErr = err
	} else {
		res.Accepted = append(res.Accepted, msg.To)
	}

	if len(res.Accepted) == 0 {
		res.Response = rcptErr.Error()
		// no DATA without an accepted recipient; RSET keeps the session usable
		if err := t.client.Reset(); err != nil {
			return nil, categorizeError(err, "RSET")
		}
		return res, nil
	}

	wc, err := t.client.Data()
	if err != nil {
		return nil, categorizeError(err, "DATA")
	}
	if _, err := wc.Write(raw); err != nil {
		wc.Close()
		return nil, temporaryf("failed to write message data: %v", err)
	}
	if err := wc.Close(); err != nil {
		return nil, categorizeError(err, "DATA close")
	}
	res.Response = "250 message accepted"

	t.logger.Debug("message submitted", "addr", t.addr, "to", msg.To, "message_id", messageID)
	return res, nil
}

// setDeadline applies to the raw connection, which also bounds the TLS layer
func (t *smtpTransport) setDeadline(deadline time.Time) {
	if t.conn != nil {
		t.conn.SetDeadline(deadline)
	}
}

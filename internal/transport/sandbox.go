package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMailboxSize = 500

// SandboxOptions configures the capturing adapter used for dry runs
type SandboxOptions struct {
	Enabled bool
	// ErrorProbability simulates transient provider failures, 0 disables
	ErrorProbability float64
	Mailbox          *Mailbox
	Rand             *rand.Rand
}

// CapturedMessage is a message held by the sandbox instead of being sent
type CapturedMessage struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	HTML        string    `json:"html"`
	Text        string    `json:"text"`
	Attachments int       `json:"attachments"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Mailbox keeps the most recent captured messages in memory
type Mailbox struct {
	mu       sync.RWMutex
	messages []CapturedMessage
	max      int
}

// NewMailbox creates a mailbox holding at most size messages
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = defaultMailboxSize
	}
	return &Mailbox{max: size}
}

func (m *Mailbox) add(msg CapturedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	if over := len(m.messages) - m.max; over > 0 {
		m.messages = append([]CapturedMessage(nil), m.messages[over:]...)
	}
}

// Messages returns captured messages, oldest first
func (m *Mailbox) Messages() []CapturedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CapturedMessage(nil), m.messages...)
}

// Get returns the captured message with id
func (m *Mailbox) Get(id string) (CapturedMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return CapturedMessage{}, false
}

// Clear drops every captured message and returns how many there were
func (m *Mailbox) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.messages)
	m.messages = nil
	return n
}

var simulatedFailures = []string{
	"451 Temporary failure",
	"452 Insufficient storage",
	"421 Service not available",
}

type sandboxTransport struct {
	opts   SandboxOptions
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSandbox creates a transport that captures messages instead of sending them
func NewSandbox(opts SandboxOptions, logger *slog.Logger) Transport {
	if opts.Mailbox == nil {
		opts.Mailbox = NewMailbox(0)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &sandboxTransport{opts: opts, logger: logger}
}

func (t *sandboxTransport) Deliver(ctx context.Context, msg *Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, temporaryf("sandbox: %v", err)
	}

	if t.opts.ErrorProbability > 0 {
		t.mu.Lock()
		roll := t.opts.Rand.Float64()
		pick := simulatedFailures[t.opts.Rand.Intn(len(simulatedFailures))]
		t.mu.Unlock()
		if roll < t.opts.ErrorProbability {
			t.logger.Info("sandbox: simulating failure", "to", msg.To, "error", pick)
			return nil, temporaryf("simulated: %s", pick)
		}
	}

	captured := CapturedMessage{
		ID:          uuid.NewString(),
		From:        msg.From,
		To:          msg.To,
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		Text:        msg.Text,
		Attachments: len(msg.Attachments),
		CapturedAt:  time.Now(),
	}
	t.opts.Mailbox.add(captured)

	t.logger.Info("sandbox: message captured", "id", captured.ID, "from", msg.From, "to", msg.To)
	return &Result{
		Accepted:  []string{msg.To},
		Response:  fmt.Sprintf("250 captured %s", captured.ID),
		MessageID: captured.ID,
	}, nil
}

func (t *sandboxTransport) Close() error { return nil }

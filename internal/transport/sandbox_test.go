package transport

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxCaptures(t *testing.T) {
	box := NewMailbox(2)
	tr := NewSandbox(SandboxOptions{Enabled: true, Mailbox: box}, discardLogger())

	for _, to := range []string{"a@example.org", "b@example.org", "c@example.org"} {
		msg := testMessage()
		msg.To = to
		res, err := tr.Deliver(context.Background(), msg)
		require.NoError(t, err)
		assert.NoError(t, VerifyAcceptance(res, to))
	}

	msgs := box.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "b@example.org", msgs[0].To)
	assert.Equal(t, "c@example.org", msgs[1].To)

	got, ok := box.Get(msgs[1].ID)
	require.True(t, ok)
	assert.Equal(t, msgs[1], got)
	_, ok = box.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, box.Clear())
	assert.Empty(t, box.Messages())
}

func TestSandboxSimulatedFailures(t *testing.T) {
	tr := NewSandbox(SandboxOptions{
		Enabled:          true,
		ErrorProbability: 1,
		Rand:             rand.New(rand.NewSource(1)),
	}, discardLogger())

	_, err := tr.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, IsTemporaryError(err))
}

func TestSandboxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewSandbox(SandboxOptions{}, discardLogger())
	_, err := tr.Deliver(ctx, testMessage())
	assert.Error(t, err)
}

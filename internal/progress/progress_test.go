package progress

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJSON(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "success",
			rec:  Success("ann@example.org", 1, 3),
			want: `{"status":"success","email":"ann@example.org","sent":1,"total":3}`,
		},
		{
			name: "error keeps zero counts",
			rec:  Failure("bob@example.org", "550 <no such user>", 0, 3),
			want: `{"status":"error","email":"bob@example.org","error":"550 <no such user>","sent":0,"total":3}`,
		},
		{
			name: "complete with empty failed list",
			rec:  Complete(0, 0, nil),
			want: `{"status":"complete","sent":0,"failed":0,"failedEmails":[]}`,
		},
		{
			name: "complete with failures",
			rec:  Complete(2, 1, []string{"bob@example.org"}),
			want: `{"status":"complete","sent":2,"failed":1,"failedEmails":["bob@example.org"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewWriter(&buf).Write(tt.rec))
			assert.Equal(t, tt.want+"\n", buf.String())
		})
	}
}

func TestRecordJSONUnknownStatus(t *testing.T) {
	_, err := json.Marshal(Record{Status: "queued"})
	assert.Error(t, err)

	var r Record
	assert.Error(t, json.Unmarshal([]byte(`{"status":"queued"}`), &r))
	assert.Error(t, json.Unmarshal([]byte(`{"sent":1}`), &r))
}

func TestWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	require.NoError(t, w.Emit(context.Background(), Success("a@example.org", 1, 1)))
	assert.True(t, rec.Flushed)

	var buf bytes.Buffer
	bw := bufio.NewWriterSize(&buf, 4096)
	require.NoError(t, NewWriter(bw).Write(Complete(1, 0, nil)))
	assert.Contains(t, buf.String(), `"complete"`)
}

func TestWriterEmitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	assert.ErrorIs(t, NewWriter(&buf).Emit(ctx, Complete(0, 0, nil)), context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestReader(t *testing.T) {
	input := strings.Join([]string{
		`{"status":"success","email":"a@example.org","sent":1,"total":2}`,
		``,
		`{"status":"error","email":"b@example.org","error":"boom","sent":1,"total":2}`,
		`{"status":"complete","sent":1,"failed":1,"failedEmails":["b@example.org"]}`,
		`{"status":"success","email":"ignored@example.org","sent":9,"total":9}`,
	}, "\n")

	var seen []Status
	recs, err := ReadAll(strings.NewReader(input), func(r Record) { seen = append(seen, r.Status) })
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []Status{StatusSuccess, StatusError, StatusComplete}, seen)
	assert.Equal(t, "boom", recs[1].Error)
	assert.Equal(t, []string{"b@example.org"}, recs[2].FailedEmails)
}

func TestReaderIncomplete(t *testing.T) {
	input := `{"status":"success","email":"a@example.org","sent":1,"total":2}` + "\n"
	recs, err := ReadAll(strings.NewReader(input), nil)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Len(t, recs, 1)

	_, err = ReadAll(strings.NewReader(""), nil)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestReaderMalformed(t *testing.T) {
	_, err := ReadAll(strings.NewReader("{not json}\n"), nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIncomplete))
}

func TestReaderAfterComplete(t *testing.T) {
	r := NewReader(strings.NewReader(`{"status":"complete","sent":0,"failed":0,"failedEmails":[]}`))
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, rec.Status)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamOrderAndClose(t *testing.T) {
	s := NewStream(1)
	ctx := context.Background()

	go func() {
		for i := 1; i <= 3; i++ {
			s.Emit(ctx, Success("a@example.org", i, 3))
		}
		s.Emit(ctx, Complete(3, 0, nil))
		s.Close(nil)
	}()

	var got []Record
	for r := range s.Records() {
		got = append(got, r)
	}
	require.Len(t, got, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, i+1, got[i].Sent)
	}
	assert.Equal(t, StatusComplete, got[3].Status)
	assert.NoError(t, s.Err())
	assert.ErrorIs(t, s.Emit(ctx, Complete(0, 0, nil)), ErrClosed)
}

func TestStreamAbort(t *testing.T) {
	s := NewStream(0)
	boom := errors.New("transport misconfigured")
	s.Close(boom)
	s.Close(nil)

	_, open := <-s.Records()
	assert.False(t, open)
	assert.ErrorIs(t, s.Err(), boom)
}

func TestStreamEmitBlockedCancelled(t *testing.T) {
	s := NewStream(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Emit(ctx, Complete(0, 0, nil)), context.Canceled)
}

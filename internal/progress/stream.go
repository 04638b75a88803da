package progress

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrIncomplete means the stream ended without a complete record. Callers
// must treat the campaign as failed.
var ErrIncomplete = errors.New("progress stream ended without a complete record")

// ErrClosed is returned by Emit after the stream was closed
var ErrClosed = errors.New("progress stream closed")

// Emitter receives records in order
type Emitter interface {
	Emit(ctx context.Context, r Record) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, r Record) error

func (f EmitterFunc) Emit(ctx context.Context, r Record) error { return f(ctx, r) }

// Stream hands records from a single producer goroutine to a consumer
// through a bounded buffer. The producer must call Close exactly once.
type Stream struct {
	ch chan Record

	mu     sync.Mutex
	closed bool
	err    error
}

// NewStream creates a stream buffering up to size records
func NewStream(size int) *Stream {
	if size < 0 {
		size = 0
	}
	return &Stream{ch: make(chan Record, size)}
}

// Emit queues r, blocking while the buffer is full
func (s *Stream) Emit(ctx context.Context, r Record) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case s.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream. A non-nil err marks it as aborted.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Records is drained by the consumer until it is closed
func (s *Stream) Records() <-chan Record {
	return s.ch
}

// Err reports why the stream ended; meaningful once Records is drained
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Writer encodes records as newline-delimited JSON and flushes after each
// line, so the caller sees progress as it happens
type Writer struct {
	w     io.Writer
	enc   *json.Encoder
	flush func() error
}

// NewWriter wraps w. http.ResponseWriter and bufio.Writer are flushed
// after every record.
func NewWriter(w io.Writer) *Writer {
	pw := &Writer{w: w, enc: json.NewEncoder(w)}
	pw.enc.SetEscapeHTML(false)

	switch f := w.(type) {
	case http.Flusher:
		pw.flush = func() error { f.Flush(); return nil }
	case interface{ Flush() error }:
		pw.flush = f.Flush
	}
	return pw
}

// Write emits one line
func (w *Writer) Write(r Record) error {
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("write progress record: %w", err)
	}
	if w.flush != nil {
		return w.flush()
	}
	return nil
}

// Emit implements Emitter
func (w *Writer) Emit(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.Write(r)
}

const maxLineBytes = 1 << 20

// Reader decodes a progress stream line by line
type Reader struct {
	sc       *bufio.Scanner
	complete bool
}

// NewReader creates a reader over r
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Reader{sc: sc}
}

// Next returns the next record. It returns io.EOF after the complete record
// and ErrIncomplete when the input ends before one was seen.
func (r *Reader) Next() (Record, error) {
	if r.complete {
		return Record{}, io.EOF
	}
	for r.sc.Scan() {
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return Record{}, fmt.Errorf("decode progress record: %w", err)
		}
		if rec.Status == StatusComplete {
			r.complete = true
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	return Record{}, ErrIncomplete
}

// ReadAll consumes the stream, passing each record to fn when it is not nil.
// The returned slice ends with the complete record on success.
func ReadAll(r io.Reader, fn func(Record)) ([]Record, error) {
	pr := NewReader(r)
	var out []Record
	for {
		rec, err := pr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
		if fn != nil {
			fn(rec)
		}
	}
}

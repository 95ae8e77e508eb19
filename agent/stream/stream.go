// Package stream wraps agent fragment streams so the full text is known once
// the caller has drained them.
package stream

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// DoneFunc receives the fully drained text exactly once.
type DoneFunc func(text string) error

// OutputStream passes fragments through to the caller while accumulating
// their text. When the underlying stream ends, the DoneFunc runs before
// io.EOF is reported, so a persistence failure surfaces from Recv.
type OutputStream struct {
	sr     *schema.StreamReader[any]
	onDone DoneFunc

	mu       sync.Mutex
	buf      strings.Builder
	finished bool
	doneErr  error
}

func New(sr *schema.StreamReader[any], onDone DoneFunc) *OutputStream {
	return &OutputStream{sr: sr, onDone: onDone}
}

// Recv returns the next text fragment. Chunks carrying no text are skipped.
func (s *OutputStream) Recv() (string, error) {
	for {
		s.mu.Lock()
		if s.finished {
			err := s.doneErr
			s.mu.Unlock()
			if err != nil {
				return "", err
			}
			return "", io.EOF
		}
		s.mu.Unlock()

		chunk, err := s.sr.Recv()
		if errors.Is(err, io.EOF) {
			return "", s.finish()
		}
		if err != nil {
			return "", err
		}

		text, ok := ExtractText(chunk)
		if !ok || text == "" {
			continue
		}

		s.mu.Lock()
		s.buf.WriteString(text)
		s.mu.Unlock()
		return text, nil
	}
}

// Drain reads the rest of the stream and returns the complete text.
func (s *OutputStream) Drain() (string, error) {
	for {
		_, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return s.Text(), nil
		}
		if err != nil {
			return s.Text(), err
		}
	}
}

// Text is the text accumulated so far.
func (s *OutputStream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Close releases the underlying stream. An undrained stream is never
// persisted.
func (s *OutputStream) Close() {
	s.sr.Close()
}

func (s *OutputStream) finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.finished {
		s.finished = true
		if s.onDone != nil {
			s.doneErr = s.onDone(s.buf.String())
		}
	}
	if s.doneErr != nil {
		return s.doneErr
	}
	return io.EOF
}

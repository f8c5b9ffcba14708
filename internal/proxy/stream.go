package proxy

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Stream is a finite, forward-only sequence of reply chunks in the order the
// provider sent them. Use it like bufio.Scanner:
//
//	for s.Next() {
//		c := s.Chunk()
//	}
//	if err := s.Err(); err != nil { ... }
//
// Chunks with an empty delta are skipped. A Stream cannot be restarted.
//
// Every wait for the next chunk is bounded by the client timeout. A reply
// that ends without a finish reason is reported as io.ErrUnexpectedEOF.
type Stream struct {
	client *Client
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
	idle   *time.Timer

	text     strings.Builder
	chunk    Chunk
	err      error
	finished bool
	done     atomic.Bool
	stalled  atomic.Bool

	closeOnce sync.Once
}

// Provider returns the name of the provider producing the stream.
func (s *Stream) Provider() string { return s.client.name }

// Next advances to the next non-empty chunk. It returns false when the reply
// is complete, the connection failed, or the stream was closed.
func (s *Stream) Next() bool {
	if s.done.Load() {
		return false
	}
	for {
		s.idle.Reset(s.client.timeout)
		resp, err := s.stream.Recv()
		s.idle.Stop()
		switch {
		case s.stalled.Load():
			s.finish(s.client.wrap(ErrStreamStalled))
			return false
		case s.done.Load():
			// Closed by the caller while waiting.
			return false
		case errors.Is(err, io.EOF) && s.finished:
			s.finish(nil)
			return false
		case errors.Is(err, io.EOF):
			s.finish(s.client.wrap(io.ErrUnexpectedEOF))
			return false
		case err != nil:
			s.finish(s.client.wrap(err))
			return false
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if resp.Choices[0].FinishReason != "" {
			s.finished = true
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		s.text.WriteString(delta)
		s.chunk = Chunk{Delta: delta, Text: s.text.String()}
		return true
	}
}

// Chunk returns the chunk produced by the last successful Next.
func (s *Stream) Chunk() Chunk { return s.chunk }

// Text returns everything received so far.
func (s *Stream) Text() string { return s.text.String() }

// Err returns the error that ended the stream, or nil on normal completion.
func (s *Stream) Err() error { return s.err }

// Chunks returns the remaining chunks as an iterator. Check Err afterwards.
func (s *Stream) Chunks() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for s.Next() {
			if !yield(s.Chunk()) {
				return
			}
		}
	}
}

// Close abandons the stream and releases the connection. It may be called
// more than once and from another goroutine.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.done.Store(true)
		s.idle.Stop()
		s.stream.Close()
		s.cancel()
	})
}

func newStream(c *Client, cs *openai.ChatCompletionStream, cancel context.CancelFunc) *Stream {
	s := &Stream{client: c, stream: cs, cancel: cancel}
	s.idle = time.AfterFunc(c.timeout, func() {
		s.stalled.Store(true)
		cancel()
	})
	s.idle.Stop()
	return s
}

func (s *Stream) finish(err error) {
	s.err = err
	s.Close()
}

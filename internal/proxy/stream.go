package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"sync"
	"time"

	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
)

// Framing is the wire format of a streamed response body. It decides how a
// synthetic error event is written.
type Framing int

const (
	FramingSSE Framing = iota
	FramingNDJSON
)

// FramingFor picks the framing from a response Content-Type.
func FramingFor(contentType string) Framing {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FramingSSE
	}
	switch mediaType {
	case "application/x-ndjson", "application/jsonl", "application/json-seq", "application/stream+json":
		return FramingNDJSON
	}
	return FramingSSE
}

// StreamSummary describes a finished stream.
type StreamSummary struct {
	Success   bool
	Reason    string
	Bytes     int64
	FirstByte time.Duration // zero when no chunk arrived
	Elapsed   time.Duration
}

const readBufferSize = 32 * 1024

type readResult struct {
	data []byte
	err  error
}

// ChunkStream relays an upstream body chunk by chunk. The first chunk must
// arrive within the first-byte timeout and each later one within the idle
// timeout. Chunks are yielded unmodified; a timeout or read error yields one
// synthetic error event in the stream's framing and ends the stream.
//
// ChunkStream is not safe for concurrent use by multiple goroutines.
type ChunkStream struct {
	body    io.ReadCloser
	policy  TimeoutPolicy
	framing Framing
	onDone  func(StreamSummary)

	chunks chan readResult
	stop   chan struct{}

	started   time.Time
	firstByte time.Duration
	bytes     int64
	gotFirst  bool
	done      bool

	closeOnce  sync.Once
	finishOnce sync.Once
}

func newChunkStream(body io.ReadCloser, policy TimeoutPolicy, framing Framing, started time.Time, onDone func(StreamSummary)) *ChunkStream {
	s := &ChunkStream{
		body:    body,
		policy:  policy,
		framing: framing,
		onDone:  onDone,
		chunks:  make(chan readResult),
		stop:    make(chan struct{}),
		started: started,
	}
	go s.readLoop()
	return s
}

func (s *ChunkStream) readLoop() {
	for {
		buf := make([]byte, readBufferSize)
		n, err := s.body.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- readResult{data: buf[:n]}:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			select {
			case s.chunks <- readResult{err: err}:
			case <-s.stop:
			}
			return
		}
	}
}

// Next returns the next chunk, or io.EOF once the stream has ended. When
// ctx is cancelled the stream is closed, the attempt counts as failed and
// ctx.Err() is returned.
func (s *ChunkStream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	timeout, reason, message := s.policy.IdleTimeout, outcome.ReasonIdleTimeout, "Idle timeout"
	if !s.gotFirst {
		timeout, reason, message = s.policy.FirstByteTimeout, outcome.ReasonFirstByteTimeout, "First byte timeout"
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-s.chunks:
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				s.finish(true, "")
				return nil, io.EOF
			}
			if ctx.Err() != nil {
				s.finish(false, outcome.ReasonClientClosed)
				return nil, ctx.Err()
			}
			s.finish(false, outcome.ReasonTransport)
			return s.errorEvent("error", r.err.Error()), nil
		}
		if !s.gotFirst {
			s.gotFirst = true
			s.firstByte = time.Since(s.started)
		}
		s.bytes += int64(len(r.data))
		return r.data, nil

	case <-timer.C:
		s.finish(false, reason)
		return s.errorEvent("timeout", message), nil

	case <-ctx.Done():
		s.finish(false, outcome.ReasonClientClosed)
		return nil, ctx.Err()
	}
}

// Close releases the upstream. Closing before the stream has ended counts
// as a failed attempt.
func (s *ChunkStream) Close() error {
	s.finish(false, outcome.ReasonClientClosed)
	return nil
}

func (s *ChunkStream) finish(success bool, reason string) {
	s.finishOnce.Do(func() {
		s.done = true
		s.closeBody()
		if s.onDone != nil {
			s.onDone(StreamSummary{
				Success:   success,
				Reason:    reason,
				Bytes:     s.bytes,
				FirstByte: s.firstByte,
				Elapsed:   time.Since(s.started),
			})
		}
	})
}

func (s *ChunkStream) closeBody() {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.body.Close()
	})
}

func (s *ChunkStream) errorEvent(kind, message string) []byte {
	return ErrorEvent(s.framing, kind, message)
}

// ErrorEvent renders a stream error in the given framing.
func ErrorEvent(framing Framing, kind, message string) []byte {
	payload, _ := json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{Type: kind, Message: message})

	if framing == FramingNDJSON {
		wrapped, _ := json.Marshal(struct {
			Error json.RawMessage `json:"error"`
		}{Error: payload})
		return append(wrapped, '\n')
	}

	out := make([]byte, 0, len(payload)+24)
	out = append(out, "event: error\ndata: "...)
	out = append(out, payload...)
	return append(out, "\n\n"...)
}

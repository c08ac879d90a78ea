// Package proxy forwards an inbound request to one upstream provider and
// relays the answer, either buffered or as a chunk stream.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
)

const debugBodyLimit = 2000

// Request is one forwarding attempt against Provider.
type Request struct {
	Provider  *models.Provider
	Category  models.Category
	Method    string
	Path      string
	RawQuery  string
	Header    http.Header
	Body      []byte
	Policy    TimeoutPolicy
	Debug     bool
	RequestID string
}

// Response is either buffered (Body) or streamed (Stream != nil). A streamed
// response must be drained with Stream.Next or released with Stream.Close.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     *ChunkStream
}

// Engine performs forwarding attempts over a shared client and reports
// exactly one outcome per attempt.
type Engine struct {
	client       *http.Client
	outcomes     outcome.Consumer
	logger       *zap.Logger
	stripHeaders []string
}

type Option func(*Engine)

// WithStrippedHeaders removes the named inbound headers before forwarding.
func WithStrippedHeaders(names ...string) Option {
	return func(e *Engine) {
		e.stripHeaders = append(e.stripHeaders, names...)
	}
}

func NewEngine(client *http.Client, outcomes outcome.Consumer, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		outcomes: outcomes,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Forward sends req upstream. Errors are ErrUpstreamTimeout or ErrTransport;
// upstream error statuses are returned as responses, not errors.
func (e *Engine) Forward(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	streaming := IsStreamingBody(req.Body)
	policy := req.Policy.WithDefaults(DefaultTimeoutPolicy())
	upstreamURL := BuildUpstreamURL(req.Provider.BaseURL, req.Path, req.RawQuery)

	header := filterHeaders(req.Header, append([]string{"Content-Length"}, e.stripHeaders...)...)
	header.Set("Authorization", "Bearer "+req.Provider.APIKey)
	if streaming {
		header.Del("Accept-Encoding")
	}

	if req.Debug {
		e.logger.Info("Forward request",
			zap.String("request_id", req.RequestID),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("query", req.RawQuery),
			zap.Any("client_headers", RedactHeaders(req.Header, e.stripHeaders...)),
			zap.String("body", TruncateBody(req.Body, debugBodyLimit)),
			zap.String("provider", req.Provider.Name),
			zap.String("upstream_url", upstreamURL),
			zap.Any("upstream_headers", RedactHeaders(header)),
			zap.Bool("stream", streaming))
	}

	a := &attempt{engine: e, req: req, start: start, streaming: streaming}
	if streaming {
		return a.stream(ctx, upstreamURL, header, policy)
	}
	return a.buffered(ctx, upstreamURL, header, policy)
}

type attempt struct {
	engine    *Engine
	req       *Request
	start     time.Time
	streaming bool
	reported  atomic.Bool
}

func (a *attempt) report(ctx context.Context, success bool, status int, reason string) {
	if !a.reported.CompareAndSwap(false, true) {
		return
	}
	if a.engine.outcomes == nil {
		return
	}
	a.engine.outcomes.OnOutcome(ctx, outcome.Event{
		RequestID:    a.req.RequestID,
		ProviderID:   a.req.Provider.ID,
		ProviderName: a.req.Provider.Name,
		Category:     a.req.Category,
		Success:      success,
		Streaming:    a.streaming,
		StatusCode:   status,
		Reason:       reason,
		Duration:     time.Since(a.start),
		Timestamp:    time.Now(),
	})
}

func (a *attempt) buffered(ctx context.Context, upstreamURL string, header http.Header, policy TimeoutPolicy) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, policy.NonStreamTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, a.req.Method, upstreamURL, bytes.NewReader(a.req.Body))
	if err != nil {
		a.report(ctx, false, 0, outcome.ReasonTransport)
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	httpReq.Header = header

	resp, err := a.engine.client.Do(httpReq)
	if err != nil {
		return nil, a.fail(ctx, callCtx, err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, a.fail(ctx, callCtx, err)
	}

	success := resp.StatusCode < http.StatusBadRequest
	reason := ""
	if !success {
		reason = outcome.ReasonStatus
	}

	if a.req.Debug {
		a.engine.logger.Info("Provider response",
			zap.String("request_id", a.req.RequestID),
			zap.String("provider", a.req.Provider.Name),
			zap.Int("status", resp.StatusCode),
			zap.Any("headers", RedactHeaders(resp.Header)),
			zap.String("body", TruncateBody(body, debugBodyLimit)),
			zap.Int("size", len(body)),
			zap.Duration("elapsed", time.Since(a.start)))
	}

	a.report(ctx, success, resp.StatusCode, reason)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     a.responseHeader(resp.Header),
		Body:       body,
	}, nil
}

func (a *attempt) stream(ctx context.Context, upstreamURL string, header http.Header, policy TimeoutPolicy) (*Response, error) {
	// The attempt context lives as long as the stream does.
	callCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(callCtx, a.req.Method, upstreamURL, bytes.NewReader(a.req.Body))
	if err != nil {
		cancel()
		a.report(ctx, false, 0, outcome.ReasonTransport)
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	httpReq.Header = header

	var headerTimeout atomic.Bool
	timer := time.AfterFunc(policy.FirstByteTimeout, func() {
		headerTimeout.Store(true)
		cancel()
	})

	resp, err := a.engine.client.Do(httpReq)
	stopped := timer.Stop()
	if err != nil || !stopped {
		if resp != nil {
			_ = resp.Body.Close()
		}
		cancel()
		if headerTimeout.Load() {
			a.report(ctx, false, 0, outcome.ReasonFirstByteTimeout)
			a.debugError(ErrUpstreamTimeout)
			return nil, fmt.Errorf("%w: no response headers within %s", ErrUpstreamTimeout, policy.FirstByteTimeout)
		}
		return nil, a.fail(ctx, callCtx, err)
	}

	if a.req.Debug {
		a.engine.logger.Info("Provider response (streaming)",
			zap.String("request_id", a.req.RequestID),
			zap.String("provider", a.req.Provider.Name),
			zap.Int("status", resp.StatusCode),
			zap.Any("headers", RedactHeaders(resp.Header)))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return a.streamError(ctx, cancel, resp, policy), nil
	}

	respHeader := a.responseHeader(resp.Header)
	respHeader.Del("Content-Encoding")
	if respHeader.Get("Content-Type") == "" {
		respHeader.Set("Content-Type", "text/event-stream")
	}

	body := &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	stream := newChunkStream(body, policy, FramingFor(resp.Header.Get("Content-Type")), a.start, func(sum StreamSummary) {
		a.report(ctx, sum.Success, resp.StatusCode, sum.Reason)
		a.logStreamEnd(sum)
	})

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     respHeader,
		Stream:     stream,
	}, nil
}

// streamError drains an upstream error body and returns it buffered.
func (a *attempt) streamError(ctx context.Context, cancel context.CancelFunc, resp *http.Response, policy TimeoutPolicy) *Response {
	timer := time.AfterFunc(policy.IdleTimeout, cancel)
	body, err := io.ReadAll(resp.Body)
	timer.Stop()
	_ = resp.Body.Close()
	cancel()
	if err != nil {
		a.engine.logger.Debug("Failed to read upstream error body",
			zap.String("provider", a.req.Provider.Name),
			zap.Error(err))
	}

	if a.req.Debug {
		a.engine.logger.Info("Provider error response",
			zap.String("request_id", a.req.RequestID),
			zap.String("provider", a.req.Provider.Name),
			zap.Int("status", resp.StatusCode),
			zap.String("body", TruncateBody(body, debugBodyLimit)),
			zap.Duration("elapsed", time.Since(a.start)))
	}

	a.report(ctx, false, resp.StatusCode, outcome.ReasonStatus)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     a.responseHeader(resp.Header),
		Body:       body,
	}
}

// fail reports a failed attempt and converts err into a gateway error.
func (a *attempt) fail(ctx, callCtx context.Context, err error) error {
	var netErr net.Error
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())

	switch {
	case ctx.Err() != nil:
		a.report(ctx, false, 0, outcome.ReasonClientClosed)
		err = fmt.Errorf("%w: %v", ErrTransport, err)
	case timedOut:
		a.report(ctx, false, 0, outcome.ReasonTimeout)
		err = fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	default:
		a.report(ctx, false, 0, outcome.ReasonTransport)
		err = fmt.Errorf("%w: %v", ErrTransport, err)
	}

	a.engine.logger.Warn("Upstream request failed",
		zap.String("request_id", a.req.RequestID),
		zap.String("provider", a.req.Provider.Name),
		zap.Error(err))
	a.debugError(err)
	return err
}

func (a *attempt) debugError(err error) {
	if !a.req.Debug {
		return
	}
	a.engine.logger.Info("Forward error",
		zap.String("request_id", a.req.RequestID),
		zap.String("provider", a.req.Provider.Name),
		zap.Error(err),
		zap.Duration("elapsed", time.Since(a.start)))
}

func (a *attempt) logStreamEnd(sum StreamSummary) {
	if !sum.Success {
		a.engine.logger.Warn("Stream ended with failure",
			zap.String("request_id", a.req.RequestID),
			zap.String("provider", a.req.Provider.Name),
			zap.String("reason", sum.Reason))
	}
	if a.req.Debug {
		a.engine.logger.Info("Forward result (streaming)",
			zap.String("request_id", a.req.RequestID),
			zap.String("provider", a.req.Provider.Name),
			zap.Bool("success", sum.Success),
			zap.Int64("bytes", sum.Bytes),
			zap.Duration("ttfb", sum.FirstByte),
			zap.Duration("elapsed", sum.Elapsed))
	}
}

func (a *attempt) responseHeader(h http.Header) http.Header {
	out := filterHeaders(h, "Content-Length")
	out.Set(ProviderHeader, EncodeProviderName(a.req.Provider.Name))
	return out
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

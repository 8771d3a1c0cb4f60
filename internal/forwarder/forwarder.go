// Package forwarder issues the single upstream HTTP request of a dispatch
// attempt (spec §4.6) and classifies the outcome into the result taxonomy
// the dispatch loop switches on.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// maxBufferedBody caps how much of a non-streaming response body Send will
// read into memory; maxErrorBody caps the smaller 4xx/5xx bodies the
// dispatch loop only needs for logging/passthrough.
const (
	maxBufferedBody = 20 << 20
	maxErrorBody    = 1 << 20
)

// streamingContentTypes are response Content-Type prefixes that always mean
// a stream regardless of what the request asked for (spec §4.6).
var streamingContentTypes = []string{
	"text/event-stream",
	"application/event-stream",
	"application/x-ndjson",
}

// isStreamingResponse implements spec §4.6's response-side streaming rule:
// a streaming Content-Type forces KindStreamingOK regardless of request
// intent; otherwise request-side intent is only honored when the response
// itself is chunked or lacks a Content-Length, since a response that
// already declares its length is safe to buffer even if the client asked
// to stream.
func isStreamingResponse(resp *http.Response, requestedStreaming bool) bool {
	ct := resp.Header.Get("Content-Type")
	for _, prefix := range streamingContentTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	if !requestedStreaming {
		return false
	}
	return resp.ContentLength < 0 || len(resp.TransferEncoding) > 0
}

// ResultKind enumerates the outcomes of a single forward attempt (spec
// §4.6: "transport error, retryable status, client error, streaming-ok,
// buffered-ok").
type ResultKind int

const (
	KindTransportError ResultKind = iota
	KindRetryable
	KindClientError
	KindStreamingOK
	KindBufferedOK
)

// Result is the outcome of one Send call. For KindStreamingOK, Body is the
// live response body the caller must copy and close; for KindBufferedOK
// and KindClientError, Body has already been drained into BufferedBody.
type Result struct {
	Kind         ResultKind
	StatusCode   int
	Header       http.Header
	Body         io.ReadCloser
	BufferedBody []byte
	Err          error
}

// Forwarder issues outbound requests, applying the caller-supplied model
// timeout on the buffered path and no read deadline on the streaming path (spec §4.6:
// "streaming responses are exempt from the read timeout once headers
// arrive").
type Forwarder struct {
	transport *http.Transport
}

// New builds a Forwarder. proxyURL, when non-empty, is resolved the same
// way an operator's environment variables would be (spec §4.6: "outbound
// proxy, when configured, applies to every upstream call"), using
// httpproxy.Config rather than trusting the process environment directly
// so per-pool proxy settings don't leak across providers.
func New(proxyURL string) *Forwarder {
	cfg := &httpproxy.Config{
		HTTPProxy:  proxyURL,
		HTTPSProxy: proxyURL,
	}
	proxyFunc := cfg.ProxyFunc()

	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			return proxyFunc(req.URL)
		},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &Forwarder{transport: transport}
}

// Send issues req (already fully composed: URL, sanitized+injected
// headers, rewritten body) and classifies the response. streaming is the
// caller's request-side streaming intent (spec §4.7); the final
// classification also depends on the response itself (spec §4.6), so the
// read deadline implied by bufferedTimeout is only allowed to fire while
// the response is still a buffered/error candidate. It's disarmed, not
// just ignored, once the response turns out to be a stream, since merely
// canceling its context after the fact would abort the in-flight read.
func (f *Forwarder) Send(ctx context.Context, req *http.Request, streaming bool, bufferedTimeout time.Duration) Result {
	client := &http.Client{Transport: f.transport}

	reqCtx, cancel := context.WithCancel(ctx)
	var deadline *time.Timer
	if bufferedTimeout > 0 {
		deadline = time.AfterFunc(bufferedTimeout, cancel)
	}
	req = req.WithContext(reqCtx)

	resp, err := client.Do(req)
	if err != nil {
		if deadline != nil {
			deadline.Stop()
		}
		cancel()
		if ctx.Err() != nil {
			return Result{Kind: KindTransportError, Err: fmt.Errorf("forwarder: context: %w", ctx.Err())}
		}
		return Result{Kind: KindTransportError, Err: fmt.Errorf("forwarder: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		if deadline != nil {
			deadline.Stop()
		}
		cancel()
		return Result{
			Kind:         KindRetryable,
			StatusCode:   resp.StatusCode,
			Header:       resp.Header,
			BufferedBody: body,
		}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		if deadline != nil {
			deadline.Stop()
		}
		cancel()
		return Result{
			Kind:         KindClientError,
			StatusCode:   resp.StatusCode,
			Header:       resp.Header,
			BufferedBody: body,
		}
	case isStreamingResponse(resp, streaming):
		if deadline != nil {
			deadline.Stop()
		}
		return Result{
			Kind:       KindStreamingOK,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       &bodyWithCancel{ReadCloser: resp.Body, cancel: cancel},
		}
	default:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody))
		_ = resp.Body.Close()
		if deadline != nil {
			deadline.Stop()
		}
		cancel()
		if err != nil {
			return Result{Kind: KindTransportError, Err: fmt.Errorf("forwarder: reading response: %w", err)}
		}
		return Result{
			Kind:         KindBufferedOK,
			StatusCode:   resp.StatusCode,
			Header:       resp.Header,
			BufferedBody: body,
		}
	}
}

// bodyWithCancel releases the request context's cancel func when the
// stream is closed, once the buffered-path deadline has been disarmed by
// Send. Without this, a streaming response would leak the context's
// internal tracking for as long as the connection stays open.
type bodyWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *bodyWithCancel) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// NewRequest builds the outbound *http.Request for a dispatch attempt.
func NewRequest(ctx context.Context, method, targetURL string, body []byte, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forwarder: building request: %w", err)
	}
	req.Header = header
	return req, nil
}

// Package dispatch implements the dispatch loop of spec §4.8: the
// sequential, failover-driven attempt over a shuffled candidate tier that
// is the heart of the gateway.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cliproxy-gateway/gateway/internal/bodyrw"
	"github.com/cliproxy-gateway/gateway/internal/forwarder"
	"github.com/cliproxy-gateway/gateway/internal/headers"
	"github.com/cliproxy-gateway/gateway/internal/pool"
	"github.com/cliproxy-gateway/gateway/internal/urlcompose"
)

// Kind classifies the outcome handed back to the HTTP layer, matching the
// taxonomy in spec §7.
type Kind int

const (
	KindSuccess Kind = iota
	KindClientError
	KindRouting
	KindExhaustion
	KindValidation
)

// Outcome is what the dispatch loop returns to the caller (the HTTP
// layer), which writes it to the client essentially verbatim.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.ReadCloser // set only when Kind==KindSuccess and streaming
	Streaming  bool
	Attempted  []string // provider names attempted, in order, for logging
	Provider   string   // provider that ultimately served the request
	RequestID  string   // stamped on every Outcome, echoed as X-Request-Id
	Model      string   // requested model id, for logging
}

// Request is everything the dispatcher needs about one inbound call. The
// HTTP layer is responsible for populating it from the *http.Request.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Header   http.Header
	Body     []byte
	RemoteID string // not read by Dispatch; the request id is assigned here
}

// transportConfig is the forwarder/timeout pair that a config reload
// replaces as a unit (spec §5: "the HTTP client [is] guarded by a mutex
// during create/replace").
type transportConfig struct {
	Forwarder    *forwarder.Forwarder
	ModelTimeout time.Duration
}

// Dispatcher wires a Pool and Forwarder into the spec §4.8 loop. The
// forwarder/timeout pair is swapped atomically via SetTransport rather
// than mutated as plain fields, since Dispatch reads them concurrently
// with a reload replacing them (mirroring Pool's own atomic-swap
// pattern instead of an in-place field mutation under concurrent use).
type Dispatcher struct {
	Pool            *pool.Pool
	ListingEndpoint func(path string) bool // true if path is a provider-declared model-listing endpoint

	transport atomic.Pointer[transportConfig]
}

// NewDispatcher builds a Dispatcher with its initial transport config.
func NewDispatcher(p *pool.Pool, fwd *forwarder.Forwarder, modelTimeout time.Duration, listingEndpoint func(string) bool) *Dispatcher {
	d := &Dispatcher{Pool: p, ListingEndpoint: listingEndpoint}
	d.SetTransport(fwd, modelTimeout)
	return d
}

// SetTransport atomically replaces the forwarder and model timeout, e.g.
// after a config reload changes preferences.proxy or
// preferences.model_timeout.
func (d *Dispatcher) SetTransport(fwd *forwarder.Forwarder, modelTimeout time.Duration) {
	d.transport.Store(&transportConfig{Forwarder: fwd, ModelTimeout: modelTimeout})
}

// withRequestID ensures h carries X-Request-Id, allocating a header map
// if the outcome didn't already have one (synthesized error responses
// start with none).
func withRequestID(h http.Header, id string) http.Header {
	if h == nil {
		h = http.Header{}
	}
	h.Set("X-Request-Id", id)
	return h
}

// Dispatch runs one inbound request through candidate enumeration and
// sequential failover, per spec §4.8's pseudocode.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) Outcome {
	requestID := uuid.NewString()
	tc := d.transport.Load()

	model, hasModel, pathPrefix, pathSuffix, fromPath := extractModel(req)
	streaming := bodyrw.DetectStreamIntent(req.Header, req.Query, req.Body)

	if !hasModel {
		if d.ListingEndpoint == nil || !d.ListingEndpoint(req.Path) {
			return Outcome{
				Kind:       KindValidation,
				StatusCode: http.StatusBadRequest,
				Header:     withRequestID(nil, requestID),
				Body:       []byte(`{"error":"missing model"}`),
				RequestID:  requestID,
			}
		}
	}

	if hasModel && !d.Pool.AnyDeclares(model) {
		return Outcome{
			Kind:       KindValidation,
			StatusCode: http.StatusBadRequest,
			Header:     withRequestID(nil, requestID),
			Body:       []byte(fmt.Sprintf(`{"error":"model not found: %s"}`, model)),
			RequestID:  requestID,
			Model:      model,
		}
	}

	candidates, err := d.Pool.Candidates(model)
	if err != nil {
		return Outcome{
			Kind:       KindRouting,
			StatusCode: http.StatusServiceUnavailable,
			Header:     withRequestID(nil, requestID),
			Body:       []byte(`{"error":"no providers available"}`),
			RequestID:  requestID,
			Model:      model,
		}
	}

	var attempted []string
	var failures []string

	for _, cand := range candidates {
		attempted = append(attempted, cand.State.Name())

		body := req.Body
		if hasModel && cand.UpstreamID != model && bodyrw.IsJSON(body) {
			if rewritten, rerr := bodyrw.RewriteModel(body, cand.UpstreamID); rerr == nil {
				body = rewritten
			}
		}
		query := cloneQuery(req.Query)
		if hasModel && cand.UpstreamID != model && query.Get("model") != "" {
			query.Set("model", cand.UpstreamID)
		}

		outPath := req.Path
		if hasModel && fromPath && cand.UpstreamID != model {
			outPath = bodyrw.RewritePathModel(pathPrefix, cand.UpstreamID, pathSuffix)
		}

		target := urlcompose.Join(cand.State.Config.BaseURL, outPath)
		if encoded := query.Encode(); encoded != "" {
			if strings.Contains(target, "?") {
				target += "&" + encoded
			} else {
				target += "?" + encoded
			}
		}

		outHeader := headers.SanitizeOutbound(req.Header, cand.State.Config.APIKey)
		outHeader.Set("X-Request-Id", requestID)

		httpReq, rerr := forwarder.NewRequest(ctx, req.Method, target, body, outHeader)
		if rerr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", cand.State.Name(), rerr))
			d.Pool.MarkFailure(cand.State, rerr.Error())
			continue
		}

		result := tc.Forwarder.Send(ctx, httpReq, streaming, tc.ModelTimeout)
		switch result.Kind {
		case forwarder.KindTransportError:
			reason := "transport error"
			if result.Err != nil {
				reason = result.Err.Error()
			}
			failures = append(failures, fmt.Sprintf("%s: %s", cand.State.Name(), reason))
			d.Pool.MarkFailure(cand.State, reason)
			continue
		case forwarder.KindRetryable:
			reason := fmt.Sprintf("upstream status %d", result.StatusCode)
			failures = append(failures, fmt.Sprintf("%s: %s", cand.State.Name(), reason))
			d.Pool.MarkFailure(cand.State, reason)
			continue
		case forwarder.KindClientError:
			return Outcome{
				Kind:       KindClientError,
				StatusCode: result.StatusCode,
				Header:     withRequestID(headers.SanitizeInbound(result.Header), requestID),
				Body:       result.BufferedBody,
				Attempted:  attempted,
				Provider:   cand.State.Name(),
				RequestID:  requestID,
				Model:      model,
			}
		case forwarder.KindStreamingOK:
			d.Pool.MarkSuccess(cand.State)
			return Outcome{
				Kind:       KindSuccess,
				StatusCode: result.StatusCode,
				Header:     withRequestID(headers.SanitizeInbound(result.Header), requestID),
				Stream:     result.Body,
				Streaming:  true,
				Attempted:  attempted,
				Provider:   cand.State.Name(),
				RequestID:  requestID,
				Model:      model,
			}
		case forwarder.KindBufferedOK:
			d.Pool.MarkSuccess(cand.State)
			return Outcome{
				Kind:       KindSuccess,
				StatusCode: result.StatusCode,
				Header:     withRequestID(headers.SanitizeInbound(result.Header), requestID),
				Body:       result.BufferedBody,
				Attempted:  attempted,
				Provider:   cand.State.Name(),
				RequestID:  requestID,
				Model:      model,
			}
		}
	}

	return Outcome{
		Kind:       KindExhaustion,
		StatusCode: http.StatusBadGateway,
		Header:     withRequestID(nil, requestID),
		Body:       []byte(fmt.Sprintf(`{"error":%q}`, strings.Join(failures, "; "))),
		Attempted:  attempted,
		RequestID:  requestID,
		Model:      model,
	}
}

// extractModel implements spec §6's ordered extraction (JSON body, then
// query parameter), plus the path-embedded form actually present in
// Gemini-style upstreams (see SPEC_FULL.md's supplemented features).
// prefix/suffix/fromPath are only meaningful when the path form matched,
// so the dispatch loop can rebuild the outbound path after a rewrite.
func extractModel(req *Request) (model string, ok bool, prefix, suffix string, fromPath bool) {
	if strings.Contains(req.Header.Get("Content-Type"), "application/json") {
		if m, found := bodyrw.ExtractModel(req.Body); found {
			return m, true, "", "", false
		}
	}
	if m, found := bodyrw.ExtractQueryModel(req.Query); found {
		return m, true, "", "", false
	}
	if p, m, s, found := bodyrw.ExtractModelFromPath(req.Path); found {
		return m, true, p, s, true
	}
	return "", false, "", "", false
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Authorized implements the inbound authorization check of spec §6:
// Authorization: Bearer <key> or x-api-key: <key> against the global
// token. It runs before the dispatch loop, orthogonal to provider
// selection.
func Authorized(h http.Header, globalAPIKey string) bool {
	if key := h.Get("X-Api-Key"); key != "" {
		return key == globalAPIKey
	}
	auth := h.Get("Authorization")
	if scheme, value, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "bearer") {
		return value == globalAPIKey
	}
	return false
}

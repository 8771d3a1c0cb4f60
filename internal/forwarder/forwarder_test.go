package forwarder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend_BufferedOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New("")
	req, err := NewRequest(context.Background(), http.MethodPost, srv.URL, []byte(`{}`), http.Header{"Content-Type": []string{"application/json"}})
	if err != nil {
		t.Fatal(err)
	}
	res := f.Send(context.Background(), req, false, 5*time.Second)

	if res.Kind != KindBufferedOK {
		t.Fatalf("Kind = %v, want KindBufferedOK (err=%v)", res.Kind, res.Err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", res.StatusCode)
	}
	if string(res.BufferedBody) != `{"ok":true}` {
		t.Errorf("BufferedBody = %s", res.BufferedBody)
	}
}

func TestSend_RetryableOn5xxAnd429(t *testing.T) {
	for _, status := range []int{500, 502, 503, 429} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("upstream failure"))
		}))
		f := New("")
		req, _ := NewRequest(context.Background(), http.MethodGet, srv.URL, nil, http.Header{})
		res := f.Send(context.Background(), req, false, 5*time.Second)
		if res.Kind != KindRetryable {
			t.Errorf("status %d: Kind = %v, want KindRetryable", status, res.Kind)
		}
		if res.StatusCode != status {
			t.Errorf("status %d: StatusCode = %d", status, res.StatusCode)
		}
		srv.Close()
	}
}

func TestSend_ClientErrorPassesThroughVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Reason", "bad-request")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid"}`))
	}))
	defer srv.Close()

	f := New("")
	req, _ := NewRequest(context.Background(), http.MethodPost, srv.URL, []byte(`{}`), http.Header{})
	res := f.Send(context.Background(), req, false, 5*time.Second)

	if res.Kind != KindClientError {
		t.Fatalf("Kind = %v, want KindClientError", res.Kind)
	}
	if res.Header.Get("X-Reason") != "bad-request" {
		t.Error("expected upstream headers preserved on client error")
	}
	if string(res.BufferedBody) != `{"error":"invalid"}` {
		t.Errorf("BufferedBody = %s", res.BufferedBody)
	}
}

func TestSend_StreamingReturnsLiveBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: chunk1\n\n"))
	}))
	defer srv.Close()

	f := New("")
	req, _ := NewRequest(context.Background(), http.MethodPost, srv.URL, []byte(`{}`), http.Header{})
	res := f.Send(context.Background(), req, true, 5*time.Second)

	if res.Kind != KindStreamingOK {
		t.Fatalf("Kind = %v, want KindStreamingOK", res.Kind)
	}
	defer res.Body.Close()
	got, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data: chunk1\n\n" {
		t.Errorf("streamed body = %q", got)
	}
}

func TestSend_ResponseContentTypeForcesStreamingRegardlessOfRequestIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"chunk":1}` + "\n"))
	}))
	defer srv.Close()

	f := New("")
	req, _ := NewRequest(context.Background(), http.MethodPost, srv.URL, []byte(`{}`), http.Header{})
	res := f.Send(context.Background(), req, false, 5*time.Second)

	if res.Kind != KindStreamingOK {
		t.Fatalf("Kind = %v, want KindStreamingOK even though request intent was non-streaming", res.Kind)
	}
	defer res.Body.Close()
}

func TestSend_RequestIntentIgnoredWhenResponseHasKnownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New("")
	req, _ := NewRequest(context.Background(), http.MethodPost, srv.URL, []byte(`{}`), http.Header{})
	res := f.Send(context.Background(), req, true, 5*time.Second)

	if res.Kind != KindBufferedOK {
		t.Fatalf("Kind = %v, want KindBufferedOK: a sized, non-SSE response should buffer even if the client asked to stream", res.Kind)
	}
}

func TestSend_TransportErrorOnUnreachableHost(t *testing.T) {
	f := New("")
	req, _ := NewRequest(context.Background(), http.MethodGet, "http://127.0.0.1:1", nil, http.Header{})
	res := f.Send(context.Background(), req, false, 2*time.Second)

	if res.Kind != KindTransportError {
		t.Fatalf("Kind = %v, want KindTransportError", res.Kind)
	}
	if res.Err == nil {
		t.Error("expected non-nil Err for transport failure")
	}
}

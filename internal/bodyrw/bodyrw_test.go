package bodyrw

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestExtractModel(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[]}`)
	got, ok := ExtractModel(body)
	if !ok || got != "gpt-4" {
		t.Fatalf("ExtractModel() = (%q, %v), want (gpt-4, true)", got, ok)
	}

	if _, ok := ExtractModel([]byte(`{}`)); ok {
		t.Error("expected no model for empty object")
	}
	if _, ok := ExtractModel(nil); ok {
		t.Error("expected no model for empty body")
	}
}

func TestRewriteModel_OnlyTouchesModelField(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	out, err := RewriteModel(body, "gpt-4o-2024-08-06")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := ExtractModel(out)
	if got != "gpt-4o-2024-08-06" {
		t.Errorf("model = %q, want gpt-4o-2024-08-06", got)
	}
	if !strings.Contains(string(out), `"content":"hi"`) {
		t.Errorf("rewrite touched unrelated fields: %s", out)
	}
}

func TestExtractModelFromPath(t *testing.T) {
	cases := []struct {
		name       string
		path       string
		wantModel  string
		wantSuffix string
		wantOK     bool
	}{
		{"gemini colon suffix", "/v1beta/models/gemini-1.5-pro:generateContent", "models/gemini-1.5-pro", ":generateContent", true},
		{"v1 colon suffix", "/v1/gpt-4:chat", "gpt-4", ":chat", true},
		{"v1beta models bare", "/v1beta/models/gemini-1.5-pro", "models/gemini-1.5-pro", "", true},
		{"v1 models marker with suffix", "/v1/models/gpt-4/capabilities", "gpt-4", "/capabilities", true},
		{"no match", "/healthz", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, model, suffix, ok := ExtractModelFromPath(tc.path)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if model != tc.wantModel || suffix != tc.wantSuffix {
				t.Errorf("(model, suffix) = (%q, %q), want (%q, %q)", model, suffix, tc.wantModel, tc.wantSuffix)
			}
		})
	}
}

func TestRewritePathModel(t *testing.T) {
	prefix, _, suffix, ok := ExtractModelFromPath("/v1beta/models/gemini-1.5-pro:generateContent")
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	got := RewritePathModel(prefix, "models/gemini-1.5-flash", suffix)
	if got != "/v1beta/models/gemini-1.5-flash:generateContent" {
		t.Errorf("RewritePathModel() = %q", got)
	}
}

func TestDetectStreamIntent(t *testing.T) {
	cases := []struct {
		name   string
		header http.Header
		query  url.Values
		body   []byte
		want   bool
	}{
		{
			name:   "accept header wins",
			header: http.Header{"Accept": []string{"text/event-stream"}},
			want:   true,
		},
		{
			name:  "query stream true",
			query: url.Values{"stream": []string{"true"}},
			want:  true,
		},
		{
			name:  "query streaming off",
			query: url.Values{"streaming": []string{"off"}},
			want:  false,
		},
		{
			name: "json stream bool",
			body: []byte(`{"model":"x","stream":true}`),
			want: true,
		},
		{
			name: "json streaming numeric truthy",
			body: []byte(`{"streaming":1}`),
			want: true,
		},
		{
			name: "json stream string falsy",
			body: []byte(`{"stream":"no"}`),
			want: false,
		},
		{
			name: "no signal defaults false",
			body: []byte(`{"model":"x"}`),
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := tc.header
			if h == nil {
				h = http.Header{}
			}
			q := tc.query
			if q == nil {
				q = url.Values{}
			}
			got := DetectStreamIntent(h, q, tc.body)
			if got != tc.want {
				t.Errorf("DetectStreamIntent() = %v, want %v", got, tc.want)
			}
		})
	}
}

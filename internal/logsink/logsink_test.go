package logsink

import (
	"context"
	"path/filepath"
	"testing"
)

func TestExtractUsage_OpenAIShape(t *testing.T) {
	body := []byte(`{"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	u := ExtractUsage(body)
	if u.TokensIn == nil || *u.TokensIn != 10 {
		t.Errorf("TokensIn = %v, want 10", u.TokensIn)
	}
	if u.TokensOut == nil || *u.TokensOut != 5 {
		t.Errorf("TokensOut = %v, want 5", u.TokensOut)
	}
	if u.TokensTotal == nil || *u.TokensTotal != 15 {
		t.Errorf("TokensTotal = %v, want 15", u.TokensTotal)
	}
}

func TestExtractUsage_GeminiShape(t *testing.T) {
	body := []byte(`{"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}}`)
	u := ExtractUsage(body)
	if u.TokensIn == nil || *u.TokensIn != 7 {
		t.Errorf("TokensIn = %v, want 7", u.TokensIn)
	}
	if u.TokensTotal == nil || *u.TokensTotal != 10 {
		t.Errorf("TokensTotal = %v, want 10", u.TokensTotal)
	}
}

func TestExtractUsage_MissingUsageReturnsZeroValue(t *testing.T) {
	u := ExtractUsage([]byte(`{"id":"x"}`))
	if u.TokensIn != nil || u.TokensOut != nil || u.TokensTotal != nil {
		t.Errorf("expected all-nil Usage, got %+v", u)
	}
}

func TestExtractUsageFromStream_TakesLastUsageFrame(t *testing.T) {
	body := []byte("data: {\"choices\":[]}\n\n" +
		"data: {\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":8,\"total_tokens\":10}}\n\n" +
		"data: [DONE]\n\n")
	u := ExtractUsageFromStream(body)
	if u.TokensTotal == nil || *u.TokensTotal != 10 {
		t.Errorf("TokensTotal = %v, want 10", u.TokensTotal)
	}
}

func TestFileSink_RecordAndReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(context.Background(), Entry{RequestID: "r1", Path: "/v1/chat", Status: "success", StatusCode: 200}); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(context.Background(), Entry{RequestID: "r2", Path: "/v1/chat", Status: "error", StatusCode: 502}); err != nil {
		t.Fatal(err)
	}

	recent := s.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("Recent(10) len = %d, want 2", len(recent))
	}

	reopened, err := NewFileSink(dir, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(reopened.Recent(10)) != 2 {
		t.Fatalf("expected reopened sink to reload 2 persisted entries, got %d", len(reopened.Recent(10)))
	}
}

func TestFileSink_TrimsToMaxLines(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(filepath.Clean(dir), 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Record(context.Background(), Entry{RequestID: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}
	recent := s.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2 after trimming", len(recent))
	}
	if recent[0].RequestID != "d" || recent[1].RequestID != "e" {
		t.Errorf("expected the last two entries retained, got %+v", recent)
	}
}

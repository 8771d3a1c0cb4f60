package logsink

import (
	"strings"

	"github.com/tidwall/gjson"
)

func pickInt(primary, fallback gjson.Result) *int64 {
	if primary.Exists() && primary.Type == gjson.Number {
		v := primary.Int()
		return &v
	}
	if fallback.Exists() && fallback.Type == gjson.Number {
		v := fallback.Int()
		return &v
	}
	return nil
}

// ExtractUsage reads usage/token accounting from a buffered response body
// without a full unmarshal, covering both OpenAI's "usage" object and
// Gemini's "usageMetadata"/"usage_metadata" object, grounded on the
// original implementation's _extract_usage.
func ExtractUsage(body []byte) Usage {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return Usage{}
	}
	var u Usage

	usage := gjson.GetBytes(body, "usage")
	if usage.Exists() {
		u.TokensIn = pickInt(usage.Get("prompt_tokens"), usage.Get("input_tokens"))
		u.TokensOut = pickInt(usage.Get("completion_tokens"), usage.Get("output_tokens"))
		if total := usage.Get("total_tokens"); total.Exists() {
			v := total.Int()
			u.TokensTotal = &v
		}
		details := usage.Get("prompt_tokens_details")
		if cached := details.Get("cached_tokens"); cached.Exists() {
			v := cached.Int()
			u.TokensCache = &v
		} else {
			u.TokensCache = pickInt(usage.Get("cache_read_input_tokens"), usage.Get("cached_tokens"))
		}
	}

	meta := gjson.GetBytes(body, "usageMetadata")
	if !meta.Exists() {
		meta = gjson.GetBytes(body, "usage_metadata")
	}
	if meta.Exists() {
		if u.TokensIn == nil {
			u.TokensIn = pickInt(meta.Get("promptTokenCount"), meta.Get("prompt_tokens"))
		}
		if u.TokensOut == nil {
			u.TokensOut = pickInt(meta.Get("candidatesTokenCount"), meta.Get("completion_tokens"))
		}
		if u.TokensTotal == nil {
			u.TokensTotal = pickInt(meta.Get("totalTokenCount"), meta.Get("total_tokens"))
		}
	}

	return u
}

// ExtractUsageFromStream scans an SSE body's "data: " frames for the last
// one carrying usage information, matching the original implementation's
// _extract_usage_from_stream: most streaming protocols attach the final
// usage total to the last chunk.
func ExtractUsageFromStream(body []byte) Usage {
	if len(body) == 0 {
		return Usage{}
	}
	var last []byte
	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		if !gjson.Valid(payload) {
			continue
		}
		if gjson.Get(payload, "usage").Exists() || gjson.Get(payload, "usageMetadata").Exists() || gjson.Get(payload, "usage_metadata").Exists() {
			last = []byte(payload)
		}
	}
	if last == nil {
		return Usage{}
	}
	return ExtractUsage(last)
}

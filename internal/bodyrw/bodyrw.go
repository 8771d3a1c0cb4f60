// Package bodyrw implements the "opaque bytes vs. parsed+original" dynamic
// JSON handling from spec §9: requests are treated as opaque bytes on the
// fast path, and only patched (via sjson) when a model rewrite is actually
// needed, using gjson to read fields without a full unmarshal.
package bodyrw

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ExtractModel reads the JSON-body "model" field without unmarshaling the
// whole document (spec §6: "The body is inspected for a JSON model field").
func ExtractModel(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	res := gjson.GetBytes(body, "model")
	if !res.Exists() || res.String() == "" {
		return "", false
	}
	return res.String(), true
}

// RewriteModel patches the top-level "model" field in place and returns the
// reserialized bytes. Reserialization only happens here, on the path where
// a rewrite is actually needed (spec §9).
func RewriteModel(body []byte, newModel string) ([]byte, error) {
	return sjson.SetBytes(body, "model", newModel)
}

// IsJSON reports whether the body looks like a JSON document at all.
func IsJSON(body []byte) bool {
	return gjson.ValidBytes(body)
}

var truthy = map[string]bool{
	"1": true, "true": true, "yes": true, "on": true,
	"0": false, "false": false, "no": false, "off": false,
}

func coerceTruthy(s string) (bool, bool) {
	v, ok := truthy[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// DetectStreamIntent implements spec §4.7's ordered decision: Accept
// header, then a stream/streaming query parameter, then a top-level
// stream/streaming JSON field, defaulting to non-streaming.
func DetectStreamIntent(header http.Header, query url.Values, body []byte) bool {
	if strings.Contains(header.Get("Accept"), "text/event-stream") {
		return true
	}

	for _, key := range []string{"stream", "streaming"} {
		if raw := query.Get(key); raw != "" {
			if v, ok := coerceTruthy(raw); ok {
				return v
			}
		}
	}

	if len(body) > 0 && gjson.ValidBytes(body) {
		for _, key := range []string{"stream", "streaming"} {
			res := gjson.GetBytes(body, key)
			if !res.Exists() {
				continue
			}
			switch res.Type {
			case gjson.True:
				return true
			case gjson.False:
				return false
			case gjson.Number:
				return res.Num == 1
			case gjson.String:
				if v, ok := coerceTruthy(res.Str); ok {
					return v
				}
			}
		}
	}

	return false
}

// ExtractQueryModel reads the "model" query parameter, the fallback used
// when the body doesn't carry one (spec §6).
func ExtractQueryModel(query url.Values) (string, bool) {
	m := query.Get("model")
	return m, m != ""
}

// ExtractModelFromPath recognizes the Gemini-style colon-suffixed model
// path (e.g. "/v1beta/models/gemini-1.5-pro:generateContent") and the
// OpenAI-style "/v1/models/<id>" listing path, returning the model id and
// the prefix/suffix needed to rebuild the path after a model rewrite.
// Mirrors the original implementation's _extract_model_from_path.
func ExtractModelFromPath(path string) (prefix, model, suffix string, ok bool) {
	for _, versionPrefix := range []string{"/v1beta/", "/v1/"} {
		if !strings.HasPrefix(path, versionPrefix) {
			continue
		}
		rest := path[len(versionPrefix):]
		if idx := strings.IndexByte(rest, ':'); idx >= 0 {
			return versionPrefix, rest[:idx], rest[idx:], true
		}
		if versionPrefix == "/v1beta/" && strings.HasPrefix(rest, "models/") && rest != "models/" {
			return versionPrefix, rest, "", true
		}
		break
	}

	const marker = "/v1/models/"
	idx := strings.Index(path, marker)
	if idx == -1 {
		return "", "", "", false
	}
	start := idx + len(marker)
	rest := path[start:]
	if rest == "" {
		return "", "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	modelPart := parts[0]
	pathSuffix := ""
	if len(parts) > 1 {
		pathSuffix = "/" + parts[1]
	}
	return path[:start], modelPart, pathSuffix, true
}

// RewritePathModel substitutes newModel into a path previously decomposed
// by ExtractModelFromPath.
func RewritePathModel(prefix, newModel, suffix string) string {
	return prefix + newModel + suffix
}

// ParseQueryInt is a small helper retained for callers that need to read
// numeric query parameters defensively (e.g. pagination on admin routes).
func ParseQueryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

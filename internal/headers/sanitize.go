// Package headers implements the header sanitization rules of spec §4.2:
// stripping hop-by-hop and auth headers outbound, injecting the upstream
// provider's credential, and stripping hop-by-hop/content-encoding inbound.
package headers

import (
	"net/http"
	"strings"
)

var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
}

var clientAuthHeaders = map[string]struct{}{
	"authorization":  {},
	"x-api-key":      {},
	"x-goog-api-key": {},
}

func isHopByHop(key string) bool {
	_, ok := hopByHop[strings.ToLower(key)]
	return ok
}

func isClientAuth(key string) bool {
	_, ok := clientAuthHeaders[strings.ToLower(key)]
	return ok
}

// SanitizeOutbound strips hop-by-hop headers, host, content-length, and
// every known client auth header, then injects exactly one auth header
// chosen by mirroring the inbound scheme (spec §4.2, outbound rules).
func SanitizeOutbound(inbound http.Header, apiKey string) http.Header {
	out := make(http.Header, len(inbound))
	for key, values := range inbound {
		lower := strings.ToLower(key)
		if isHopByHop(key) || isClientAuth(key) || lower == "host" || lower == "content-length" {
			continue
		}
		out[key] = append([]string(nil), values...)
	}

	name, value := InjectedAuth(inbound, apiKey)
	out.Set(name, value)
	return out
}

// InjectedAuth decides the single auth header/value pair to forward
// upstream, mirroring the inbound client's chosen scheme: if the client
// sent x-goog-api-key or x-api-key, the same header name carries the
// upstream key verbatim; otherwise Authorization is used with the
// upstream key, preserving the inbound scheme if it wasn't Bearer.
func InjectedAuth(inbound http.Header, apiKey string) (name string, value string) {
	if inbound.Get("X-Goog-Api-Key") != "" {
		return "X-Goog-Api-Key", apiKey
	}
	if inbound.Get("X-Api-Key") != "" {
		return "X-Api-Key", apiKey
	}
	if auth := inbound.Get("Authorization"); auth != "" {
		if scheme, _, ok := strings.Cut(auth, " "); ok && !strings.EqualFold(scheme, "bearer") {
			return "Authorization", scheme + " " + apiKey
		}
	}
	return "Authorization", "Bearer " + apiKey
}

// SanitizeInbound strips hop-by-hop headers and content-encoding (the
// forwarder never re-encodes a relayed body) from an upstream response
// before it's written to the client (spec §4.2, inbound rules).
func SanitizeInbound(upstream http.Header) http.Header {
	out := make(http.Header, len(upstream))
	for key, values := range upstream {
		lower := strings.ToLower(key)
		if isHopByHop(key) || lower == "content-encoding" {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

// Package modelmatch implements the model-matching rules of spec §4.3:
// given a requested model id and a provider's effective pattern list,
// decide whether the provider serves it and which id to forward upstream.
package modelmatch

import (
	"path/filepath"
	"strings"
)

// Result describes the outcome of matching a requested model id against
// one provider's patterns.
type Result struct {
	Matched     bool
	UpstreamID  string // the model id to send upstream
	ViaAlias    bool
	ViaGlob     bool
	ViaWildcard bool
}

// Match implements the three-step, first-match-wins rule from spec §4.3:
//  1. exact equality against any pattern -> forward unchanged
//  2. fnmatch-style glob match against any pattern -> forward unchanged
//  3. exact alias match -> forward the canonical id stored for the alias
//
// The implementer's choice noted in spec §9 (glob vs. regex-on-arbitrary-
// input) is resolved here in favor of glob matching via filepath.Match, which
// never treats client input as a regular expression.
func Match(requested string, patterns []string, alias map[string]string) Result {
	for _, pattern := range patterns {
		if pattern == requested {
			return Result{Matched: true, UpstreamID: requested}
		}
	}
	for _, pattern := range patterns {
		if pattern == "*" {
			continue // checked after the specific globs, below
		}
		if ok, _ := filepath.Match(pattern, requested); ok {
			return Result{Matched: true, UpstreamID: requested, ViaGlob: true}
		}
	}
	// A bare "*" wildcard (e.g. the hydration-failure fallback) matches
	// anything but is not a capability declaration worth distinguishing
	// from a glob match, so it's checked after specific globs.
	for _, pattern := range patterns {
		if pattern == "*" {
			return Result{Matched: true, UpstreamID: requested, ViaWildcard: true}
		}
	}
	if canonical, ok := alias[requested]; ok {
		return Result{Matched: true, UpstreamID: canonical, ViaAlias: true}
	}
	return Result{}
}

// Supported reports whether patterns/alias allow the provider to serve
// requested at all, without needing the rewritten id.
func Supported(requested string, patterns []string, alias map[string]string) bool {
	return Match(requested, patterns, alias).Matched
}

var globMeta = []string{"*", "?", "["}

// IsConcrete reports whether pattern names a single model id rather than a
// glob or the bare wildcard, i.e. whether it's safe to list verbatim in a
// models listing (spec §6, GET /v1/models).
func IsConcrete(pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, m := range globMeta {
		if strings.Contains(pattern, m) {
			return false
		}
	}
	return true
}

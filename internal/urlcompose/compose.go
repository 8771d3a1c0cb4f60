// Package urlcompose implements the URL composer of spec §4.1: joining an
// upstream base URL with an inbound request path, reconciling overlapping
// version prefixes.
package urlcompose

import (
	"net/url"
	"regexp"
	"strings"
)

var versionSegment = regexp.MustCompile(`(?i)^v\d+(?:beta\d*)?$`)

func isVersionSegment(segment string) bool {
	return versionSegment.MatchString(segment)
}

// Join composes base and inbound path per spec §4.1's ordered rules.
// Query and fragment of the returned URL always come from base; the
// inbound query is carried by the caller separately (spec §4.1 rule 6).
func Join(base, inbound string) string {
	if base == "" {
		return inbound
	}
	if inbound == "" {
		return base
	}

	parsed, err := url.Parse(base)
	if err != nil {
		// Not a parseable URL (e.g. in tests exercising plain paths):
		// fall back to segment-aware string concatenation using the raw
		// base as the "path".
		return joinPaths(base, inbound)
	}

	joinedPath := joinPaths(parsed.Path, inbound)
	query := parsed.RawQuery
	fragment := parsed.Fragment
	parsed.Path = ""
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""

	result := parsed.String() + joinedPath
	if query != "" {
		result += "?" + query
	}
	if fragment != "" {
		result += "#" + fragment
	}
	return result
}

func joinPaths(basePath, inboundPath string) string {
	baseSegments := splitSegments(basePath)
	pathSegments := splitSegments(inboundPath)
	trimmedBase := false
	trimmedPath := false

	if len(baseSegments) > 0 && len(pathSegments) > 0 {
		lastBase := baseSegments[len(baseSegments)-1]
		firstPath := pathSegments[0]
		switch {
		case lastBase == firstPath:
			// Rule 3: exact duplicate segment, drop it from the base.
			baseSegments = baseSegments[:len(baseSegments)-1]
			trimmedBase = true
		case isVersionSegment(lastBase) && isVersionSegment(firstPath) && lastBase != firstPath:
			// Rule 4: conflicting version markers, keep the base's.
			pathSegments = pathSegments[1:]
			trimmedPath = true
		}
	}

	if trimmedBase {
		basePath = ""
		if len(baseSegments) > 0 {
			basePath = "/" + strings.Join(baseSegments, "/")
		}
	}
	pathPart := inboundPath
	if trimmedPath {
		pathPart = ""
		if len(pathSegments) > 0 {
			pathPart = "/" + strings.Join(pathSegments, "/")
		}
	}
	if pathPart == "" {
		pathPart = "/"
	}

	// Rule 5: concatenate, preserving exactly one slash at the boundary.
	switch {
	case strings.HasSuffix(basePath, "/") && strings.HasPrefix(pathPart, "/"):
		return basePath + pathPart[1:]
	case basePath != "" && !strings.HasSuffix(basePath, "/") && !strings.HasPrefix(pathPart, "/"):
		return basePath + "/" + pathPart
	default:
		return basePath + pathPart
	}
}

func splitSegments(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

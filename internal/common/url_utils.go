package common

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveServiceURL resolves ref against baseURL.
// Absolute refs (with scheme) are returned unchanged; relative refs are joined to the base.
func ResolveServiceURL(baseURL, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty URL reference")
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL reference %q: %w", ref, err)
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("base URL %q must be absolute", baseURL)
	}

	// Join paths rather than RFC 3986 resolution so a base path prefix is preserved
	joined := *base
	joined.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(refURL.Path, "/")
	// Keep escaped separators such as %2F from the reference
	joined.RawPath = strings.TrimRight(base.EscapedPath(), "/") + "/" + strings.TrimLeft(refURL.EscapedPath(), "/")
	joined.RawQuery = refURL.RawQuery
	joined.Fragment = refURL.Fragment
	return joined.String(), nil
}

// JoinLocator appends a single locator segment to a path prefix, escaping the segment
func JoinLocator(prefix, locator string) string {
	return strings.TrimRight(prefix, "/") + "/" + url.PathEscape(strings.TrimLeft(locator, "/"))
}

package discovery

import (
	"net/url"
	"strings"
)

// InvalidIdentityURL is the sentinel identity for input that cannot be
// normalized. It is rejected unconditionally before deduplication, so it
// never reaches the store.
const InvalidIdentityURL = "invalid://unparseable"

// NormalizeStoreURL canonicalizes a discovered URL into its identity form:
// https scheme, lower case, no www prefix, no default port, no trailing
// slash, no query or fragment. Total and idempotent; unparseable input maps
// to InvalidIdentityURL instead of an error.
func NormalizeStoreURL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return InvalidIdentityURL
	}

	u, err := url.Parse(s)
	if err != nil {
		return InvalidIdentityURL
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		// Bare host form from the text scanner.
		u, err = url.Parse("https://" + s)
		if err != nil {
			return InvalidIdentityURL
		}
	default:
		return InvalidIdentityURL
	}
	if u.Hostname() == "" {
		return InvalidIdentityURL
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}
	path := strings.TrimRight(u.EscapedPath(), "/")

	return "https://" + host + path
}

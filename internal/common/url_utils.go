package common

import (
	"net/url"
	"strings"
)

// FileNameFromURL returns the display name for a feed source: the URL's path
// plus query string. Falls back to the raw string for unparseable URLs.
func FileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	name := u.Path
	if u.RawQuery != "" {
		name += "?" + u.RawQuery
	}
	if name == "" {
		name = "/"
	}
	return name
}

// HostMatches reports whether the URL's host contains any of the given
// substrings. Used by the batch size policy for high-volume feeds.
func HostMatches(raw string, hosts []string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, h := range hosts {
		if h == "" {
			continue
		}
		if strings.Contains(host, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

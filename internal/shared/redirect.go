package shared

import (
	"net/url"
	"strings"
)

// SafeRedirect returns raw when it is a local absolute path and "/"
// otherwise, so user supplied ?next= values cannot send people off-site.
func SafeRedirect(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return "/"
	}
	if u, err := url.Parse(raw); err != nil || u.Host != "" || u.Scheme != "" {
		return "/"
	}
	return raw
}

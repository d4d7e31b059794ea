package logger

import (
	"net/url"
	"regexp"
)

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`),
	// webhook paths carry the token as the last segment
	regexp.MustCompile(`(?i)(/webhooks/\d+/)([A-Za-z0-9_\-]+)`),
}

// RedactSensitiveData replaces tokens and secrets in input with "[REDACTED]".
func RedactSensitiveData(input string) string {
	for _, p := range sensitivePatterns {
		input = p.ReplaceAllString(input, "$1[REDACTED]")
	}
	return input
}

// RedactURL keeps scheme and host of raw and drops credentials, path and query.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return RedactSensitiveData(raw)
	}
	return u.Scheme + "://" + u.Host
}

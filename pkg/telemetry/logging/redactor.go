package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

var bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-._~+/]+=*`)

// sensitiveKeys are substrings of attribute keys whose values are masked.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token",
	"authorization", "api_key", "apikey", "dsn",
}

// redactAttr is a slog ReplaceAttr hook. Values under sensitive keys keep a
// four character hint; bearer tokens elsewhere are replaced outright.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}

	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactValue(a.Value.String()))
	}
	if s := a.Value.String(); strings.Contains(strings.ToLower(s), "bearer") {
		return slog.String(a.Key, RedactString(s))
	}
	return a
}

// IsSensitiveKey reports whether an attribute key names a credential.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// RedactValue masks a credential, keeping its first four characters.
func RedactValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "***"
	}
	return v[:4] + "***"
}

// RedactString replaces bearer tokens embedded in free text.
func RedactString(s string) string {
	return bearerPattern.ReplaceAllString(s, "Bearer ***")
}

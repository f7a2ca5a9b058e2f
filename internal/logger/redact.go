package logger

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of any attribute whose key names secret
// material.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are matched against the full key and against its last
// segment after '.' or '_', case-insensitively.
var sensitiveKeys = map[string]struct{}{
	"secret":      {},
	"password":    {},
	"key":         {},
	"session_key": {},
	"private_key": {},
	"ticket":      {},
	"passphrase":  {},
	"token":       {},
}

// IsSensitiveKey reports whether values logged under key must be redacted.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	if _, ok := sensitiveKeys[k]; ok {
		return true
	}
	if i := strings.LastIndexAny(k, "._"); i >= 0 {
		if _, ok := sensitiveKeys[k[i+1:]]; ok {
			return true
		}
	}
	return false
}

// redactAttr is installed as slog.HandlerOptions.ReplaceAttr on every handler.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactedValue)
	}
	return a
}

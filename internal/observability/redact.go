// Package observability provides logging utilities with sensitive data redaction.
package observability

import (
	"regexp"
	"strings"
)

// Redactor handles sensitive data masking in logs and error-log context blobs.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
	name        string
}

// NewRedactor creates a new redactor with default patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}
	r.addDefaultPatterns()
	return r
}

func (r *Redactor) addDefaultPatterns() {
	// Authorization headers in any serialized form
	r.AddPattern(`Authorization:\s*[^\s"]+`, "Authorization: [REDACTED]", "auth_header")
	r.AddPattern(`Bearer\s+[a-zA-Z0-9\-_\.]+`, "Bearer [REDACTED]", "bearer_token")
	r.AddPattern(`Basic\s+[a-zA-Z0-9+/=]+`, "Basic [REDACTED]", "basic_auth")

	// Credentials embedded in URLs or query strings
	r.AddPattern(`://[^/\s:@]+:[^/\s@]+@`, "://[REDACTED]@", "url_credentials")
	r.AddPattern(`(api_key|apikey|password|token|secret)=[^&\s"]+`, "$1=[REDACTED]", "query_credential")

	// Common long hex API keys
	r.AddPattern(`\b[a-f0-9]{32,}\b`, "[REDACTED_API_KEY]", "generic_api_key")
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern, replacement, name string) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return // Skip invalid patterns
	}
	r.patterns = append(r.patterns, &redactPattern{
		regex:       regex,
		replacement: replacement,
		name:        name,
	})
}

// Redact applies all redaction patterns to the input string.
func (r *Redactor) Redact(input string) string {
	result := input
	for _, p := range r.patterns {
		result = p.regex.ReplaceAllString(result, p.replacement)
	}
	return result
}

// RedactMap redacts sensitive values in a map, recursing into nested maps
// and slices. Keys that look credential-bearing are masked wholesale.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = r.redactValue(k, v)
	}
	return result
}

var sensitiveKeyNames = []string{
	"key", "apikey", "token", "secret", "password", "passwd",
	"auth", "authorization", "credential", "credentials",
}

// isSensitiveKey matches whole credential key names and delimited suffixes
// such as api_key or auth-token. Domain words that merely contain one, like
// keyword, are not credentials and pass through.
func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, name := range sensitiveKeyNames {
		if k == name || strings.HasSuffix(k, "_"+name) || strings.HasSuffix(k, "-"+name) {
			return true
		}
	}
	return false
}

func (r *Redactor) redactValue(key string, value any) any {
	if isSensitiveKey(key) {
		return "[REDACTED]"
	}

	switch v := value.(type) {
	case string:
		return r.Redact(v)
	case map[string]any:
		return r.RedactMap(v)
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = r.redactValue("", item)
		}
		return result
	default:
		return value
	}
}

// RedactHeaders redacts sensitive HTTP headers before they are persisted or logged.
func (r *Redactor) RedactHeaders(headers map[string][]string) map[string][]string {
	sensitiveHeaders := map[string]bool{
		"authorization": true,
		"x-api-key":     true,
		"api-key":       true,
		"x-auth-token":  true,
		"cookie":        true,
		"set-cookie":    true,
	}

	result := make(map[string][]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			result[k] = []string{"[REDACTED]"}
		} else {
			result[k] = v
		}
	}
	return result
}

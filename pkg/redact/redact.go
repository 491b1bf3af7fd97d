// Package redact implements the built-in Redactor plugins: URL
// credential scrubbing and recursive sensitive-key masking. Both are
// adapted from a regex-based sanitizer, generalized to walk the
// envelope's Data tree instead of an opaque string, since redactors
// operate on structured events rather than log lines.
package redact

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"corelog/pkg/types"
)

// sensitiveKeyNames are the field names treated as secrets wherever
// they appear in an envelope's Data tree, case-insensitively.
var sensitiveKeyNames = map[string]struct{}{
	"password":    {},
	"passwd":      {},
	"pwd":         {},
	"api_key":     {},
	"apikey":      {},
	"secret":      {},
	"token":       {},
	"access_key":  {},
	"private_key": {},
	"auth":        {},
}

var urlLikeValue = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

var sensitiveQueryParams = []string{"token", "api_key", "apikey", "key", "secret", "password", "pwd", "auth"}

const mask = "****"

// URLCredentialRedactor scrubs userinfo and sensitive query parameters
// from any string value anywhere in an envelope's Data tree that looks
// like a URL, leaving the host and path intact (seed scenario: a URL
// carrying "user:secret@host" loses the credentials but keeps the
// host).
type URLCredentialRedactor struct{}

func (URLCredentialRedactor) Name() string { return "url_credential_redactor" }

func (r URLCredentialRedactor) Redact(ctx context.Context, env *types.LogEnvelope) (*types.LogEnvelope, error) {
	out := env.Clone()
	out.Data = walkStrings(out.Data, redactURLIfPresent)
	return out, nil
}

func redactURLIfPresent(s string) string {
	if !urlLikeValue.MatchString(s) {
		return s
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return s
	}
	if parsed.User != nil {
		parsed.User = url.User(mask)
	}
	query := parsed.Query()
	for _, p := range sensitiveQueryParams {
		if query.Has(p) {
			query.Set(p, mask)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// SensitiveKeyRedactor recursively masks the value of any map key
// named like a secret (password, api_key, secret, token, ...),
// case-insensitively, anywhere in an envelope's Data tree. The fallback
// sink's redact_mode=minimal applies the same masking through
// RedactSensitiveKeys.
type SensitiveKeyRedactor struct{}

func (SensitiveKeyRedactor) Name() string { return "sensitive_key_redactor" }

func (r SensitiveKeyRedactor) Redact(ctx context.Context, env *types.LogEnvelope) (*types.LogEnvelope, error) {
	out := env.Clone()
	out.Data = RedactSensitiveKeys(out.Data)
	return out, nil
}

// RedactSensitiveKeys masks values of sensitive-named keys throughout
// m, recursively. Exported so the fallback sink can apply the same
// policy without depending on the pipeline package.
func RedactSensitiveKeys(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = mask
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return RedactSensitiveKeys(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = redactValue(e)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeyNames[strings.ToLower(key)]
	return ok
}

// walkStrings applies fn to every string leaf in m, recursively,
// returning a new map (m is not mutated).
func walkStrings(m map[string]any, fn func(string) string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = walkValue(v, fn)
	}
	return out
}

func walkValue(v any, fn func(string) string) any {
	switch vv := v.(type) {
	case string:
		return fn(vv)
	case map[string]any:
		return walkStrings(vv, fn)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = walkValue(e, fn)
		}
		return out
	default:
		return v
	}
}

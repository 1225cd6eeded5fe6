// Package redact strips secrets and PII from tool call inputs and outputs
// before they are persisted or exported.
//
// Two key classes drive redaction: fully sensitive keys (passwords, tokens)
// are replaced wholesale, while PII keys (emails, phone numbers) are
// partially masked so records stay attributable without exposing the value.
// String values are additionally scanned for embedded secret shapes (auth
// headers, API key prefixes, JWTs, card numbers) regardless of the key name.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactedValue replaces fully sensitive values.
const RedactedValue = "[REDACTED]"

// MaxDepthSentinel replaces subtrees deeper than the recursion bound.
const MaxDepthSentinel = "[MAX_DEPTH_EXCEEDED]"

// DefaultMaxDepth bounds recursion into nested maps and slices.
const DefaultMaxDepth = 8

// sensitiveKeywords lists substrings that mark a key as fully sensitive.
// Comparison is case-insensitive substring match.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey", "access_key",
}

// piiKeywords lists substrings that mark a key as PII, partially masked.
var piiKeywords = []string{
	"email", "phone", "mobile", "address", "dob", "date_of_birth",
	"passport", "ssn", "national_insurance", "nino", "postcode",
}

// valuePatterns match embedded secrets inside string values, even when the
// containing key looks innocuous.
var valuePatterns = []*regexp.Regexp{
	// Authorization header values
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/]+=*`),
	// Prefixed API keys (sk_live_..., pk_test_..., key_...)
	regexp.MustCompile(`\b(?:sk|pk|rk|key)_[A-Za-z0-9_]{8,}\b`),
	// JWT-shaped triplets
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
	// Long digit runs resembling card numbers
	regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	// UK national insurance number shapes
	regexp.MustCompile(`\b[A-CEGHJ-PR-TW-Za-ceghj-pr-tw-z]{2}\s?\d{2}\s?\d{2}\s?\d{2}\s?[A-Da-d]\b`),
}

// Summarize limits, applied on top of redaction for storage-efficient
// summaries of what happened.
const (
	summarizeMaxString = 256
	summarizeMaxItems  = 20
)

// Redactor applies key-class and value-pattern redaction.
type Redactor struct {
	maxDepth  int
	extraKeys []string
}

// Option configures a Redactor.
type Option func(*Redactor)

// WithMaxDepth overrides the recursion bound.
func WithMaxDepth(depth int) Option {
	return func(r *Redactor) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithExtraSensitiveKeys adds fully sensitive key substrings, e.g. the
// per-tool redact fields from sensitivity metadata.
func WithExtraSensitiveKeys(keys ...string) Option {
	return func(r *Redactor) {
		for _, k := range keys {
			if k != "" {
				r.extraKeys = append(r.extraKeys, strings.ToLower(k))
			}
		}
	}
}

// New creates a Redactor.
func New(opts ...Option) *Redactor {
	r := &Redactor{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Redact returns a deep copy of v with sensitive values removed and PII
// masked. The input is never mutated.
func (r *Redactor) Redact(v any) any {
	return r.redactValue("", v, 0, false)
}

// Summarize redacts like Redact and additionally truncates long strings and
// large collections, for compact output summaries.
func (r *Redactor) Summarize(v any) any {
	return r.redactValue("", v, 0, true)
}

// RedactMap is a convenience for the common map-shaped arguments case.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := r.redactValue("", m, 0, false).(map[string]any)
	return out
}

func (r *Redactor) redactValue(key string, v any, depth int, summarize bool) any {
	if depth > r.maxDepth {
		return MaxDepthSentinel
	}

	// A sensitive key redacts its whole subtree, whatever the shape.
	if key != "" && r.isSensitiveKey(key) {
		return RedactedValue
	}

	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = r.redactValue(k, inner, depth+1, summarize)
		}
		return out

	case []any:
		n := len(val)
		truncated := false
		if summarize && n > summarizeMaxItems {
			n = summarizeMaxItems
			truncated = true
		}
		out := make([]any, 0, n)
		for _, inner := range val[:n] {
			out = append(out, r.redactValue(key, inner, depth+1, summarize))
		}
		if truncated {
			out = append(out, fmt.Sprintf("...(%d items total)", len(val)))
		}
		return out

	case string:
		return r.redactString(key, val, summarize)

	default:
		return v
	}
}

// redactString applies key-class redaction first, then value-pattern
// scanning, then the summarize truncation.
func (r *Redactor) redactString(key, s string, summarize bool) string {
	if key != "" && isPIIKey(key) {
		return partialMask(s)
	}

	for _, p := range valuePatterns {
		s = p.ReplaceAllString(s, RedactedValue)
	}

	if summarize && len(s) > summarizeMaxString {
		s = fmt.Sprintf("%s...(%d chars total)", s[:summarizeMaxString], len(s))
	}
	return s
}

// isSensitiveKey checks the default keywords plus any per-call extras.
func (r *Redactor) isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, kw := range r.extraKeys {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// isPIIKey checks if a key name indicates partially maskable PII.
func isPIIKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range piiKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// partialMask keeps a few leading and trailing characters and masks the
// middle. Very short values are fully redacted since there is nothing safe
// to keep: "a@b.com" -> "a***b.com".
func partialMask(s string) string {
	runes := []rune(s)
	switch {
	case len(runes) <= 4:
		return RedactedValue
	case len(runes) <= 6:
		return string(runes[0]) + "***" + string(runes[len(runes)-1])
	default:
		return string(runes[0]) + "***" + string(runes[len(runes)-5:])
	}
}

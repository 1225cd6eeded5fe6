// Package sqlguard validates read-only SQL queries submitted through the
// database-query tool.
//
// Defence is layered, and each layer runs against the query text as it stood
// when attackers wrote it: the dangerous-pattern scan inspects the raw query
// before comments are stripped, so obfuscation like UNI/**/ON cannot hide a
// keyword inside a comment, and the stripped copy is then rescanned by the
// keyword and structural layers.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// Reason identifies which class of check rejected a query.
type Reason string

const (
	// ReasonDisallowedKeyword covers dangerous patterns and blocked keywords.
	ReasonDisallowedKeyword Reason = "disallowed_keyword"
	// ReasonInvalidStructure covers non-SELECT statements and stray semicolons.
	ReasonInvalidStructure Reason = "invalid_structure"
	// ReasonNotWhitelisted means the query matched no allow-pattern.
	ReasonNotWhitelisted Reason = "not_whitelisted"
)

// ForbiddenQueryError is the typed rejection raised by Validate.
type ForbiddenQueryError struct {
	// Reason is the rejecting layer's classification.
	Reason Reason
	// Detail names the specific pattern or keyword that matched.
	Detail string
}

// Error implements the error interface.
func (e *ForbiddenQueryError) Error() string {
	return fmt.Sprintf("forbidden query (%s): %s", e.Reason, e.Detail)
}

// dangerousPattern is a named injection pattern scanned on the raw query.
type dangerousPattern struct {
	name string
	re   *regexp.Regexp
}

// dangerousPatterns run against the raw, unmodified query before comment
// stripping, so comment-based obfuscation is visible.
var dangerousPatterns = []dangerousPattern{
	{"stacked statement", regexp.MustCompile(`(?i);\s*(select|insert|update|delete|drop|create|alter|truncate|exec|grant)\b`)},
	{"union keyword", regexp.MustCompile(`(?i)\bunion\b`)},
	// Without word boundaries: catches UNION glued to other tokens.
	{"union fragment", regexp.MustCompile(`(?i)union\s*(all\b|select\b|\()`)},
	{"inline comment splitting a word", regexp.MustCompile(`(?i)[a-z]/\*.*?\*/[a-z]`)},
	{"hex literal", regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`)},
	{"char() call", regexp.MustCompile(`(?i)\bchar\s*\(`)},
	{"benchmark() call", regexp.MustCompile(`(?i)\bbenchmark\s*\(`)},
	{"sleep() call", regexp.MustCompile(`(?i)\bsleep\s*\(`)},
	{"information_schema reference", regexp.MustCompile(`(?i)\binformation_schema\b`)},
	{"system table reference", regexp.MustCompile(`(?i)\b(sysobjects|syscolumns|pg_catalog|mysql\.user)\b`)},
	{"subquery in WHERE clause", regexp.MustCompile(`(?i)\bwhere\b[\s\S]*\(\s*select\b`)},
	{"comment-adjacent keyword", regexp.MustCompile(`(?i)(/\*[\s\S]*?\*/|--|#)\s*(select|insert|update|delete|drop|union|exec)\b`)},
}

// blockedKeywords are rejected on the comment-stripped query with word
// boundaries. All write, DDL, admin, export, and execution verbs.
var blockedKeywords = []string{
	"insert", "update", "delete", "drop", "create", "alter", "truncate",
	"rename", "replace", "merge", "grant", "revoke", "commit", "rollback",
	"exec", "execute", "call", "shutdown", "outfile", "dumpfile",
	"load_file", "union",
}

// blockedKeywordPattern matches any blocked keyword on a word boundary.
var blockedKeywordPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(blockedKeywords, "|") + `)\b`)

// comment stripping patterns, including vendor-specific executable comments
// (/*! ... */) which MySQL runs despite the comment syntax.
var (
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*|#[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)
)

// selectPattern requires queries to start with SELECT.
var selectPattern = regexp.MustCompile(`(?i)^\s*select\b`)

// whitelistPatterns are the allow-shapes for the optional final layer:
// a plain SELECT with optional WHERE/ORDER BY/LIMIT, a COUNT(*), or an
// explicit column list.
var whitelistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)^\s*select\s+(\*|[\w\s,().]+?)\s+from\s+[\w.]+(\s+where\s+.+?)?(\s+order\s+by\s+[\w\s,.]+?(\s+(asc|desc))?)?(\s+limit\s+\d+(\s+offset\s+\d+)?)?\s*;?\s*$`),
	regexp.MustCompile(`(?is)^\s*select\s+count\s*\(\s*\*\s*\)\s+from\s+[\w.]+(\s+where\s+.+?)?\s*;?\s*$`),
}

// Validator is the layered SQL query validator.
type Validator struct {
	whitelist bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithWhitelist enables the final allow-pattern layer. Queries that pass
// every rejection layer are still refused unless they match an allow-shape.
func WithWhitelist(enabled bool) Option {
	return func(v *Validator) {
		v.whitelist = enabled
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks a query through every layer in order and returns a
// *ForbiddenQueryError identifying the rejecting layer, or nil.
func (v *Validator) Validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return &ForbiddenQueryError{Reason: ReasonInvalidStructure, Detail: "empty query"}
	}

	// Layer 1: dangerous patterns on the raw query.
	for _, p := range dangerousPatterns {
		if p.re.MatchString(query) {
			return &ForbiddenQueryError{Reason: ReasonDisallowedKeyword, Detail: p.name}
		}
	}

	// Layer 2: strip comments to normalise.
	stripped := StripComments(query)

	// Layer 3: blocked keywords on the normalised query.
	if m := blockedKeywordPattern.FindString(stripped); m != "" {
		return &ForbiddenQueryError{
			Reason: ReasonDisallowedKeyword,
			Detail: "blocked keyword " + strings.ToUpper(m),
		}
	}

	// Layer 4: structural checks.
	if err := v.checkStructure(stripped); err != nil {
		return err
	}

	// Layer 5: optional whitelist.
	if v.whitelist && !matchesWhitelist(stripped) {
		return &ForbiddenQueryError{
			Reason: ReasonNotWhitelisted,
			Detail: "query does not match any allowed shape",
		}
	}

	return nil
}

// IsValid is the non-throwing wrapper around Validate.
func (v *Validator) IsValid(query string) bool {
	return v.Validate(query) == nil
}

// StripComments removes line comments (-- and #) and block comments,
// including vendor-specific executable comments.
func StripComments(query string) string {
	query = blockCommentPattern.ReplaceAllString(query, " ")
	query = lineCommentPattern.ReplaceAllString(query, " ")
	return strings.TrimSpace(query)
}

// checkStructure enforces SELECT-only with at most one trailing semicolon.
func (v *Validator) checkStructure(stripped string) error {
	if !selectPattern.MatchString(stripped) {
		return &ForbiddenQueryError{
			Reason: ReasonInvalidStructure,
			Detail: "query must start with SELECT",
		}
	}

	count := strings.Count(stripped, ";")
	if count > 1 {
		return &ForbiddenQueryError{
			Reason: ReasonInvalidStructure,
			Detail: "multiple semicolons",
		}
	}
	if count == 1 && !strings.HasSuffix(strings.TrimSpace(stripped), ";") {
		return &ForbiddenQueryError{
			Reason: ReasonInvalidStructure,
			Detail: "semicolon before end of query",
		}
	}

	return nil
}

// matchesWhitelist reports whether the query matches any allow-pattern.
func matchesWhitelist(stripped string) bool {
	for _, p := range whitelistPatterns {
		if p.MatchString(stripped) {
			return true
		}
	}
	return false
}

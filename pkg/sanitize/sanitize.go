// Package sanitize implements the Input Sanitizer (spec.md §4.B): PII and
// secret redaction applied to every prompt before it can cross into a cloud
// provider. Grounded on the teacher's
// pkg/notification/sanitization package, including its panic-safe fallback
// contract.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

const placeholder = "***REDACTED***"

// Violation records that a pattern matched, without ever carrying the
// matched value itself.
type Violation struct {
	Pattern string
	Offset  int
}

// Result is the outcome of Sanitize: the redacted text plus a description
// of what was found. Invariant: SanitizedText never contains a substring
// that matched a PII pattern.
type Result struct {
	SanitizedText string
	WasSanitized  bool
	Violations    []Violation
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Sanitizer detects and redacts PII and credential-shaped substrings.
// Zero value is not usable; construct with NewSanitizer.
type Sanitizer struct {
	patterns []pattern
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{patterns: defaultPatterns()}
}

func defaultPatterns() []pattern {
	return []pattern{
		{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
		{"phone_number", regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}\b`)},
		{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{"credit_card", regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},
		{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
		{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
		{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`)},
		{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]{10,}\b`)},
		{"api_key_assignment", regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|token)\s*[:=]\s*['"]?[^\s'",}]{4,}['"]?`)},
		{"high_entropy_token", regexp.MustCompile(`\b[A-Za-z0-9+/]{32,}={0,2}\b`)},
	}
}

// Sanitize redacts every recognized PII/secret pattern found in text.
// Idempotent: Sanitize(Sanitize(x).SanitizedText) yields the same text with
// zero further violations. Empty input is a no-op: WasSanitized=false,
// zero violations.
func (s *Sanitizer) Sanitize(text string) Result {
	if text == "" {
		return Result{SanitizedText: "", WasSanitized: false}
	}

	sanitized := text
	var violations []Violation

	for _, p := range s.patterns {
		locs := p.re.FindAllStringIndex(sanitized, -1)
		if locs == nil {
			continue
		}
		for _, loc := range locs {
			violations = append(violations, Violation{Pattern: p.name, Offset: loc[0]})
		}
		sanitized = p.re.ReplaceAllString(sanitized, placeholder)
	}

	return Result{
		SanitizedText: sanitized,
		WasSanitized:  len(violations) > 0,
		Violations:    violations,
	}
}

// SanitizeWithFallback calls Sanitize, recovering from any panic in the
// regex engine (e.g. catastrophic backtracking on adversarial input) by
// degrading to SafeFallback instead of losing the prompt outright. A
// non-nil error means the fallback path was used; the returned text is
// still safe to forward.
func (s *Sanitizer) SanitizeWithFallback(text string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = s.SafeFallback(text)
			err = fmt.Errorf("sanitizer panicked, used safe fallback: %v", r)
		}
	}()

	res := s.Sanitize(text)
	return res.SanitizedText, nil
}

var fallbackKeys = []string{"password", "passwd", "token", "api_key", "apikey", "secret"}

// SafeFallback performs simple, panic-proof string matching (no regex) for
// the most common `key: value`-shaped secrets. It is the last line of
// defense when the primary regex-based path is unavailable.
func (s *Sanitizer) SafeFallback(text string) string {
	if text == "" {
		return text
	}

	lower := strings.ToLower(text)
	var b strings.Builder
	i := 0
	for i < len(text) {
		matched := false
		for _, key := range fallbackKeys {
			if !strings.HasPrefix(lower[i:], key) {
				continue
			}
			rest := i + len(key)
			// must be followed by optional whitespace then ':' or '='
			j := rest
			for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
				j++
			}
			if j >= len(text) || (text[j] != ':' && text[j] != '=') {
				continue
			}
			j++
			for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
				j++
			}
			valStart := j
			if valStart < len(text) && (text[valStart] == '\'' || text[valStart] == '"') {
				valStart++
			}
			valEnd := valStart
			for valEnd < len(text) && !strings.ContainsRune(" \t\n,}'\"", rune(text[valEnd])) {
				valEnd++
			}
			if valEnd == valStart {
				continue
			}
			b.WriteString(text[i:j])
			b.WriteString("[REDACTED]")
			i = valEnd
			if i < len(text) && (text[i] == '\'' || text[i] == '"') {
				i++
			}
			matched = true
			break
		}
		if matched {
			continue
		}
		b.WriteByte(text[i])
		i++
	}
	return b.String()
}

// sanitize.go strips markup-like fragments from free-text fields before they
// are forwarded to the AI gateway or echoed back to clients. It is a filter
// for a handful of injection patterns, not an HTML sanitizer.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the truncation length used when none is given.
const DefaultMaxLength = 1000

var (
	angleBrackets = regexp.MustCompile(`[<>]`)
	jsProtocol    = regexp.MustCompile(`(?i)javascript:`)
	eventHandler  = regexp.MustCompile(`(?i)on\w+=`)
)

// SanitizeString trims input, truncates it to maxLength runes, then removes
// angle brackets, "javascript:" and inline event-handler prefixes such as
// "onclick=". Removal repeats until nothing matches, so a pattern assembled
// from the pieces of a removed one ("javajavascript:script:") is removed
// too, and SanitizeString(SanitizeString(s, n), n) == SanitizeString(s, n).
func SanitizeString(input string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	s := truncate(strings.TrimSpace(input), maxLength)
	for {
		prev := s
		s = angleBrackets.ReplaceAllString(s, "")
		s = jsProtocol.ReplaceAllString(s, "")
		s = eventHandler.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		if s == prev {
			return s
		}
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// NormalizeDomain trims and lowercases a company domain.
func NormalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// ValidateEmailDomain reports whether the domain part of email equals, or is
// a subdomain of, an entry in allowlist. An empty allowlist admits every
// domain.
func ValidateEmailDomain(email string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := NormalizeDomain(email[at+1:])
	for _, allowed := range allowlist {
		allowed = NormalizeDomain(allowed)
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

// Package correction classifies tool failures, decides retry policy,
// attempts deterministic parameter repair, and drives model-assisted
// correction rounds when heuristics fall short.
package correction

import (
	"regexp"
	"strings"
)

// ErrorClass buckets a tool failure for retry policy purposes.
type ErrorClass string

const (
	// ClassValidation covers malformed or missing parameters. These are the
	// transient umbrella's odd one out: retried immediately via auto-fix and
	// model correction rather than backoff.
	ClassValidation ErrorClass = "validation"
	ClassNetwork    ErrorClass = "network"
	ClassRateLimit  ErrorClass = "rate-limit"
	ClassServer     ErrorClass = "server"
	ClassUnknown    ErrorClass = "unknown"
)

// Keyword sets per class. Classification is deterministic and
// order-independent within a class; validation keywords are checked first.
var (
	validationKeywords = []string{
		"invalid params",
		"invalid arguments",
		"invalid argument",
		"validation",
		"missing required",
		"required",
		"expected",
		"invalid_type",
		"unrecognized_keys",
		"malformed",
	}
	networkKeywords = []string{
		"network",
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"unreachable",
		"no such host",
		"broken pipe",
	}
	rateLimitKeywords = []string{
		"rate limit",
		"rate_limit",
		"ratelimit",
		"too many requests",
		"quota exceeded",
	}
	serverKeywords = []string{
		"internal server error",
		"server error",
		"bad gateway",
		"service unavailable",
	}
)

// Status codes and the EOF token match only as whole words: a bare substring
// check would fire on unrelated digits inside identifiers or document ids.
var (
	eofRe           = regexp.MustCompile(`\beof\b`)
	rateLimitCodeRe = regexp.MustCompile(`\b429\b`)
	serverCodeRe    = regexp.MustCompile(`\b(500|502|503|504)\b`)
)

// Classify buckets an error text by case-insensitive keyword matching.
// It is a pure function of the text.
func Classify(errorText string) ErrorClass {
	text := strings.ToLower(errorText)

	switch {
	case matchesAny(text, validationKeywords):
		return ClassValidation
	case matchesAny(text, rateLimitKeywords) || rateLimitCodeRe.MatchString(text):
		return ClassRateLimit
	case matchesAny(text, networkKeywords) || eofRe.MatchString(text):
		return ClassNetwork
	case matchesAny(text, serverKeywords) || serverCodeRe.MatchString(text):
		return ClassServer
	default:
		return ClassUnknown
	}
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

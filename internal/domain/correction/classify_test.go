package correction_test

import (
	"testing"

	"mcp-chat-server/internal/domain/correction"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		errorText string
		expected  correction.ErrorClass
	}{
		{
			name:      "missing parameter is validation",
			errorText: "Invalid params: missing query",
			expected:  correction.ClassValidation,
		},
		{
			name:      "invalid arguments is validation",
			errorText: "Invalid arguments: index_name should be indices array",
			expected:  correction.ClassValidation,
		},
		{
			name:      "missing required parameter is validation",
			errorText: "missing required parameter: limit",
			expected:  correction.ClassValidation,
		},
		{
			name:      "rate limit exceeded",
			errorText: "Rate limit exceeded",
			expected:  correction.ClassRateLimit,
		},
		{
			name:      "http 429",
			errorText: "upstream returned 429",
			expected:  correction.ClassRateLimit,
		},
		{
			name:      "network timeout",
			errorText: "Network timeout",
			expected:  correction.ClassNetwork,
		},
		{
			name:      "connection refused",
			errorText: "dial tcp 10.0.0.5:8091: connection refused",
			expected:  correction.ClassNetwork,
		},
		{
			name:      "internal server error",
			errorText: "Internal Server Error",
			expected:  correction.ClassServer,
		},
		{
			name:      "bad gateway",
			errorText: "502 Bad Gateway",
			expected:  correction.ClassServer,
		},
		{
			name:      "eof token is network",
			errorText: "read tcp 10.0.0.5:8091: EOF",
			expected:  correction.ClassNetwork,
		},
		{
			name:      "unrecognized text is unknown",
			errorText: "something odd happened",
			expected:  correction.ClassUnknown,
		},
		{
			name:      "status code inside a document id is unknown",
			errorText: "document 25021 is not indexed",
			expected:  correction.ClassUnknown,
		},
		{
			name:      "429 inside a larger number is unknown",
			errorText: "batch 14290 rejected",
			expected:  correction.ClassUnknown,
		},
		{
			name:      "eof inside a word is unknown",
			errorText: "geofence lookup rejected",
			expected:  correction.ClassUnknown,
		},
		{
			name:      "empty text is unknown",
			errorText: "",
			expected:  correction.ClassUnknown,
		},
		{
			name:      "validation wins over other classes",
			errorText: "validation failed after network timeout",
			expected:  correction.ClassValidation,
		},
		{
			name:      "case insensitive",
			errorText: "RATE LIMIT reached for tenant",
			expected:  correction.ClassRateLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := correction.Classify(tt.errorText); got != tt.expected {
				t.Errorf("Classify(%q) = %q, want %q", tt.errorText, got, tt.expected)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	const text = "Network timeout"
	first := correction.Classify(text)
	for i := 0; i < 5; i++ {
		if got := correction.Classify(text); got != first {
			t.Fatalf("Classify is not deterministic: %q then %q", first, got)
		}
	}
}

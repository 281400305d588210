package correction

import "time"

// DefaultMaxRetries bounds same-round retry attempts per tool call.
const DefaultMaxRetries = 3

// RetryContext tracks the retry state of one failed tool call. It lives for
// a single correction attempt and is not persisted.
type RetryContext struct {
	RetryCount     int
	MaxRetries     int
	LastError      string
	OriginalParams map[string]any
}

// Decision is the outcome of a retry policy check.
type Decision struct {
	Retry  bool
	Reason string
	Delay  time.Duration
}

// ShouldRetry applies the per-class retry policy:
// validation retries immediately, network backs off exponentially capped at
// 8s, rate limits wait 5s plus 2s per attempt, server faults wait 2s per
// attempt, and unknown failures are never retried.
func ShouldRetry(success bool, rc RetryContext) Decision {
	if success {
		return Decision{Retry: false, Reason: "call succeeded"}
	}
	if rc.RetryCount >= rc.MaxRetries {
		return Decision{Retry: false, Reason: "retry limit reached"}
	}

	switch Classify(rc.LastError) {
	case ClassValidation:
		return Decision{Retry: true, Reason: "validation error, retry after parameter fix"}
	case ClassNetwork:
		delay := time.Duration(1000<<rc.RetryCount) * time.Millisecond
		if delay > 8*time.Second {
			delay = 8 * time.Second
		}
		return Decision{Retry: true, Reason: "network error, exponential backoff", Delay: delay}
	case ClassRateLimit:
		delay := 5*time.Second + time.Duration(rc.RetryCount)*2*time.Second
		return Decision{Retry: true, Reason: "rate limited, extended backoff", Delay: delay}
	case ClassServer:
		delay := time.Duration(rc.RetryCount+1) * 2 * time.Second
		return Decision{Retry: true, Reason: "server error, linear backoff", Delay: delay}
	default:
		return Decision{Retry: false, Reason: "unknown error class"}
	}
}

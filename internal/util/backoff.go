package util

import (
	"math"
	"time"
)

// RetryBackoff computes the delay before retry attempt n (0-based):
// 2^attempt seconds, capped at maxDelay. Matches the dispatch retry policy.
func RetryBackoff(attempt int, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		return 0
	}
	delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// CalculateExponentialBackoff computes exponential backoff with optional jitter.
// Formula: baseDelay * 2^(attempt-1), capped at maxDelay
func CalculateExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration, jitterPercent float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))

	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitterPercent > 0 {
		// Time-based pseudo-random avoids import of math/rand
		pseudoRandom := float64(time.Now().UnixNano()%1000) / 1000.0
		jitter := backoff * jitterPercent * (pseudoRandom - 0.5)
		backoff += jitter
	}

	return time.Duration(backoff)
}

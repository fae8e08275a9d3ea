package util

import (
	"testing"
	"time"
)

func TestRetryBackoff(t *testing.T) {
	maxDelay := 10 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // 16s capped
		{10, 10 * time.Second},
		{-1, 0},
	}

	for _, tt := range tests {
		if got := RetryBackoff(tt.attempt, maxDelay); got != tt.want {
			t.Errorf("RetryBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

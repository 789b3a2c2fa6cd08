package recovery

import (
	"math"
	"time"

	"github.com/vietddude/aiprocessor/internal/core/failure"
)

// RetryStrategy defines how an entry that failed processing is retried by
// the worker that owns its partition.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// ExponentialBackoff redelivers errors classified as Redeliver.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxAttempts counts every delivery of the entry, the first included.
	MaxAttempts int
	Classifier  func(error) failure.Action
}

// DefaultBackoff returns the redelivery defaults: 2s, 4s, 8s (max 60s), four deliveries.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  4,
		Classifier:   failure.Classify,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if the error asks for redelivery and deliveries remain.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	classify := s.Classifier
	if classify == nil {
		classify = failure.Classify
	}
	return classify(err) == failure.ActionRedeliver
}

// FixedBackoff retries any error a fixed number of times with the same delay.
// The consumer uses it for failures raised as incidents.
type FixedBackoff struct {
	Delay       time.Duration
	MaxAttempts int
}

func (s *FixedBackoff) GetDelay(int) time.Duration { return s.Delay }

func (s *FixedBackoff) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < s.MaxAttempts
}

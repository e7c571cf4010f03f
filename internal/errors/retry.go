package errors

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/logging"
	"go.uber.org/zap"
)

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// RetryConfig defines retry configuration for read-only operations.
// Mutating directory calls are never wrapped in a retry.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	RetryCondition  func(error) bool
}

// DefaultRetryConfig returns the default read retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		RetryCondition:  DefaultRetryCondition,
	}
}

// NoRetryConfig runs the function exactly once
func NoRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 1, RetryCondition: DefaultRetryCondition}
}

// DefaultRetryCondition retries AppErrors flagged retryable, such as 429,
// 5xx and interrupted transfers. Plain errors are never retried; callers
// classify transport failures into an AppError first.
func DefaultRetryCondition(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.IsRetryable()
	}
	return false
}

// RetryWithContext executes fn until it succeeds, returns a non-retryable
// error, runs out of attempts or ctx is done. The last error is returned
// unchanged so callers keep its classification.
func RetryWithContext(ctx context.Context, fn RetryableFunc, config RetryConfig) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.RetryCondition == nil {
		config.RetryCondition = DefaultRetryCondition
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return NewErrorWithCause(ErrInternalServer, "operation cancelled", ctx.Err())
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				logStructured(logging.INFO, "Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if !config.RetryCondition(err) || attempt == config.MaxAttempts {
			return err
		}

		delay := calculateDelay(attempt, config)
		logStructured(logging.WARN, "Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", config.MaxAttempts),
			zap.Duration("retry_delay", delay),
		)

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}

	return lastErr
}

// calculateDelay calculates the delay for the next retry attempt
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.ExponentialBase, float64(attempt-1))

	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}

	// ±25% jitter
	if config.Jitter && delay > 0 {
		jitterAmount := delay * 0.25
		delay = delay + (jitterAmount * (2*rand.Float64() - 1))
	}

	return time.Duration(delay)
}

func logStructured(level logging.LogLevel, message string, fields ...zap.Field) {
	if logger := logging.GetLogger(); logger != nil {
		logger.Structured(level, message, fields...)
	}
}

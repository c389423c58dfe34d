package util

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts (values below 1 mean a single attempt)
	InitialWait time.Duration // Initial wait duration (doubled on each retry)
	MaxWait     time.Duration // Maximum wait duration between retries
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// NoRetryConfig performs every operation exactly once
func NoRetryConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

func (c *RetryConfig) options(ctx context.Context, operationName string) []retry.Option {
	if c == nil {
		c = DefaultRetryConfig()
	}
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return []retry.Option{
		retry.Attempts(uint(attempts)),
		retry.Delay(c.InitialWait),
		retry.MaxDelay(c.MaxWait),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryableError),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			DebugLog("Retry: %s failed (attempt %d/%d): %v", operationName, n+1, attempts, err)
		}),
	}
}

// DatabaseRetryOptions returns retry options for transient SQLite lock errors
func DatabaseRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(5),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(1 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsDatabaseLocked),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// PollOptions returns options for bounded polling with a fixed interval.
// Every error is retried; the last one is returned once attempts run out.
func PollOptions(ctx context.Context, attempts int, interval time.Duration, onRetry func(n uint, err error)) []retry.Option {
	if attempts < 1 {
		attempts = 1
	}
	opts := []retry.Option{
		retry.Attempts(uint(attempts)),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
	if onRetry != nil {
		opts = append(opts, retry.OnRetry(onRetry))
	}
	return opts
}

// IsDatabaseLocked returns true if the error indicates a database lock
func IsDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsRetryableError checks if an error is worth retrying
// Returns true for transient network/filesystem errors
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pathError *os.PathError
	var linkError *os.LinkError
	var syscallError syscall.Errno

	if errors.As(err, &pathError) {
		err = pathError.Err
	}
	if errors.As(err, &linkError) {
		err = linkError.Err
	}

	if errors.As(err, &syscallError) {
		switch syscallError {
		case syscall.EAGAIN,
			syscall.ETIMEDOUT,
			syscall.ECONNRESET,
			syscall.ECONNABORTED,
			syscall.ECONNREFUSED,
			syscall.ENETDOWN,
			syscall.ENETUNREACH,
			syscall.EHOSTDOWN,
			syscall.EHOSTUNREACH,
			syscall.EIO:
			return true
		}
		return false
	}

	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"connection aborted",
		"broken pipe",
		"no route to host",
		"network is unreachable",
		"network is down",
		"host is down",
		"temporary failure",
		"resource temporarily unavailable",
		"i/o error",
		"too many open files",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
// Non-retryable errors are returned immediately.
func RetryWithBackoff[T any](ctx context.Context, cfg *RetryConfig, operation func() (T, error), operationName string) (T, error) {
	result, err := retry.DoWithData(operation, cfg.options(ctx, operationName)...)
	if err != nil && IsRetryableError(err) && cfg != nil && cfg.MaxAttempts > 1 {
		WarnLog("Retry: %s failed after %d attempts: %v", operationName, cfg.MaxAttempts, err)
	}
	return result, err
}

// Retry executes a function with retry logic (no return value)
func Retry(ctx context.Context, cfg *RetryConfig, operation func() error, operationName string) error {
	_, err := RetryWithBackoff(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, operation()
	}, operationName)
	return err
}

// RetryableOpen opens a file with retry logic
func RetryableOpen(ctx context.Context, path string, cfg *RetryConfig) (*os.File, error) {
	return RetryWithBackoff(ctx, cfg, func() (*os.File, error) {
		return os.Open(path)
	}, fmt.Sprintf("open(%s)", path))
}

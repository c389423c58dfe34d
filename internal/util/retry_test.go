package util

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "EAGAIN",
			err:      syscall.EAGAIN,
			expected: true,
		},
		{
			name:     "ETIMEDOUT",
			err:      syscall.ETIMEDOUT,
			expected: true,
		},
		{
			name:     "ECONNRESET",
			err:      syscall.ECONNRESET,
			expected: true,
		},
		{
			name:     "EIO",
			err:      syscall.EIO,
			expected: true,
		},
		{
			name:     "ENOENT (not retryable)",
			err:      syscall.ENOENT,
			expected: false,
		},
		{
			name:     "EPERM (not retryable)",
			err:      syscall.EPERM,
			expected: false,
		},
		{
			name:     "timeout in error message",
			err:      errors.New("connection timeout"),
			expected: true,
		},
		{
			name:     "connection reset in message",
			err:      errors.New("connection reset by peer"),
			expected: true,
		},
		{
			name:     "broken pipe in message",
			err:      errors.New("write: broken pipe"),
			expected: true,
		},
		{
			name:     "network unreachable",
			err:      errors.New("network is unreachable"),
			expected: true,
		},
		{
			name:     "generic error (not retryable)",
			err:      errors.New("invalid argument"),
			expected: false,
		},
		{
			name:     "PathError with ETIMEDOUT",
			err:      &os.PathError{Op: "open", Path: "/test", Err: syscall.ETIMEDOUT},
			expected: true,
		},
		{
			name:     "PathError with ENOENT (not retryable)",
			err:      &os.PathError{Op: "open", Path: "/test", Err: syscall.ENOENT},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, expected %v",
					tt.err, result, tt.expected)
			}
		})
	}
}

func testRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     100 * time.Millisecond,
	}
}

func TestRetryWithBackoff_ImmediateSuccess(t *testing.T) {
	attempts := 0

	result, err := RetryWithBackoff(context.Background(), testRetryConfig(), func() (int, error) {
		attempts++
		return 42, nil
	}, "test operation")

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != 42 {
		t.Errorf("Expected result 42, got: %d", result)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0

	result, err := RetryWithBackoff(context.Background(), testRetryConfig(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", syscall.ETIMEDOUT
		}
		return "success", nil
	}, "test operation")

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected result 'success', got: %s", result)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetryWithBackoff_FailureAfterMaxRetries(t *testing.T) {
	attempts := 0

	_, err := RetryWithBackoff(context.Background(), testRetryConfig(), func() (int, error) {
		attempts++
		return 0, syscall.ETIMEDOUT
	}, "test operation")

	if err == nil {
		t.Error("Expected error after max retries, got nil")
	}
	if !errors.Is(err, syscall.ETIMEDOUT) {
		t.Errorf("Expected last error to be ETIMEDOUT, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts (max), got: %d", attempts)
	}
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	attempts := 0

	_, err := RetryWithBackoff(context.Background(), testRetryConfig(), func() (int, error) {
		attempts++
		return 0, syscall.ENOENT
	}, "test operation")

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry for non-retryable), got: %d", attempts)
	}
}

func TestRetry_NoReturnValue(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), testRetryConfig(), func() error {
		attempts++
		if attempts < 2 {
			return syscall.ETIMEDOUT
		}
		return nil
	}, "test operation")

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestNoRetryConfig_SingleAttempt(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), NoRetryConfig(), func() error {
		attempts++
		return syscall.ETIMEDOUT
	}, "test operation")

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestIsDatabaseLocked(t *testing.T) {
	if IsDatabaseLocked(nil) {
		t.Error("nil error should not be a lock error")
	}
	if !IsDatabaseLocked(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("expected lock error to be detected")
	}
	if IsDatabaseLocked(errors.New("no such table: files")) {
		t.Error("unexpected lock detection")
	}
}

func TestPollOptions_FixedAttempts(t *testing.T) {
	attempts := 0

	err := retry.Do(func() error {
		attempts++
		return errors.New("still loading")
	}, PollOptions(context.Background(), 4, time.Millisecond, nil)...)

	if err == nil || err.Error() != "still loading" {
		t.Errorf("Expected last error to be returned, got: %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got: %d", attempts)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts=3, got: %d", cfg.MaxAttempts)
	}
	if cfg.InitialWait != 100*time.Millisecond {
		t.Errorf("Expected InitialWait=100ms, got: %v", cfg.InitialWait)
	}
	if cfg.MaxWait != 5*time.Second {
		t.Errorf("Expected MaxWait=5s, got: %v", cfg.MaxWait)
	}
}

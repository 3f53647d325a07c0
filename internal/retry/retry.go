// Package retry runs remote operations with exponential backoff.
package retry

import (
	"context"
	stderrors "errors"
	"math/rand"
	"strconv"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/utils"
	"google.golang.org/api/googleapi"
)

// Policy bounds the retries of one operation.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy returns the stock transfer policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: utils.DefaultMaxRetries,
		BaseDelay:  time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(utils.MaxRetryDelayMs) * time.Millisecond,
	}
}

// Do calls fn until it succeeds, fails with an error that is not a
// retryable network error, or the policy is exhausted. Context
// cancellation stops waiting immediately.
func Do[T any](ctx context.Context, p Policy, logger logging.Logger, op string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	start := time.Now()
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result, lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				logger.Debug("Operation succeeded after retry",
					logging.F("op", op),
					logging.F("attempts", attempt+1),
					logging.F("duration_ms", time.Since(start).Milliseconds()),
				)
			}
			return result, nil
		}

		if !wserrors.IsRetryable(lastErr) {
			return result, lastErr
		}

		if attempt < p.MaxRetries {
			delay := Backoff(p, attempt, lastErr)
			logger.Warn("Operation failed (retryable)",
				logging.F("op", op),
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	logger.Error("Operation failed after max retries",
		logging.F("op", op),
		logging.F("attempts", p.MaxRetries+1),
		logging.F("error", lastErr.Error()),
	)
	return result, lastErr
}

// Backoff returns the wait before retry number attempt+1: a server
// Retry-After when present, otherwise base*2^attempt with ±25% jitter,
// capped at MaxDelay.
func Backoff(p Policy, attempt int, err error) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(utils.MaxRetryDelayMs) * time.Millisecond
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) && apiErr.Header != nil {
		if seconds, convErr := strconv.Atoi(apiErr.Header.Get("Retry-After")); convErr == nil && seconds >= 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > maxDelay {
				return maxDelay
			}
			return delay
		}
	}

	delay := p.BaseDelay
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if jitterRange := delay / 4; jitterRange > 0 {
		delay += time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
	}
	if delay < 0 {
		delay = p.BaseDelay
	}
	return delay
}

package errs

import (
	"math/rand"
	"time"
)

// RetryController implements exponential backoff with jitter, used by the
// GtsSource oracle client before it surfaces ErrOracleUnavailable.
type RetryController struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	maxRetries   int
}

// NewRetryController creates a retry controller with conservative defaults
// suited to a single-RPC timestamp fetch: a handful of fast retries, not a
// long backoff campaign, since the caller is a backend blocked on getting
// a start timestamp.
func NewRetryController() *RetryController {
	return &RetryController{
		initialDelay: 5 * time.Millisecond,
		maxDelay:     200 * time.Millisecond,
		maxRetries:   3,
	}
}

// Retry runs fn, retrying on transient/network classifications up to
// maxRetries times with exponential backoff and jitter. Permanent failures
// and retry exhaustion both return the last error unwrapped — it is the
// caller's job (internal/gts) to wrap that as ErrOracleUnavailable.
func (rc *RetryController) Retry(fn func() error, classifier *Classifier) error {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		category := classifier.Classify(err)

		if !classifier.ShouldRetry(category) {
			return err
		}
		if attempt >= rc.maxRetries {
			return err
		}

		time.Sleep(rc.calculateDelay(attempt))
	}

	return lastErr
}

func (rc *RetryController) calculateDelay(attempt int) time.Duration {
	delay := rc.initialDelay * time.Duration(1<<uint(attempt))
	if delay > rc.maxDelay {
		delay = rc.maxDelay
	}

	jitter := time.Duration(float64(delay) * 0.25 * (rand.Float64()*2 - 1))
	delay += jitter
	if delay < 0 {
		delay = rc.initialDelay
	}

	return delay
}

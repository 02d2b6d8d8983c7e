package store

import (
	"context"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"

	joberrors "github.com/irjudson/lumina/internal/jobs/errors"
)

// transientPattern matches the error substrings the controller's retry
// wrapper treats as transient, per spec §4.6. Generalized from the teacher's
// SQLite-specific "database is locked"/"SQLITE_BUSY" detection
// (internal/storage/sqlite/job_storage.go, internal/jobs/manager.go) to the
// Postgres-flavoured pattern list named by the spec.
var transientPattern = regexp.MustCompile(`(?i)connection|timeout|temporarily unavailable|deadlock|lock`)

// IsTransient reports whether err's message matches one of the transient
// store error patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return transientPattern.MatchString(err.Error())
}

// retryWithBackoff runs op, retrying up to maxRetries times with linearly
// growing back-off (baseDelay * attempt) when the error is transient. Non-matching
// errors surface immediately. Respects ctx cancellation between attempts.
func retryWithBackoff(ctx context.Context, logger arbor.ILogger, maxRetries int, baseDelay time.Duration, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt > maxRetries {
			break
		}

		delay := baseDelay * time.Duration(attempt)
		logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("transient store error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return joberrors.ErrTransientStore
}

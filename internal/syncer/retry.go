package syncer

import (
	"context"
	"errors"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

// retry runs fn with exponential backoff while it fails with common.ErrSync.
// Corruption, authorization and context errors end it at once.
func (e *Engine) retry(ctx context.Context, fn func(context.Context) error) error {
	if e.backend == nil {
		return errNoBackend
	}
	b := retry.NewExponential(e.opts.BaseDelay)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(e.opts.MaxAttempts-1), b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && errors.Is(err, common.ErrSync) {
			e.logger.Warn(ctx, "transient sync failure", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

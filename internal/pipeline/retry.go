package pipeline

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// withRetry runs op with exponential backoff, retrying only errors the
// transient classifier accepts, up to the configured attempt count.
// It returns the number of attempts made alongside the final error.
func (p *Pipeline) withRetry(ctx context.Context, transient func(error) bool, op func() error) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opts.InitialBackoff
	bo.MaxInterval = p.opts.MaxBackoff
	bo.RandomizationFactor = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.opts.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	return attempts, err
}

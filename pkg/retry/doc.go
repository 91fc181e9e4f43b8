// Package retry provides exponential backoff retries for upstream calls.
//
// Do runs a function until it succeeds, the attempt budget is spent, the context
// ends, or the error is not retryable. An error is not retryable when it was wrapped
// with NonRetryable or when Config.Retryable rejects it. The cache loader plugs
// errors.IsTransient into Config.Retryable so only transient upstream failures are
// retried:
//
//	cfg := retry.DefaultConfig()
//	cfg.Retryable = errors.IsTransient
//	eval, err := retry.DoWithResult(ctx, cfg, func() (*Evaluation, error) {
//	    return client.Fetch(ctx, fen)
//	})
//
// Delays grow by Multiplier from InitialDelay up to MaxDelay. With AddJitter, up to
// 25% random jitter is added to each sleep so callers that failed together do not
// retry together.
package retry

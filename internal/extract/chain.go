package extract

import (
	"context"
	"time"

	"vidgrab/internal/logging"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Chain runs an ordered list of metadata strategies until one succeeds.
// Successful results are cached briefly so a download started right after a
// metadata request does not hit the source twice.
type Chain struct {
	strategies []Strategy
	timeout    time.Duration // per strategy
	jitterMin  time.Duration
	jitterMax  time.Duration
	cache      *expirable.LRU[string, Metadata]
}

// ChainOptions configures a Chain. Zero values fall back to defaults.
type ChainOptions struct {
	Strategies []Strategy
	Timeout    time.Duration // per-strategy limit, default 30s
	JitterMin  time.Duration // default 1s
	JitterMax  time.Duration // default 3s; set negative to disable jitter
	CacheSize  int           // default 128 entries
	CacheTTL   time.Duration // default 5m
}

// NewChain creates a Chain with the given options.
func NewChain(opts ChainOptions) *Chain {
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jmin, jmax := opts.JitterMin, opts.JitterMax
	if jmax == 0 {
		jmin, jmax = time.Second, 3*time.Second
	}
	if jmax < 0 {
		jmin, jmax = 0, 0
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 128
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Chain{
		strategies: strategies,
		timeout:    timeout,
		jitterMin:  jmin,
		jitterMax:  jmax,
		cache:      expirable.NewLRU[string, Metadata](size, nil, ttl),
	}
}

// Fetch tries every strategy in order and returns the first usable metadata.
// On exhaustion it returns an *ExtractionError carrying one cause per
// strategy, in declared order. Safe for concurrent use and safe to retry.
func (c *Chain) Fetch(ctx context.Context, mediaURL string) (Metadata, error) {
	if md, ok := c.cache.Get(mediaURL); ok {
		return md, nil
	}

	failures := make([]StrategyFailure, 0, len(c.strategies))
	for _, s := range c.strategies {
		if err := jitter(ctx, c.jitterMin, c.jitterMax); err != nil {
			return Metadata{}, err
		}
		ua := RandomUserAgent()

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		md, err := s.Attempt(attemptCtx, mediaURL, ua)
		cancel()

		logging.LogExtractionAttempt(s.Name(), mediaURL, err)
		if err == nil {
			c.cache.Add(mediaURL, md)
			return md, nil
		}
		if ctx.Err() != nil {
			// The caller's context is gone; stop burning attempts.
			return Metadata{}, ctx.Err()
		}
		failures = append(failures, StrategyFailure{Strategy: s.Name(), Err: err})
	}
	return Metadata{}, &ExtractionError{Causes: failures}
}

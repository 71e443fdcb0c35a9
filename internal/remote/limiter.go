package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig configures the local request budget applied before a call
// ever reaches the remote store, so this core backs off on its own rather
// than relying solely on the remote's rate_limited responses (§4.7).
type LimiterConfig struct {
	RequestsPerMinute int
	Burst             int
}

// DefaultLimiterConfig matches the conservative default used across this
// codebase's other outbound HTTP clients.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{RequestsPerMinute: 120, Burst: 20}
}

// RateLimited wraps a Store with a local token-bucket limiter, so a burst
// of local edits cannot itself trip the remote's quota before a single
// request goes out.
type RateLimited struct {
	next    Store
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRateLimited builds a rate-limited decorator around next. A nil logger
// defaults to slog.Default().
func NewRateLimited(next Store, cfg LimiterConfig, logger *slog.Logger) *RateLimited {
	if cfg.RequestsPerMinute <= 0 {
		cfg = DefaultLimiterConfig()
	}
	perSecond := float64(cfg.RequestsPerMinute) / 60.0
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.Burst),
		logger:  logger,
	}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return newError(KindNetworkUnavailable, fmt.Errorf("local rate limiter: %w", err))
	}
	return nil
}

func (r *RateLimited) SaveZone(ctx context.Context, zoneID string, records []RemoteRecord) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.SaveZone(ctx, zoneID, records)
}

func (r *RateLimited) Modify(ctx context.Context, zoneID string, saving []RemoteRecord, deleting []string, policy ModifyPolicy, atomic bool) (map[string]RecordResult, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Modify(ctx, zoneID, saving, deleting, policy, atomic)
}

func (r *RateLimited) FetchZoneChanges(ctx context.Context, zoneID, cursor string, limit int) (ChangeSet, error) {
	if err := r.wait(ctx); err != nil {
		return ChangeSet{}, err
	}
	cs, err := r.next.FetchZoneChanges(ctx, zoneID, cursor, limit)
	if err != nil {
		if re, ok := AsError(err); ok && re.Kind == KindRateLimited && re.RetryAfter > 0 {
			r.logger.Warn("remote rate limited fetch, narrowing local budget",
				"zone_id", zoneID, "retry_after", re.RetryAfter)
			r.limiter.SetLimit(rate.Every(re.RetryAfter))
		}
		return ChangeSet{}, err
	}
	return cs, nil
}

func (r *RateLimited) Subscribe(ctx context.Context, zoneID string) (<-chan ChangeSet, error) {
	return r.next.Subscribe(ctx, zoneID)
}

var _ Store = (*RateLimited)(nil)

// backoffAfter computes the next retry delay for a retryable remote error
// using the exponential schedule from §5 (Backoff state), honoring a
// server-advised RetryAfter when the remote supplied one.
func backoffAfter(err error, base, maxDelay time.Duration, attempt int) time.Duration {
	if re, ok := AsError(err); ok && re.RetryAfter > 0 {
		return re.RetryAfter
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

package syncengine

import (
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/config"
)

// Config holds the L5 orchestrator's tunables (§5): push chunking, pull
// page size, and the exponential backoff schedule applied after a
// retryable failure.
type Config struct {
	ZoneID        string
	PushChunkSize int
	PullPageSize  int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxRetries    int
}

// DefaultConfig matches spec.md's literal defaults: 400-record push
// chunks, a generous pull page, and a 1s-to-5m exponential backoff.
func DefaultConfig(zoneID string) Config {
	return Config{
		ZoneID:        zoneID,
		PushChunkSize: 400,
		PullPageSize:  400,
		BackoffBase:   time.Second,
		BackoffMax:    5 * time.Minute,
		MaxRetries:    5,
	}
}

// FromGlobal projects the shared config.Config (the one source of truth
// for every layer's tunables, §6) down to the fields this engine needs.
func FromGlobal(g config.Config) Config {
	return Config{
		ZoneID:        g.ZoneID,
		PushChunkSize: g.RecordsPerChunk,
		PullPageSize:  g.RecordsPerChunk,
		BackoffBase:   g.BaseRetryDelay,
		BackoffMax:    g.MaxRetryDelay,
		MaxRetries:    g.MaxRetries,
	}
}

// BackoffFor computes the delay before attempt n (1-indexed) per spec's
// d = min(base * 2^(n-1), max_d).
func (c Config) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

// Package cache provides the optional forecast result cache. Records
// are keyed by symbol, as-of date and config digest, so any config
// change misses cleanly instead of serving a stale record.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/helioquant/horizon/internal/domain"
)

// Cache stores completed forecast records. Implementations are safe
// for concurrent use. Set is first-writer-wins: concurrent duplicate
// requests race benignly and later writers leave the stored record
// alone.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.ForecastRecord, bool, error)
	Set(ctx context.Context, key string, rec *domain.ForecastRecord, ttl time.Duration) error
}

// Key builds the canonical cache key for one request. The account
// parameters are part of the key: the position plan inside a record
// is account-dependent, so records must never be shared across
// accounts.
func Key(symbol string, asOf time.Time, configHash string, acct domain.AccountRisk) string {
	return fmt.Sprintf("horizon:forecast:%s:%s:%s:%g:%g:%g:%g",
		symbol, asOf.Format("2006-01-02"), configHash,
		acct.Capital, acct.MaxRiskPerTrade, acct.MaxPositionFraction, acct.MinRiskReward)
}

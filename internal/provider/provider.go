// Package provider defines where input series come from. The core
// never fetches market data itself; a DataProvider hands it aligned
// bar, macro and sentiment series for one symbol.
package provider

import (
	"context"
	"time"

	"github.com/helioquant/horizon/internal/domain"
)

// DataProvider supplies the input series for one symbol up to and
// including the as-of date. Missing optional series (macro,
// sentiment) are returned as nil slices, never zero-filled.
type DataProvider interface {
	Series(ctx context.Context, symbol string, asOf time.Time) (domain.SeriesSet, error)
}

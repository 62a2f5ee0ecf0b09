package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/helioquant/horizon/internal/domain"
)

// BatchItem is the outcome for one symbol of a batch run. Err is set
// when that symbol's request failed; other symbols are unaffected.
type BatchItem struct {
	Symbol string
	Record *domain.ForecastRecord
	Err    error
}

// RunBatch forecasts every symbol with a bounded worker pool and a
// global request rate limit. Results come back in input order.
// Cancelling ctx stops the batch; unstarted symbols report the
// context error.
func (r *Runner) RunBatch(ctx context.Context, symbols []string, asOf time.Time, account domain.AccountRisk, workers int, rps float64) []BatchItem {
	if workers <= 0 {
		workers = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	if rps <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	items := make([]BatchItem, len(symbols))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				symbol := symbols[i]
				if err := limiter.Wait(ctx); err != nil {
					items[i] = BatchItem{Symbol: symbol, Err: err}
					continue
				}
				rec, err := r.Run(ctx, Request{Symbol: symbol, AsOf: asOf, Account: account})
				items[i] = BatchItem{Symbol: symbol, Record: rec, Err: err}
			}
		}()
	}

	for i := range symbols {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return items
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/helioquant/horizon/internal/domain"
)

// File serves series from per-symbol JSON files in a directory,
// the format the batch CLI consumes. A file named AAPL.json holds
// the full SeriesSet for AAPL; Series truncates it to the as-of
// date so backtests never see future bars.
type File struct {
	dir string
}

// NewFile creates a provider rooted at dir.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// Series loads and truncates the stored series for symbol.
func (f *File) Series(_ context.Context, symbol string, asOf time.Time) (domain.SeriesSet, error) {
	path := filepath.Join(f.dir, sanitizeSymbol(symbol)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SeriesSet{}, fmt.Errorf("read series for %s: %w", symbol, err)
	}

	var set domain.SeriesSet
	if err := json.Unmarshal(data, &set); err != nil {
		return domain.SeriesSet{}, fmt.Errorf("decode series for %s: %w", symbol, err)
	}
	if set.Symbol == "" {
		set.Symbol = symbol
	}

	return truncate(set, asOf), nil
}

// truncate drops everything after the end of the as-of day.
func truncate(set domain.SeriesSet, asOf time.Time) domain.SeriesSet {
	cutoff := asOf.AddDate(0, 0, 1).Truncate(24 * time.Hour)

	bars := set.Bars[:0:0]
	for _, b := range set.Bars {
		if b.Timestamp.Before(cutoff) {
			bars = append(bars, b)
		}
	}
	set.Bars = bars

	if set.Macro != nil {
		macro := set.Macro[:0:0]
		for _, m := range set.Macro {
			if m.Timestamp.Before(cutoff) {
				macro = append(macro, m)
			}
		}
		set.Macro = macro
	}

	if set.Sentiment != nil {
		sentiment := set.Sentiment[:0:0]
		for _, s := range set.Sentiment {
			if s.Timestamp.Before(cutoff) {
				sentiment = append(sentiment, s)
			}
		}
		set.Sentiment = sentiment
	}

	return set
}

// sanitizeSymbol maps a ticker to a safe file stem. Exchange-suffixed
// symbols like BMW.DE keep the suffix; path separators are rejected
// by substitution.
func sanitizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	return s
}

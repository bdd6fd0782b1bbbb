// Package scraper defines the exchange scraper interface and the registry
// through which scrapers are created by name.
package scraper

import (
	"context"
	"time"

	"github.com/egostrategy/datahub/pkg/models"
)

// Scraper fetches stock data from one exchange. Implementations issue
// rate-limited HTTP requests and translate exchange responses into model
// values; they never touch the persisted dataset.
type Scraper interface {
	// ExchangeCode returns the venue code this scraper serves ("SSE", "SZSE").
	ExchangeCode() string

	// FetchStockList returns a snapshot of all stocks traded on the given
	// date, each carrying at most the single daily record observed for
	// that date.
	FetchStockList(ctx context.Context, date time.Time) ([]models.Stock, error)

	// FetchStockHistory returns the full daily history for one symbol,
	// most recent first.
	FetchStockHistory(ctx context.Context, symbol string) ([]models.DailyRecord, error)
}

// Package service implements the data service: it drives the scrape
// workflow and reconciles observed stock batches into the persisted
// dataset.
package service

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/egostrategy/datahub/pkg/config"
	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/logger"
	"github.com/egostrategy/datahub/pkg/metrics"
	"github.com/egostrategy/datahub/pkg/models"
	"github.com/egostrategy/datahub/pkg/provider"
	"github.com/egostrategy/datahub/pkg/scraper"
)

// DataService coordinates fetching, merging, and persisting stock data.
// One service instance processes one batch at a time against one dataset
// snapshot; merges are sequential and in-memory, with the only blocking
// boundary being the scraper calls.
type DataService struct {
	cfg      *config.Config
	scrapers []scraper.Scraper
	byCode   map[string]scraper.Scraper
	dataPath string
	logger   *zap.Logger
}

// New creates a data service over the given scrapers.
func New(cfg *config.Config, scrapers []scraper.Scraper) *DataService {
	byCode := make(map[string]scraper.Scraper, len(scrapers))
	for _, sc := range scrapers {
		byCode[sc.ExchangeCode()] = sc
	}
	return &DataService{
		cfg:      cfg,
		scrapers: scrapers,
		byCode:   byCode,
		dataPath: filepath.Join(cfg.DataDir, provider.DataFileName),
		logger:   logger.With(zap.String("component", "data_service")),
	}
}

// DataPath returns the path of the persisted dataset file.
func (s *DataService) DataPath() string {
	return s.dataPath
}

// LoadProvider loads the current dataset, returning an empty provider
// when no file has been written yet.
func (s *DataService) LoadProvider() (*provider.Provider, error) {
	return provider.LoadFromFile(s.dataPath)
}

// ProcessDailyStocks scrapes the stock lists of all configured exchanges
// for the given date and merges them into the dataset.
func (s *DataService) ProcessDailyStocks(ctx context.Context, date time.Time) error {
	s.logger.Info("processing daily stocks", zap.Int32("date", models.DateToInt(date)))

	observed, err := s.FetchDailyData(ctx, date)
	if err != nil {
		return err
	}
	if len(observed) == 0 {
		s.logger.Warn("no stocks found for date", zap.Int32("date", models.DateToInt(date)))
		return nil
	}

	if err := s.processStocks(ctx, observed); err != nil {
		return err
	}

	s.logger.Info("processed daily stocks",
		zap.Int32("date", models.DateToInt(date)),
		zap.Int("stocks", len(observed)))
	return nil
}

// ProcessSingleStock locates one symbol in the scraped lists and merges
// just that stock.
func (s *DataService) ProcessSingleStock(ctx context.Context, symbol string, date time.Time) error {
	s.logger.Info("processing single stock",
		zap.String("symbol", symbol),
		zap.Int32("date", models.DateToInt(date)))

	observed, err := s.FetchDailyData(ctx, date)
	if err != nil {
		return err
	}

	for i := range observed {
		if observed[i].Symbol == symbol {
			return s.processStocks(ctx, observed[i:i+1])
		}
	}

	return errors.Newf(errors.ErrorTypeNotFound, "stock %s not found in any exchange", symbol).
		WithDetail("date", models.DateToInt(date))
}

// FetchDailyData scrapes the stock lists of all exchanges for one date.
// In debug mode each exchange's list is truncated to the configured
// stock limit.
func (s *DataService) FetchDailyData(ctx context.Context, date time.Time) ([]models.Stock, error) {
	var all []models.Stock

	for _, sc := range s.scrapers {
		s.logger.Info("scraping exchange", zap.String("exchange", sc.ExchangeCode()))
		stocks, err := sc.FetchStockList(ctx, date)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFetch, "failed to fetch stock list").
				WithDetail("exchange", sc.ExchangeCode())
		}

		if s.cfg.DebugMode && len(stocks) > s.cfg.DebugStockLimit {
			s.logger.Info("debug mode: truncating stock list",
				zap.String("exchange", sc.ExchangeCode()),
				zap.Int("limit", s.cfg.DebugStockLimit),
				zap.Int("total", len(stocks)))
			stocks = stocks[:s.cfg.DebugStockLimit]
		}

		s.logger.Info("found stocks",
			zap.String("exchange", sc.ExchangeCode()),
			zap.Int("count", len(stocks)))
		all = append(all, stocks...)
	}

	return all, nil
}

// processStocks merges observed stocks into the persisted dataset and
// saves the result atomically.
func (s *DataService) processStocks(ctx context.Context, observed []models.Stock) error {
	p, err := s.LoadProvider()
	if err != nil {
		return err
	}

	start := time.Now()
	merged := s.mergeBatch(ctx, p.AllStocks(), observed)
	metrics.MergeDuration.Observe(time.Since(start).Seconds())

	return provider.NewWithData(merged).SaveToFile(s.dataPath)
}

// mergeBatch folds an observed batch into the existing dataset and
// returns the next dataset. For each observed stock, keyed by
// exchange and symbol, it either replaces the history wholesale (new
// key, empty existing history, or forced) with a freshly fetched one, or
// splices the single observed record in. The display name is always
// taken from the observation. Stocks absent from the batch are left
// untouched.
func (s *DataService) mergeBatch(ctx context.Context, existing, observed []models.Stock) []models.Stock {
	next := make([]models.Stock, len(existing))
	copy(next, existing)

	positions := make(map[string]int, len(next))
	for i := range next {
		positions[next[i].Key()] = i
	}

	for i := range observed {
		obs := &observed[i]
		idx, exists := positions[obs.Key()]

		needFullHistory := !exists || s.cfg.ForceFullHistory || len(next[idx].Daily) == 0

		var updated models.Stock
		if exists {
			updated = next[idx].Clone()
			updated.Name = obs.Name // always the latest observed name
		} else {
			updated = obs.Clone()
		}

		if needFullHistory {
			s.applyFullHistory(ctx, &updated)
		} else if len(obs.Daily) > 0 {
			s.applyIncremental(&updated, obs.Daily[0])
		}

		if exists {
			next[idx] = updated
		} else {
			positions[updated.Key()] = len(next)
			next = append(next, updated)
		}
	}

	return next
}

// applyFullHistory replaces the stock's history with a freshly fetched
// complete one. A fetch failure keeps the stock's current state; one
// instrument's outage must not block the rest of the batch.
func (s *DataService) applyFullHistory(ctx context.Context, stock *models.Stock) {
	sc, ok := s.byCode[stock.Exchange]
	if !ok {
		s.logger.Warn("no scraper for exchange, keeping current history",
			zap.String("exchange", stock.Exchange),
			zap.String("symbol", stock.Symbol))
		return
	}

	s.logger.Info("fetching full history", zap.String("symbol", stock.Symbol))
	daily, err := sc.FetchStockHistory(ctx, stock.Symbol)
	if err != nil {
		s.logger.Warn("failed to fetch history, keeping current state",
			zap.String("exchange", stock.Exchange),
			zap.String("symbol", stock.Symbol),
			zap.Error(err))
		metrics.FetchFailures.WithLabelValues(stock.Exchange).Inc()
		return
	}
	if len(daily) == 0 {
		return
	}

	// scrapers return history pre-sorted, but re-sort and dedupe
	// defensively before applying the retention bound
	sortDaily(daily)
	daily = dedupeDaily(daily)
	stock.Daily = s.limitHistory(daily, stock.Symbol)
	metrics.RecordsMerged.WithLabelValues(stock.Exchange, "full_replace").Add(float64(len(stock.Daily)))
}

// applyIncremental splices one observed record into the history. An
// already-present date is a no-op, so re-observing the same day twice is
// idempotent.
func (s *DataService) applyIncremental(stock *models.Stock, rec models.DailyRecord) {
	for _, d := range stock.Daily {
		if d.Date == rec.Date {
			return
		}
	}

	stock.Daily = append(stock.Daily, rec)
	sortDaily(stock.Daily)
	stock.Daily = s.limitHistory(stock.Daily, stock.Symbol)
	metrics.RecordsMerged.WithLabelValues(stock.Exchange, "incremental").Inc()
}

// limitHistory truncates a descending history to the configured bound,
// dropping the oldest records.
func (s *DataService) limitHistory(daily []models.DailyRecord, symbol string) []models.DailyRecord {
	if len(daily) <= s.cfg.MaxHistory {
		return daily
	}
	s.logger.Info("limiting history records",
		zap.String("symbol", symbol),
		zap.Int("records", len(daily)),
		zap.Int("max", s.cfg.MaxHistory))
	return daily[:s.cfg.MaxHistory]
}

// sortDaily sorts records most-recent-first. The sort is stable so the
// earlier of two same-date records survives deduplication.
func sortDaily(daily []models.DailyRecord) {
	sort.SliceStable(daily, func(i, j int) bool { return daily[i].Date > daily[j].Date })
}

// dedupeDaily removes duplicate dates from a descending history, keeping
// the first occurrence.
func dedupeDaily(daily []models.DailyRecord) []models.DailyRecord {
	out := daily[:0]
	for _, d := range daily {
		if len(out) > 0 && out[len(out)-1].Date == d.Date {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Package provider owns the in-memory stock dataset and its persistence
// lifecycle: loading from and atomically saving to the single Arrow file,
// plus derived lookup indices over the current snapshot.
package provider

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/egostrategy/datahub/pkg/columnar"
	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/logger"
	"github.com/egostrategy/datahub/pkg/metrics"
	"github.com/egostrategy/datahub/pkg/models"
)

// DataFileName is the name of the persisted dataset file inside the
// configured data directory.
const DataFileName = "stock.arrow"

// Provider holds one dataset snapshot together with lookup indices over
// it. The indices store bare positions into the stocks slice and are
// rebuilt wholesale after every mutation of the slice, never patched; a
// Provider is therefore immutable after construction and safe for
// concurrent readers.
type Provider struct {
	stocks        []models.Stock
	symbolIndex   map[string]int
	exchangeIndex map[string][]int
	logger        *zap.Logger
}

// NewWithData wraps an already-assembled dataset without touching disk.
func NewWithData(stocks []models.Stock) *Provider {
	p := &Provider{
		stocks: stocks,
		logger: logger.With(zap.String("component", "provider")),
	}
	p.rebuildIndices()
	return p
}

// LoadFromFile loads the dataset from path. A missing file is not an
// error: it means no history has been collected yet, and an empty
// provider is returned. A file that exists but fails to decode is fatal
// and the format error is propagated.
func LoadFromFile(path string) (*Provider, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if os.IsNotExist(err) {
			return NewWithData(nil), nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read dataset file").
			WithDetail("path", path)
	}

	stocks, err := columnar.Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to decode dataset file").
			WithDetail("path", path)
	}

	return NewWithData(stocks), nil
}

// SaveToFile encodes the dataset and writes it to path as a single atomic
// replace: the bytes go to a temporary file in the destination directory,
// which is then renamed into place, so a concurrent reader sees either
// the old complete file or the new complete file, never a partial one.
// Concurrent writers are not serialized; callers must not run two saves
// against the same path at once.
func (p *Provider) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create data directory").
			WithDetail("dir", dir)
	}

	data, err := columnar.Encode(p.stocks)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".stock-*.arrow")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temp file").
			WithDetail("dir", dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write temp file").
			WithDetail("path", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync temp file").
			WithDetail("path", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close temp file").
			WithDetail("path", tmpPath)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace dataset file").
			WithDetail("path", path)
	}

	metrics.DatasetStocks.Set(float64(len(p.stocks)))
	p.logger.Info("dataset saved",
		zap.String("path", path),
		zap.Int("stocks", len(p.stocks)))
	return nil
}

// AllStocks returns the current dataset snapshot in persisted order.
// The returned slice must not be mutated.
func (p *Provider) AllStocks() []models.Stock {
	return p.stocks
}

// Len returns the number of stocks in the dataset.
func (p *Provider) Len() int {
	return len(p.stocks)
}

// StockBySymbol returns the stock with the given symbol, if present.
func (p *Provider) StockBySymbol(symbol string) (*models.Stock, bool) {
	idx, ok := p.symbolIndex[symbol]
	if !ok {
		return nil, false
	}
	return &p.stocks[idx], true
}

// StocksByExchange returns all stocks listed on the given exchange, in
// dataset order.
func (p *Provider) StocksByExchange(exchange string) []*models.Stock {
	positions := p.exchangeIndex[exchange]
	out := make([]*models.Stock, 0, len(positions))
	for _, idx := range positions {
		out = append(out, &p.stocks[idx])
	}
	return out
}

// LatestTradingDate returns the most recent record date across the whole
// dataset, or 0 when no stock carries history.
func (p *Provider) LatestTradingDate() int32 {
	var latest int32
	for i := range p.stocks {
		if d := p.stocks[i].LatestDate(); d > latest {
			latest = d
		}
	}
	return latest
}

// rebuildIndices recomputes both indices from scratch. A duplicate symbol
// within one dataset keeps the last-seen position, shadowing earlier
// ones; this matches the persisted files already in circulation, so it is
// logged rather than rejected.
func (p *Provider) rebuildIndices() {
	p.symbolIndex = make(map[string]int, len(p.stocks))
	p.exchangeIndex = make(map[string][]int)

	for i := range p.stocks {
		s := &p.stocks[i]
		if prev, ok := p.symbolIndex[s.Symbol]; ok {
			p.logger.Warn("duplicate symbol in dataset, later entry shadows earlier",
				zap.String("symbol", s.Symbol),
				zap.Int("previous_position", prev),
				zap.Int("position", i))
		}
		p.symbolIndex[s.Symbol] = i
		p.exchangeIndex[s.Exchange] = append(p.exchangeIndex[s.Exchange], i)
	}
}

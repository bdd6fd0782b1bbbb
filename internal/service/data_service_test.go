package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egostrategy/datahub/pkg/config"
	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/models"
	"github.com/egostrategy/datahub/pkg/scraper"
)

type fakeScraper struct {
	code         string
	list         []models.Stock
	listErr      error
	history      map[string][]models.DailyRecord
	historyErr   map[string]error
	historyCalls map[string]int
}

func newFakeScraper(code string) *fakeScraper {
	return &fakeScraper{
		code:         code,
		history:      make(map[string][]models.DailyRecord),
		historyErr:   make(map[string]error),
		historyCalls: make(map[string]int),
	}
}

func (f *fakeScraper) ExchangeCode() string { return f.code }

func (f *fakeScraper) FetchStockList(ctx context.Context, date time.Time) ([]models.Stock, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

func (f *fakeScraper) FetchStockHistory(ctx context.Context, symbol string) ([]models.DailyRecord, error) {
	f.historyCalls[symbol]++
	if err, ok := f.historyErr[symbol]; ok {
		return nil, err
	}
	return f.history[symbol], nil
}

func rec(date int32) models.DailyRecord {
	return models.DailyRecord{Date: date, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000, Amount: 10500}
}

func stock(exchange, symbol, name string, daily ...models.DailyRecord) models.Stock {
	return models.Stock{Exchange: exchange, Symbol: symbol, Name: name, Daily: daily}
}

func newTestService(t *testing.T, cfg *config.Config, scrapers ...scraper.Scraper) *DataService {
	t.Helper()
	if cfg.DataDir == "data" {
		cfg.DataDir = t.TempDir()
	}
	return New(cfg, scrapers)
}

func dates(daily []models.DailyRecord) []int32 {
	out := make([]int32, len(daily))
	for i, d := range daily {
		out[i] = d.Date
	}
	return out
}

func TestMergeNewKeyFetchesFullHistory(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.history["600000"] = []models.DailyRecord{rec(20240104), rec(20240103), rec(20240102)}
	svc := newTestService(t, config.New(), sse)

	merged := svc.mergeBatch(context.Background(), nil,
		[]models.Stock{stock("SSE", "600000", "X", rec(20240104))})

	require.Len(t, merged, 1)
	assert.Equal(t, "X", merged[0].Name)
	assert.Equal(t, []int32{20240104, 20240103, 20240102}, dates(merged[0].Daily))
	assert.Equal(t, 1, sse.historyCalls["600000"])
}

func TestMergeIncrementalInsertIsIdempotent(t *testing.T) {
	sse := newFakeScraper("SSE")
	svc := newTestService(t, config.New(), sse)

	existing := []models.Stock{stock("SSE", "600000", "X", rec(20240103), rec(20240102))}
	observed := []models.Stock{stock("SSE", "600000", "X", rec(20240104))}

	merged := svc.mergeBatch(context.Background(), existing, observed)
	require.Len(t, merged, 1)
	assert.Equal(t, []int32{20240104, 20240103, 20240102}, dates(merged[0].Daily))

	// re-observing the same day must not duplicate the record
	again := svc.mergeBatch(context.Background(), merged, observed)
	require.Len(t, again, 1)
	assert.Equal(t, []int32{20240104, 20240103, 20240102}, dates(again[0].Daily))

	// incremental path never fetches full history
	assert.Equal(t, 0, sse.historyCalls["600000"])
}

func TestMergeIncrementalRespectsMaxHistory(t *testing.T) {
	cfg := config.New()
	cfg.MaxHistory = 2
	svc := newTestService(t, cfg, newFakeScraper("SSE"))

	existing := []models.Stock{stock("SSE", "600000", "X", rec(20240104), rec(20240103), rec(20240102))}
	observed := []models.Stock{stock("SSE", "600000", "X", rec(20240105))}

	merged := svc.mergeBatch(context.Background(), existing, observed)
	require.Len(t, merged, 1)
	assert.Equal(t, []int32{20240105, 20240104}, dates(merged[0].Daily))
}

func TestMergeForceFullReplacesHistory(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.history["600000"] = []models.DailyRecord{rec(20240110), rec(20240109)}
	cfg := config.New()
	cfg.ForceFullHistory = true
	svc := newTestService(t, cfg, sse)

	existing := []models.Stock{stock("SSE", "600000", "Old", rec(20240103), rec(20240102))}
	observed := []models.Stock{stock("SSE", "600000", "New", rec(20240110))}

	merged := svc.mergeBatch(context.Background(), existing, observed)
	require.Len(t, merged, 1)
	assert.Equal(t, "New", merged[0].Name)
	assert.Equal(t, []int32{20240110, 20240109}, dates(merged[0].Daily))
}

func TestMergeEmptyHistoryTriggersFullFetch(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.history["600000"] = []models.DailyRecord{rec(20240104), rec(20240103)}
	svc := newTestService(t, config.New(), sse)

	existing := []models.Stock{stock("SSE", "600000", "X")}
	observed := []models.Stock{stock("SSE", "600000", "X", rec(20240104))}

	merged := svc.mergeBatch(context.Background(), existing, observed)
	require.Len(t, merged, 1)
	assert.Equal(t, []int32{20240104, 20240103}, dates(merged[0].Daily))
	assert.Equal(t, 1, sse.historyCalls["600000"])
}

func TestMergeFullReplaceSortsThenTruncates(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.history["600000"] = []models.DailyRecord{rec(20240102), rec(20240104), rec(20240103)}
	cfg := config.New()
	cfg.MaxHistory = 2
	svc := newTestService(t, cfg, sse)

	merged := svc.mergeBatch(context.Background(), nil,
		[]models.Stock{stock("SSE", "600000", "X", rec(20240104))})

	require.Len(t, merged, 1)
	// newest two survive the retention bound, not the first two fetched
	assert.Equal(t, []int32{20240104, 20240103}, dates(merged[0].Daily))
}

func TestMergeFetchFailureKeepsPriorState(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.historyErr["600000"] = errors.New(errors.ErrorTypeFetch, "upstream down")
	sse.history["600001"] = []models.DailyRecord{rec(20240104), rec(20240103)}
	svc := newTestService(t, config.New(), sse)

	existing := []models.Stock{stock("SSE", "600000", "Old")}
	observed := []models.Stock{
		stock("SSE", "600000", "New", rec(20240104)),
		stock("SSE", "600001", "Y", rec(20240104)),
	}

	merged := svc.mergeBatch(context.Background(), existing, observed)
	require.Len(t, merged, 2)

	// failed fetch keeps the prior history but still takes the new name
	assert.Equal(t, "New", merged[0].Name)
	assert.Empty(t, merged[0].Daily)

	// the failure does not block the rest of the batch
	assert.Equal(t, []int32{20240104, 20240103}, dates(merged[1].Daily))
}

func TestMergeUnknownExchangeKeepsPriorState(t *testing.T) {
	svc := newTestService(t, config.New(), newFakeScraper("SSE"))

	merged := svc.mergeBatch(context.Background(), nil,
		[]models.Stock{stock("SZSE", "000001", "Z", rec(20240104))})

	require.Len(t, merged, 1)
	assert.Equal(t, []int32{20240104}, dates(merged[0].Daily))
}

func TestProcessDailyStocksPersists(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.list = []models.Stock{stock("SSE", "600000", "X", rec(20240104))}
	sse.history["600000"] = []models.DailyRecord{rec(20240104), rec(20240103)}
	svc := newTestService(t, config.New(), sse)

	date, err := models.IntToDate(20240104)
	require.NoError(t, err)
	require.NoError(t, svc.ProcessDailyStocks(context.Background(), date))

	p, err := svc.LoadProvider()
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())
	got, ok := p.StockBySymbol("600000")
	require.True(t, ok)
	assert.Equal(t, []int32{20240104, 20240103}, dates(got.Daily))
}

func TestProcessDailyStocksDebugLimit(t *testing.T) {
	sse := newFakeScraper("SSE")
	for _, sym := range []string{"600000", "600001", "600002"} {
		sse.list = append(sse.list, stock("SSE", sym, "S"+sym, rec(20240104)))
		sse.history[sym] = []models.DailyRecord{rec(20240104)}
	}
	cfg := config.New()
	cfg.DebugMode = true
	cfg.DebugStockLimit = 2
	svc := newTestService(t, cfg, sse)

	date, err := models.IntToDate(20240104)
	require.NoError(t, err)
	require.NoError(t, svc.ProcessDailyStocks(context.Background(), date))

	p, err := svc.LoadProvider()
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}

func TestProcessSingleStock(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.list = []models.Stock{
		stock("SSE", "600000", "X", rec(20240104)),
		stock("SSE", "600001", "Y", rec(20240104)),
	}
	sse.history["600000"] = []models.DailyRecord{rec(20240104)}
	svc := newTestService(t, config.New(), sse)

	date, err := models.IntToDate(20240104)
	require.NoError(t, err)
	require.NoError(t, svc.ProcessSingleStock(context.Background(), "600000", date))

	p, err := svc.LoadProvider()
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
	_, ok := p.StockBySymbol("600001")
	assert.False(t, ok)
}

func TestProcessSingleStockNotFound(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.list = []models.Stock{stock("SSE", "600000", "X", rec(20240104))}
	svc := newTestService(t, config.New(), sse)

	date, err := models.IntToDate(20240104)
	require.NoError(t, err)
	err = svc.ProcessSingleStock(context.Background(), "999999", date)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestFetchDailyDataPropagatesListError(t *testing.T) {
	sse := newFakeScraper("SSE")
	sse.listErr = errors.New(errors.ErrorTypeFetch, "listing down")
	svc := newTestService(t, config.New(), sse)

	_, err := svc.FetchDailyData(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFetch))
}

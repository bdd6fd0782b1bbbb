// Package szse scrapes the Shenzhen Stock Exchange report endpoints. The
// daily snapshot is published as an XLSX report; kline history comes from
// a JSON endpoint.
package szse

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/egostrategy/datahub/pkg/config"
	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/logger"
	"github.com/egostrategy/datahub/pkg/metrics"
	"github.com/egostrategy/datahub/pkg/models"
	"github.com/egostrategy/datahub/pkg/scraper"
)

const (
	exchangeCode   = "SZSE"
	defaultBaseURL = "https://www.szse.cn"
)

func init() {
	_ = scraper.Register("szse", New)
}

// Scraper fetches SZSE stock snapshots and daily history.
type Scraper struct {
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
	baseURL   string
	userAgent string
}

// New creates a SZSE scraper from the run configuration.
func New(cfg *config.Config) (scraper.Scraper, error) {
	return newWithBaseURL(cfg, defaultBaseURL), nil
}

func newWithBaseURL(cfg *config.Config, baseURL string) *Scraper {
	return &Scraper{
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:    logger.With(zap.String("scraper", exchangeCode)),
		baseURL:   baseURL,
		userAgent: cfg.UserAgent,
	}
}

// ExchangeCode implements scraper.Scraper.
func (s *Scraper) ExchangeCode() string {
	return exchangeCode
}

// FetchStockList downloads the stock snapshot XLSX report for the given
// date and converts each data row into a stock carrying that day's
// record. Volume and amount cells are reported in units of 10,000.
func (s *Scraper) FetchStockList(ctx context.Context, date time.Time) ([]models.Stock, error) {
	dateStr := date.Format("2006-01-02")
	dateInt := models.DateToInt(date)
	s.logger.Info("fetching stock snapshot", zap.String("date", dateStr))

	url := s.baseURL + "/api/report/ShowReport?SHOWTYPE=xlsx&CATALOGID=1815_stock_snapshot&txtBeginDate=" +
		dateStr + "&txtEndDate=" + dateStr
	body, err := s.get(ctx, url, "list")
	if err != nil {
		metrics.StocksScraped.WithLabelValues(exchangeCode, "failure").Inc()
		return nil, err
	}

	stocks, err := parseSnapshotXLSX(body, dateInt)
	if err != nil {
		metrics.StocksScraped.WithLabelValues(exchangeCode, "failure").Inc()
		return nil, err
	}

	metrics.StocksScraped.WithLabelValues(exchangeCode, "success").Add(float64(len(stocks)))
	s.logger.Info("fetched stock snapshot",
		zap.String("date", dateStr),
		zap.Int("stocks", len(stocks)))
	return stocks, nil
}

// parseSnapshotXLSX reads the first worksheet of the snapshot report.
// Data rows start after the header; columns of interest are
// 1:code 2:name 4:open 5:high 6:low 7:close 9:volume 10:amount.
func parseSnapshotXLSX(body []byte, dateInt int32) ([]models.Stock, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "failed to open snapshot workbook")
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New(errors.ErrorTypeParse, "snapshot workbook has no worksheets")
	}

	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "failed to read snapshot worksheet")
	}

	var stocks []models.Stock
	for i, row := range rows {
		if i == 0 || len(row) < 11 {
			continue
		}

		code := strings.TrimSpace(row[1])
		name := strings.TrimSpace(row[2])
		if code == "" {
			continue
		}

		stocks = append(stocks, models.Stock{
			Exchange: exchangeCode,
			Symbol:   code,
			Name:     name,
			Daily: []models.DailyRecord{{
				Date:   dateInt,
				Open:   cellFloat32(row[4]),
				High:   cellFloat32(row[5]),
				Low:    cellFloat32(row[6]),
				Close:  cellFloat32(row[7]),
				Volume: cellScaledInt64(row[9]),
				Amount: cellScaledInt64(row[10]),
			}},
		})
	}
	return stocks, nil
}

// szseHistoryResponse is the JSON body of the history endpoint. Each
// picupdata row is [date, open, close, low, high, _, _, volume, amount];
// prices arrive as strings, volume in lots of 100 shares.
type szseHistoryResponse struct {
	Data struct {
		Picupdata [][]gojson.RawMessage `json:"picupdata"`
	} `json:"data"`
}

// FetchStockHistory returns the daily history for one symbol, most
// recent first.
func (s *Scraper) FetchStockHistory(ctx context.Context, symbol string) ([]models.DailyRecord, error) {
	s.logger.Info("fetching history", zap.String("symbol", symbol))

	url := s.baseURL + "/api/market/ssjjhq/getHistoryData?cycleType=32&marketId=1&code=" + symbol
	body, err := s.get(ctx, url, "history")
	if err != nil {
		return nil, err
	}

	var resp szseHistoryResponse
	if err := gojson.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "failed to parse history response").
			WithDetail("symbol", symbol)
	}

	daily := make([]models.DailyRecord, 0, len(resp.Data.Picupdata))
	for _, row := range resp.Data.Picupdata {
		if len(row) < 9 {
			continue
		}

		dateStr := strings.ReplaceAll(rawString(row[0]), "-", "")
		date, err := strconv.ParseInt(dateStr, 10, 32)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeParse, "invalid date format: %s", dateStr).
				WithDetail("symbol", symbol)
		}

		open, err := parsePrice(row[1])
		if err != nil {
			return nil, err
		}
		closeP, err := parsePrice(row[2])
		if err != nil {
			return nil, err
		}
		low, err := parsePrice(row[3])
		if err != nil {
			return nil, err
		}
		high, err := parsePrice(row[4])
		if err != nil {
			return nil, err
		}

		daily = append(daily, models.DailyRecord{
			Date:   int32(date),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closeP,
			Volume: rawInt64(row[7]) * 100,
			Amount: int64(rawFloat64(row[8])),
		})
	}

	sort.Slice(daily, func(i, j int) bool { return daily[i].Date > daily[j].Date })

	s.logger.Info("fetched history",
		zap.String("symbol", symbol),
		zap.Int("records", len(daily)))
	return daily, nil
}

// get issues one rate-limited GET and returns the raw body.
func (s *Scraper) get(ctx context.Context, url, operation string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRateLimit, "rate limiter wait interrupted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ScrapeLatency.WithLabelValues(exchangeCode, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrorTypeFetch, "unexpected HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}
	return body, nil
}

// cellFloat32 parses one numeric snapshot cell; malformed cells fall back
// to zero like the legacy parser.
func cellFloat32(cell string) float32 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(cell), ",", ""), 64)
	if err != nil {
		return 0
	}
	return float32(v)
}

// cellScaledInt64 parses a snapshot cell reported in units of 10,000 and
// returns the absolute count.
func cellScaledInt64(cell string) int64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(cell), ",", ""), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * 10000))
}

// parsePrice decodes one string-typed price element.
func parsePrice(raw gojson.RawMessage) (float32, error) {
	str := rawString(raw)
	v, err := strconv.ParseFloat(str, 32)
	if err != nil {
		return 0, errors.Newf(errors.ErrorTypeParse, "invalid price format: %q", str)
	}
	return float32(v), nil
}

func rawString(raw gojson.RawMessage) string {
	var v string
	if err := gojson.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func rawInt64(raw gojson.RawMessage) int64 {
	var v int64
	if err := gojson.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v
}

func rawFloat64(raw gojson.RawMessage) float64 {
	var v float64
	if err := gojson.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v
}

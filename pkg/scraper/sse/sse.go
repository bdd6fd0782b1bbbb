// Package sse scrapes the Shanghai Stock Exchange realtime endpoints.
package sse

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
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
	exchangeCode   = "SSE"
	defaultBaseURL = "https://yunhq.sse.com.cn:32042"
	referer        = "https://www.sse.com.cn/"
)

func init() {
	_ = scraper.Register("sse", New)
}

// Scraper fetches SSE stock lists and daily kline history. Both endpoints
// answer with a JSONP envelope around a JSON body; requests are
// rate-limited per instance.
type Scraper struct {
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
	baseURL   string
	userAgent string
}

// New creates an SSE scraper from the run configuration.
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

// sseListResponse is the JSON body of the equity list endpoint. Each list
// row is [code, name, open, high, low, last, volume, amount].
type sseListResponse struct {
	Date int32               `json:"date"`
	List [][]gojson.RawMessage `json:"list"`
}

// FetchStockList returns the equity snapshot for the given date. When the
// endpoint reports a different trading date (weekend, holiday), the
// result is empty rather than an error.
func (s *Scraper) FetchStockList(ctx context.Context, date time.Time) ([]models.Stock, error) {
	dateInt := models.DateToInt(date)
	s.logger.Info("fetching stock list", zap.Int32("date", dateInt))

	query := url.Values{
		"select": {"code,name,open,high,low,last,volume,amount"},
		"begin":  {"0"},
		"end":    {"5000"},
	}
	body, err := s.get(ctx, "/v1/sh1/list/exchange/equity", query, "list")
	if err != nil {
		metrics.StocksScraped.WithLabelValues(exchangeCode, "failure").Inc()
		return nil, err
	}

	var resp sseListResponse
	if err := gojson.Unmarshal(stripJSONP(body), &resp); err != nil {
		metrics.StocksScraped.WithLabelValues(exchangeCode, "failure").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "failed to parse stock list response")
	}

	if resp.Date != dateInt {
		s.logger.Warn("endpoint reports a different trading date",
			zap.Int32("requested", dateInt),
			zap.Int32("reported", resp.Date))
		return nil, nil
	}

	stocks := make([]models.Stock, 0, len(resp.List))
	for _, row := range resp.List {
		if len(row) < 8 {
			continue
		}
		stocks = append(stocks, models.Stock{
			Exchange: exchangeCode,
			Symbol:   rawString(row[0]),
			Name:     rawString(row[1]),
			Daily: []models.DailyRecord{{
				Date:   dateInt,
				Open:   rawFloat32(row[2]),
				High:   rawFloat32(row[3]),
				Low:    rawFloat32(row[4]),
				Close:  rawFloat32(row[5]),
				Volume: rawInt64(row[6]),
				Amount: rawInt64(row[7]),
			}},
		})
	}

	metrics.StocksScraped.WithLabelValues(exchangeCode, "success").Add(float64(len(stocks)))
	s.logger.Info("fetched stock list", zap.Int("stocks", len(stocks)))
	return stocks, nil
}

// sseKlineResponse is the JSON body of the daily kline endpoint. Each
// kline row is [date, open, high, low, close, volume, amount].
type sseKlineResponse struct {
	Kline [][]gojson.RawMessage `json:"kline"`
}

// FetchStockHistory returns up to the last 1000 daily records for one
// symbol, most recent first.
func (s *Scraper) FetchStockHistory(ctx context.Context, symbol string) ([]models.DailyRecord, error) {
	s.logger.Debug("fetching kline history", zap.String("symbol", symbol))

	query := url.Values{
		"begin":  {"-1000"},
		"end":    {"-1"},
		"period": {"day"},
	}
	body, err := s.get(ctx, "/v1/sh1/dayk/"+symbol, query, "history")
	if err != nil {
		return nil, err
	}

	var resp sseKlineResponse
	if err := gojson.Unmarshal(stripJSONP(body), &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "failed to parse kline response").
			WithDetail("symbol", symbol)
	}

	daily := make([]models.DailyRecord, 0, len(resp.Kline))
	for _, row := range resp.Kline {
		if len(row) < 7 {
			continue
		}
		daily = append(daily, models.DailyRecord{
			Date:   int32(rawInt64(row[0])),
			Open:   rawFloat32(row[1]),
			High:   rawFloat32(row[2]),
			Low:    rawFloat32(row[3]),
			Close:  rawFloat32(row[4]),
			Volume: rawInt64(row[5]),
			Amount: rawInt64(row[6]),
		})
	}

	sort.Slice(daily, func(i, j int) bool { return daily[i].Date > daily[j].Date })

	s.logger.Debug("fetched kline history",
		zap.String("symbol", symbol),
		zap.Int("records", len(daily)))
	return daily, nil
}

// get issues one rate-limited GET and returns the raw body.
func (s *Scraper) get(ctx context.Context, path string, query url.Values, operation string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRateLimit, "rate limiter wait interrupted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("Referer", referer)
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ScrapeLatency.WithLabelValues(exchangeCode, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrorTypeFetch, "unexpected HTTP status %d", resp.StatusCode).
			WithDetail("path", path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}
	return body, nil
}

// stripJSONP unwraps a jsonpCallback(...) / jQueryXXX(...) envelope. A
// body without an envelope is returned unchanged.
func stripJSONP(body []byte) []byte {
	s := string(body)
	start := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if start == -1 || end == -1 || end < start {
		return body
	}
	return []byte(s[start+1 : end])
}

// rawString decodes one JSON array element as a string, tolerating
// malformed cells the way the legacy parser did (zero value on error).
func rawString(raw gojson.RawMessage) string {
	var v string
	if err := gojson.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func rawFloat32(raw gojson.RawMessage) float32 {
	var v float64
	if err := gojson.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return float32(v)
}

func rawInt64(raw gojson.RawMessage) int64 {
	var v int64
	if err := gojson.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v
}

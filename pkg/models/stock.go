// Package models defines the stock market data shapes shared across datahub.
package models

// DailyRecord is one dated observation for a stock: OHLC prices, traded
// volume, and traded amount. Date is an integer in YYYYMMDD form. Records
// are immutable once created; histories change only by insertion, bulk
// replacement, or truncation.
type DailyRecord struct {
	Date   int32
	Open   float32
	High   float32
	Low    float32
	Close  float32
	Volume int64
	Amount int64
}

// Stock is one tracked instrument. Symbol is unique across the whole
// dataset, Exchange groups stocks by venue, and Name always reflects the
// latest observed display name. Daily is ordered most-recent-first with no
// duplicate dates and is bounded by the configured history limit.
type Stock struct {
	Exchange string
	Symbol   string
	Name     string
	Daily    []DailyRecord
}

// Key returns the merge key identifying this stock within a batch,
// in "EXCHANGE:symbol" form.
func (s *Stock) Key() string {
	return s.Exchange + ":" + s.Symbol
}

// LatestDate returns the date of the most recent daily record, or 0 when
// the history is empty.
func (s *Stock) LatestDate() int32 {
	if len(s.Daily) == 0 {
		return 0
	}
	return s.Daily[0].Date
}

// Clone returns a deep copy of the stock, including its history.
func (s *Stock) Clone() Stock {
	out := *s
	if s.Daily != nil {
		out.Daily = make([]DailyRecord, len(s.Daily))
		copy(out.Daily, s.Daily)
	}
	return out
}

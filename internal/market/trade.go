package market

import "time"

// Trade is one executed trade from a daily trade file.
type Trade struct {
	Ticker      string
	GrossAmount float64
	Quantity    int64
	// TradedAt combines the session date and entry time in exchange time.
	TradedAt time.Time
	// Date is the session date at midnight UTC.
	Date time.Time
}

// TradeSummary aggregates trades for a ticker over a date range.
type TradeSummary struct {
	Ticker         string  `json:"ticker"`
	MaxRangeValue  float64 `json:"max_range_value"`
	MaxDailyVolume int64   `json:"max_daily_volume"`
}

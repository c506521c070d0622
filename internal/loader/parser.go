package loader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/b3-market-data/internal/market"
)

// ErrMalformedRow is returned for rows that cannot be parsed into a trade.
var ErrMalformedRow = errors.New("malformed trade row")

// Column positions in the exchange's `;`-separated trade files.
const (
	colTicker      = 1
	colGrossAmount = 3
	colQuantity    = 4
	colEntryTime   = 5
	colDate        = 8
	minColumns     = colDate + 1
)

// ParseRow converts one record into a Trade. Entry times are HHMMSSmmm in
// loc; gross amounts use a decimal comma.
func ParseRow(row []string, loc *time.Location) (market.Trade, error) {
	if len(row) < minColumns {
		return market.Trade{}, fmt.Errorf("%w: %d columns, want at least %d", ErrMalformedRow, len(row), minColumns)
	}
	if loc == nil {
		loc = time.UTC
	}

	ticker := strings.TrimSpace(row[colTicker])
	if ticker == "" {
		return market.Trade{}, fmt.Errorf("%w: empty ticker", ErrMalformedRow)
	}
	amount, err := parseGrossAmount(row[colGrossAmount])
	if err != nil {
		return market.Trade{}, err
	}
	quantity, err := strconv.ParseInt(strings.TrimSpace(row[colQuantity]), 10, 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("%w: quantity %q", ErrMalformedRow, row[colQuantity])
	}
	date, err := time.Parse(market.DateLayout, strings.TrimSpace(row[colDate]))
	if err != nil {
		return market.Trade{}, fmt.Errorf("%w: date %q", ErrMalformedRow, row[colDate])
	}
	tradedAt, err := parseEntryTime(row[colEntryTime], date, loc)
	if err != nil {
		return market.Trade{}, err
	}

	return market.Trade{
		Ticker:      ticker,
		GrossAmount: amount,
		Quantity:    quantity,
		TradedAt:    tradedAt,
		Date:        date,
	}, nil
}

func parseGrossAmount(s string) (float64, error) {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: gross amount %q", ErrMalformedRow, s)
	}
	return v, nil
}

// parseEntryTime reads HHMMSSmmm on the session date. Leading zeros dropped
// by the exchange (e.g. 9h trades) are restored.
func parseEntryTime(s string, date time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 9 {
		return time.Time{}, fmt.Errorf("%w: entry time %q", ErrMalformedRow, s)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("%w: entry time %q", ErrMalformedRow, s)
	}
	millis := n % 1000
	n /= 1000
	second := n % 100
	n /= 100
	minute := n % 100
	hour := n / 100
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: entry time %q", ErrMalformedRow, s)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, second, millis*int(time.Millisecond), loc), nil
}

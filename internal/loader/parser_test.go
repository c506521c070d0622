package loader

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(s string) []string { return strings.Split(s, ";") }

func TestParseRow(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	trade, err := ParseRow(row("2024-05-01;PETR4;0;38,510;100;100503123;1;0;2024-05-01"), loc)
	require.NoError(t, err)
	assert.Equal(t, "PETR4", trade.Ticker)
	assert.InDelta(t, 38.51, trade.GrossAmount, 1e-9)
	assert.Equal(t, int64(100), trade.Quantity)
	assert.Equal(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC), trade.Date)
	assert.Equal(t, time.Date(2024, time.May, 1, 10, 5, 3, 123*int(time.Millisecond), loc), trade.TradedAt)
}

func TestParseRowRestoresLeadingZeros(t *testing.T) {
	t.Parallel()

	trade, err := ParseRow(row("x;VALE3;0;61,2;300;90001500;1;0;2024-05-02"), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.May, 2, 9, 0, 1, 500*int(time.Millisecond), time.UTC), trade.TradedAt)
}

func TestParseRowErrors(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"short row":     "x;PETR4;0;38,5",
		"empty ticker":  "x; ;0;38,5;100;100503123;1;0;2024-05-01",
		"bad amount":    "x;PETR4;0;abc;100;100503123;1;0;2024-05-01",
		"bad quantity":  "x;PETR4;0;38,5;ten;100503123;1;0;2024-05-01",
		"bad time":      "x;PETR4;0;38,5;100;2505031230;1;0;2024-05-01",
		"hour overflow": "x;PETR4;0;38,5;100;250503123;1;0;2024-05-01",
		"empty time":    "x;PETR4;0;38,5;100;;1;0;2024-05-01",
		"bad date":      "x;PETR4;0;38,5;100;100503123;1;0;01/05/2024",
	}
	for name, in := range testCases {
		_, err := ParseRow(row(in), time.UTC)
		assert.ErrorIs(t, err, ErrMalformedRow, name)
	}
}

package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDateWindowExcludesToday(t *testing.T) {
	t.Parallel()

	today := time.Date(2024, time.May, 8, 9, 30, 0, 0, time.UTC)
	w := NewDateWindow(today, 7)
	require.NotNil(t, w)

	assert.Equal(t, []string{
		"2024-05-07",
		"2024-05-06",
		"2024-05-05",
		"2024-05-04",
		"2024-05-03",
		"2024-05-02",
		"2024-05-01",
	}, w.Dates())
	assert.Equal(t, 7, w.Len())
	assert.False(t, w.Contains("2024-05-08"))
	assert.False(t, w.Contains("2024-04-30"))
	assert.True(t, w.Contains("2024-05-01"))
}

func TestNewDateWindowCrossesMonthAndLeapDay(t *testing.T) {
	t.Parallel()

	w := NewDateWindow(time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC), 3)
	assert.Equal(t, []string{"2024-03-01", "2024-02-29", "2024-02-28"}, w.Dates())
}

func TestNewDateWindowNoDuplicatesAcrossDST(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// DST starts on 2024-03-10 in New York.
	w := NewDateWindow(time.Date(2024, time.March, 12, 0, 30, 0, 0, loc), 4)
	dates := w.Dates()
	seen := map[string]bool{}
	for _, d := range dates {
		assert.False(t, seen[d], "duplicate date %s", d)
		seen[d] = true
	}
	assert.Equal(t, []string{"2024-03-11", "2024-03-10", "2024-03-09", "2024-03-08"}, dates)
}

func TestNewDateWindowDisabled(t *testing.T) {
	t.Parallel()

	var w *DateWindow = NewDateWindow(time.Now(), 0)
	assert.Nil(t, w)
	assert.False(t, w.Contains("2024-05-01"))
	assert.Empty(t, w.Dates())
	assert.Zero(t, w.Len())
}

func TestDatesReturnsCopy(t *testing.T) {
	t.Parallel()

	w := NewDateWindow(time.Date(2024, time.May, 8, 0, 0, 0, 0, time.UTC), 2)
	dates := w.Dates()
	dates[0] = "mutated"
	assert.True(t, w.Contains("2024-05-07"))
	assert.Equal(t, "2024-05-07", w.Dates()[0])
}

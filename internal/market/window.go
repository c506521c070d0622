package market

import "time"

// DateLayout is the calendar date format used in portal links.
const DateLayout = "2006-01-02"

// DateWindow is the ordered set of recent calendar dates, newest first. The
// zero value is an empty window that matches nothing; callers treat a nil
// *DateWindow as "no filtering".
type DateWindow struct {
	dates []string
	set   map[string]struct{}
}

// NewDateWindow builds {today-1, ..., today-days}. today itself is excluded.
// days <= 0 returns nil, which disables date filtering.
func NewDateWindow(today time.Time, days int) *DateWindow {
	if days <= 0 {
		return nil
	}
	y, m, d := today.Date()
	base := time.Date(y, m, d, 12, 0, 0, 0, today.Location())
	w := &DateWindow{
		dates: make([]string, 0, days),
		set:   make(map[string]struct{}, days),
	}
	for i := 1; i <= days; i++ {
		s := base.AddDate(0, 0, -i).Format(DateLayout)
		w.dates = append(w.dates, s)
		w.set[s] = struct{}{}
	}
	return w
}

// Contains reports whether date is one of the window's dates.
func (w *DateWindow) Contains(date string) bool {
	if w == nil {
		return false
	}
	_, ok := w.set[date]
	return ok
}

// Dates returns a copy of the window, newest first.
func (w *DateWindow) Dates() []string {
	if w == nil {
		return nil
	}
	return append([]string(nil), w.dates...)
}

// Len returns the number of dates in the window.
func (w *DateWindow) Len() int {
	if w == nil {
		return 0
	}
	return len(w.dates)
}

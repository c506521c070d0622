package system

import (
	"testing"
	"time"
)

func TestClockNowDefaultsToUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestClockNowUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("BRT", -3*60*60)
	if got := New(loc).Now().Location(); got != loc {
		t.Fatalf("expected %v, got %v", loc, got)
	}
}

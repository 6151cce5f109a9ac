package holiday

import (
	"strings"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func TestSolarFestivals(t *testing.T) {
	cases := []struct {
		day  time.Time
		want string
	}{
		{date(2026, time.January, 1), "New Year's Day"},
		{date(2026, time.May, 1), "Labor Day"},
		{date(2026, time.October, 1), "National Day"},
	}
	for _, c := range cases {
		got := Greeting(c.day)
		if !strings.Contains(got, c.want) {
			t.Errorf("Greeting(%s) = %q, want mention of %s", c.day.Format("2006-01-02"), got, c.want)
		}
	}
}

func TestLunarFestivals(t *testing.T) {
	// Fixed gregorian dates of known lunisolar festivals.
	cases := []struct {
		day  time.Time
		want string
	}{
		{date(2026, time.February, 17), "Spring Festival"},      // lunar 1/1
		{date(2026, time.March, 3), "Lantern Festival"},         // lunar 1/15
		{date(2026, time.June, 19), "Dragon Boat Festival"},     // lunar 5/5
		{date(2026, time.September, 25), "Mid-Autumn Festival"}, // lunar 8/15
	}
	for _, c := range cases {
		got := Greeting(c.day)
		if !strings.Contains(got, c.want) {
			t.Errorf("Greeting(%s) = %q, want mention of %s", c.day.Format("2006-01-02"), got, c.want)
		}
	}
}

func TestOrdinaryDayIsSilent(t *testing.T) {
	if got := Greeting(date(2026, time.March, 17)); got != "" {
		t.Errorf("expected empty greeting on an ordinary day, got %q", got)
	}
}

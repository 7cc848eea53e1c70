package pipeline

import (
	"sync"
	"time"
)

// HolidayCalendar answers "is this date a public holiday" for one country.
// Years are materialized lazily, so the calendar covers whatever years the
// data happens to contain.
type HolidayCalendar struct {
	country string

	mu    sync.Mutex
	years map[int]map[string]struct{}
}

// NewHolidayCalendar builds a calendar for an ISO country code. Hungary
// ("HU") carries the full national calendar; other codes fall back to the
// movable Easter days plus the common fixed dates shared across Europe.
func NewHolidayCalendar(country string) *HolidayCalendar {
	if country == "" {
		country = "HU"
	}
	return &HolidayCalendar{
		country: country,
		years:   make(map[int]map[string]struct{}),
	}
}

// IsHoliday reports whether d falls on a public holiday.
func (c *HolidayCalendar) IsHoliday(d time.Time) bool {
	c.mu.Lock()
	year, ok := c.years[d.Year()]
	if !ok {
		year = c.buildYear(d.Year())
		c.years[d.Year()] = year
	}
	c.mu.Unlock()
	_, hit := year[d.Format("2006-01-02")]
	return hit
}

func (c *HolidayCalendar) buildYear(y int) map[string]struct{} {
	easter := easterSunday(y)
	days := []time.Time{
		time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
		easter.AddDate(0, 0, -2), // Good Friday
		easter,
		easter.AddDate(0, 0, 1),  // Easter Monday
		easter.AddDate(0, 0, 49), // Whit Sunday
		easter.AddDate(0, 0, 50), // Whit Monday
		time.Date(y, time.May, 1, 0, 0, 0, 0, time.UTC),
		time.Date(y, time.December, 25, 0, 0, 0, 0, time.UTC),
		time.Date(y, time.December, 26, 0, 0, 0, 0, time.UTC),
	}
	if c.country == "HU" {
		days = append(days,
			time.Date(y, time.March, 15, 0, 0, 0, 0, time.UTC),
			time.Date(y, time.August, 20, 0, 0, 0, 0, time.UTC),
			time.Date(y, time.October, 23, 0, 0, 0, 0, time.UTC),
			time.Date(y, time.November, 1, 0, 0, 0, 0, time.UTC),
		)
	}
	set := make(map[string]struct{}, len(days))
	for _, d := range days {
		set[d.Format("2006-01-02")] = struct{}{}
	}
	return set
}

// easterSunday computes Gregorian Easter with the anonymous Gauss algorithm.
func easterSunday(y int) time.Time {
	a := y % 19
	b := y / 100
	c := y % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

package risk

import "time"

// TradingCalendar reports exchange session opens for the market-open
// cooldown check.
type TradingCalendar interface {
	// LastOpen returns the most recent session open at or before now, or
	// ok=false when no session opened recently (weekend, holiday).
	LastOpen(now time.Time) (time.Time, bool)
}

// WeekdayCalendar is a fixed-schedule calendar: sessions open at a wall-clock
// time in a location on Monday through Friday. Holiday awareness belongs to a
// richer provider behind the same interface.
type WeekdayCalendar struct {
	OpenHour   int
	OpenMinute int
	Location   *time.Location
}

// NewEquityCalendar returns the default US equity session calendar
// (09:30 America/New_York).
func NewEquityCalendar() *WeekdayCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &WeekdayCalendar{OpenHour: 9, OpenMinute: 30, Location: loc}
}

// LastOpen implements TradingCalendar.
func (c *WeekdayCalendar) LastOpen(now time.Time) (time.Time, bool) {
	local := now.In(c.Location)
	for back := 0; back < 7; back++ {
		day := local.AddDate(0, 0, -back)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), c.OpenHour, c.OpenMinute, 0, 0, c.Location)
		if !open.After(local) {
			return open, true
		}
	}
	return time.Time{}, false
}

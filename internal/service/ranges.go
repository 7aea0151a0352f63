package service

import "time"

// DayRange returns [midnight, next midnight) of t's calendar day in loc.
func DayRange(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	year, month, day := local.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// WeekRange returns the seven days containing t, starting on weekStart.
func WeekRange(t time.Time, loc *time.Location, weekStart time.Weekday) (time.Time, time.Time) {
	dayStart, _ := DayRange(t, loc)
	offset := (int(dayStart.Weekday()) - int(weekStart) + 7) % 7
	start := dayStart.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

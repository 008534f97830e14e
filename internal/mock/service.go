package mock

import (
	"fmt"
	"strings"
	"time"

	"railtrack/internal/schedule"
)

// Operating days run from 04:00 to 03:59 the next morning.
const serviceDayStartHour = 4

// ServiceDate returns 00:00 of the operating day t belongs to, in t's location.
func ServiceDate(t time.Time) time.Time {
	y, m, d := t.Date()
	if t.Hour() < serviceDayStartHour {
		d--
	}
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Holidays is a set of public holiday dates keyed by YYYY-MM-DD.
type Holidays map[string]struct{}

// ParseHolidays reads a comma separated list of YYYY-MM-DD dates.
func ParseHolidays(csv string) (Holidays, error) {
	h := Holidays{}
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, part); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", part, err)
		}
		h[part] = struct{}{}
	}
	return h, nil
}

func (h Holidays) Contains(date time.Time) bool {
	if h == nil {
		return false
	}
	_, ok := h[date.Format(time.DateOnly)]
	return ok
}

// ServiceTypeFor picks the timetable variant for a service date.
func ServiceTypeFor(date time.Time, holidays Holidays) schedule.ServiceType {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return schedule.SaturdayHoliday
	}
	if holidays.Contains(date) {
		return schedule.SaturdayHoliday
	}
	return schedule.Weekday
}

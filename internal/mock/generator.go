package mock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"railtrack/internal/schedule"
)

// DefaultWindow is how far around now a train's run must reach to be included.
const DefaultWindow = 30 * time.Minute

// Generator produces timetable-driven schedules, standing in for a live feed.
type Generator struct {
	Trains   []schedule.TimetableTrain
	Holidays Holidays
	Location *time.Location
	Window   time.Duration
	Logger   *slog.Logger
}

// Schedules returns the schedules for line at now. It never fails; the error
// return satisfies the tracker's schedule source.
func (g *Generator) Schedules(_ context.Context, line string, now time.Time) (map[string]*schedule.TrainSchedule, error) {
	return g.Generate(now, line), nil
}

// Generate returns the trains of line (all lines when empty) whose run
// overlaps now ± Window on the service day now falls in.
func (g *Generator) Generate(now time.Time, line string) map[string]*schedule.TrainSchedule {
	loc := g.Location
	if loc == nil {
		loc = now.Location()
	}
	window := g.Window
	if window <= 0 {
		window = DefaultWindow
	}
	local := now.In(loc)
	midnight := ServiceDate(local)
	svc := ServiceTypeFor(midnight, g.Holidays)

	out := make(map[string]*schedule.TrainSchedule)
	candidates := 0
	for i := range g.Trains {
		tt := &g.Trains[i]
		if tt.ServiceType != svc {
			continue
		}
		if line != "" && tt.LineID != line {
			continue
		}
		candidates++
		if !active(tt, midnight, now, window) {
			continue
		}
		s := toSchedule(tt, midnight, now)
		if len(s.Stops) < 2 {
			continue
		}
		out[s.TripID] = s
	}
	if g.Logger != nil {
		g.Logger.Debug("mock schedules generated",
			"service", string(svc), "line", lineLabel(line),
			"candidates", candidates, "active", len(out), "window", window.String())
	}
	return out
}

func lineLabel(line string) string {
	if line == "" {
		return "ALL"
	}
	return line
}

// TripID builds the identifier of a generated trip.
func TripID(tt *schedule.TimetableTrain) string {
	return fmt.Sprintf("mock_%s.%s.%s", tt.LineID, tt.Number, tt.ServiceType)
}

func active(tt *schedule.TimetableTrain, midnight, now time.Time, window time.Duration) bool {
	if len(tt.Stops) < 2 {
		return false
	}
	var first, last *int
	for _, st := range tt.Stops {
		if first = firstOf(st.DepartureSec, st.ArrivalSec); first != nil {
			break
		}
	}
	for i := len(tt.Stops) - 1; i >= 0; i-- {
		st := tt.Stops[i]
		if last = firstOf(st.ArrivalSec, st.DepartureSec); last != nil {
			break
		}
	}
	if first == nil || last == nil {
		return false
	}
	start := at(midnight, *first)
	end := at(midnight, *last)
	return !end.Before(now.Add(-window)) && !start.After(now.Add(window))
}

func toSchedule(tt *schedule.TimetableTrain, midnight, now time.Time) *schedule.TrainSchedule {
	s := &schedule.TrainSchedule{
		TripID:        TripID(tt),
		TrainNumber:   tt.Number,
		LineID:        tt.LineID,
		Direction:     tt.Direction,
		ServiceType:   tt.ServiceType,
		FeedTimestamp: now,
	}
	for i, st := range tt.Stops {
		if st.ArrivalSec == nil && st.DepartureSec == nil {
			continue
		}
		stop := schedule.StationStop{
			StationID: st.StationID,
			Sequence:  i + 1,
			Resolved:  true,
		}
		if st.ArrivalSec != nil {
			stop.Arrival = at(midnight, *st.ArrivalSec)
		}
		if st.DepartureSec != nil {
			stop.Departure = at(midnight, *st.DepartureSec)
		}
		s.Stops = append(s.Stops, stop)
	}
	return s
}

func at(midnight time.Time, sec int) time.Time {
	return midnight.Add(time.Duration(sec) * time.Second)
}

func firstOf(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

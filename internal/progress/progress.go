package progress

import (
	"sort"
	"time"

	"railtrack/internal/schedule"
)

// DefaultOriginBuffer is how long before its first departure a train is shown
// waiting at its origin.
const DefaultOriginBuffer = 1800 * time.Second

// Options tune the estimator.
type Options struct {
	OriginBuffer time.Duration
	// DwellTolerance widens every stop's dwell window on both sides.
	DwellTolerance time.Duration
}

func DefaultOptions() Options {
	return Options{OriginBuffer: DefaultOriginBuffer}
}

// Result is the progress of one train at one instant.
type Result struct {
	TripID      string
	TrainNumber string
	LineID      string
	Direction   string
	Status      schedule.Status
	// Progress is nil unless the status is stopped or running.
	Progress          *float64
	PrevStationID     string
	NextStationID     string
	PrevSeq           int
	NextSeq           int
	Delay             time.Duration
	IsStartingStation bool
	// OriginConfirmed is set when a vehicle fix reports the train stopped at
	// its origin.
	OriginConfirmed bool
	Now             time.Time
	SegmentStart    time.Time
	SegmentEnd      time.Time
	FeedTimestamp   time.Time
}

// ProgressValue returns the progress or 0 when absent.
func (r Result) ProgressValue() float64 {
	if r.Progress == nil {
		return 0
	}
	return *r.Progress
}

// Estimate classifies a train's position in its timetable at now. fix is
// optional and only corroborates an origin wait.
func Estimate(s *schedule.TrainSchedule, now time.Time, fix *schedule.VehicleFix, opts Options) Result {
	if s == nil {
		return Result{Status: schedule.Invalid, Now: now}
	}
	res := Result{
		TripID:        s.TripID,
		TrainNumber:   s.TrainNumber,
		LineID:        s.LineID,
		Direction:     s.Direction,
		Now:           now,
		FeedTimestamp: s.FeedTimestamp,
	}

	stops := resolvable(s.Stops)
	if len(stops) < 2 {
		res.Status = schedule.Invalid
		return res
	}

	first := stops[0]
	if firstDep := first.EffectiveDeparture(); now.Before(firstDep) {
		if firstDep.Sub(now) > opts.OriginBuffer {
			res.Status = schedule.Unknown
			return res
		}
		res.stopAt(first)
		res.IsStartingStation = true
		res.SegmentEnd = firstDep
		if fix != nil && fix.Status == schedule.StoppedAt && fix.StopSequence == first.Sequence {
			res.OriginConfirmed = true
		}
		return res
	}

	tol := opts.DwellTolerance
	for i, cur := range stops {
		arr, dep := cur.EffectiveArrival(), cur.EffectiveDeparture()
		if !now.Before(arr.Add(-tol)) && !now.After(dep.Add(tol)) {
			res.stopAt(cur)
			res.IsStartingStation = i == 0
			res.SegmentStart, res.SegmentEnd = arr, dep
			return res
		}
		if i+1 == len(stops) {
			break
		}
		next := stops[i+1]
		t0, t1 := dep, next.EffectiveArrival()
		if !now.After(t0) {
			continue
		}
		span := t1.Sub(t0)
		if span == 0 {
			// Zero-time hop: the next stop's dwell window decides.
			continue
		}
		if span < 0 {
			// Inconsistent times: hold the train at i until the next stop's
			// departure has passed.
			if !now.After(next.EffectiveDeparture()) {
				res.stopAt(cur)
				res.SegmentStart, res.SegmentEnd = t0, t1
				return res
			}
			continue
		}
		// The tail of the segment inside the next stop's widened window
		// belongs to that stop.
		if now.Before(t1.Add(-tol)) {
			p := clamp(float64(now.Sub(t0)) / float64(span))
			res.Status = schedule.Running
			res.Progress = &p
			res.PrevStationID, res.PrevSeq = cur.StationID, cur.Sequence
			res.NextStationID, res.NextSeq = next.StationID, next.Sequence
			res.Delay = next.Delay
			res.SegmentStart, res.SegmentEnd = t0, t1
			return res
		}
	}

	res.Status = schedule.Unknown
	return res
}

func (r *Result) stopAt(st schedule.StationStop) {
	zero := 0.0
	r.Status = schedule.Stopped
	r.Progress = &zero
	r.PrevStationID, r.PrevSeq = st.StationID, st.Sequence
	r.NextStationID, r.NextSeq = st.StationID, st.Sequence
	r.Delay = st.Delay
}

// resolvable keeps the stops that map to a station and carry a time, ordered
// by sequence.
func resolvable(stops []schedule.StationStop) []schedule.StationStop {
	out := make([]schedule.StationStop, 0, len(stops))
	for _, st := range stops {
		if st.Resolved && st.StationID != "" && st.HasTime() {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FixLookup returns the latest vehicle fix for a trip, if any.
type FixLookup func(tripID string) (schedule.VehicleFix, bool)

// EstimateAll runs Estimate for every schedule against the same instant. Invalid
// trains are dropped and the rest are ordered by direction then train number.
func EstimateAll(schedules map[string]*schedule.TrainSchedule, now time.Time, fixes FixLookup, opts Options) []Result {
	out := make([]Result, 0, len(schedules))
	for _, s := range schedules {
		if s == nil {
			continue
		}
		var fix *schedule.VehicleFix
		if fixes != nil {
			if f, ok := fixes(s.TripID); ok {
				fix = &f
			}
		}
		r := Estimate(s, now, fix, opts)
		if r.Status == schedule.Invalid {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		if out[i].TrainNumber != out[j].TrainNumber {
			return out[i].TrainNumber < out[j].TrainNumber
		}
		return out[i].TripID < out[j].TripID
	})
	return out
}

package tracker

import (
	"time"

	"railtrack/internal/geo"
	"railtrack/internal/progress"
	"railtrack/internal/publisher"
	"railtrack/internal/schedule"
	"railtrack/internal/track"
)

const (
	QualityTimetable = "timetable_only"
	QualityGPS       = "gps_corrected"
)

// Reconciliation outcomes, also used as metric labels.
const (
	reconcileNone     = ""
	reconcileImplied  = "implied"
	reconcileNeighbor = "neighbor"
	reconcileRejected = "rejected"
)

type outcome struct {
	located   bool
	reconcile string
}

// buildPosition turns one progress result into the published message. A fix
// only moves running trains; stopped trains stay on the station coordinate.
func buildPosition(ix *track.Index, r progress.Result, fix *schedule.VehicleFix, maxDistance float64, snapshotID string) (publisher.PositionMessage, outcome) {
	msg := publisher.PositionMessage{
		TripID:            r.TripID,
		LineID:            r.LineID,
		TrainNumber:       r.TrainNumber,
		Direction:         r.Direction,
		Status:            string(r.Status),
		Delay:             int64(r.Delay / time.Second),
		IsStartingStation: r.IsStartingStation,
		OriginConfirmed:   r.OriginConfirmed,
		DataQuality:       QualityTimetable,
		Segment: publisher.Segment{
			PrevSeq:       r.PrevSeq,
			NextSeq:       r.NextSeq,
			PrevStationID: r.PrevStationID,
			NextStationID: r.NextStationID,
		},
		Times: publisher.Times{
			NowTS:       unix(r.Now),
			T0Departure: unix(r.SegmentStart),
			T1Arrival:   unix(r.SegmentEnd),
		},
		Debug: publisher.Debug{
			FeedTimestamp: unix(r.FeedTimestamp),
			SnapshotID:    snapshotID,
		},
	}
	if r.Progress != nil {
		msg.Progress = rounded(*r.Progress, 4)
	}

	var out outcome
	if ix == nil {
		return msg, out
	}
	if loc, ok := ix.Locate(r.Status, r.ProgressValue(), r.PrevStationID, r.NextStationID, r.Direction); ok {
		out.located = true
		msg.Location = location(loc.Point, loc.Bearing)
		msg.Audit.TimetableLat = rounded(loc.Point.Lat, 6)
		msg.Audit.TimetableLon = rounded(loc.Point.Lon, 6)
	}

	if fix == nil || r.Status != schedule.Running {
		return msg, out
	}
	msg.Audit.FixLat = rounded(fix.Lat, 6)
	msg.Audit.FixLon = rounded(fix.Lon, 6)
	m, ok := ix.Reconcile(geo.Point{Lon: fix.Lon, Lat: fix.Lat}, r.PrevStationID, r.NextStationID, r.Direction, maxDistance)
	if !ok {
		out.reconcile = reconcileRejected
		return msg, out
	}

	out.located = true
	out.reconcile = reconcileImplied
	if m.Neighbor {
		out.reconcile = reconcileNeighbor
		applyNeighbor(&msg.Segment, r, m)
	}
	bearing := msg.Location.Bearing
	if loc, ok := ix.Locate(schedule.Running, m.Progress, m.From, m.To, r.Direction); ok {
		bearing = loc.Bearing
	}
	msg.Progress = rounded(m.Progress, 4)
	msg.Location = location(m.Point, bearing)
	msg.Audit.FixDistanceM = rounded(m.DistanceM, 1)
	msg.DataQuality = QualityGPS
	return msg, out
}

// applyNeighbor moves the segment onto the adjacent one the fix matched. Only
// the shared stop's sequence is known; the other end reports 0.
func applyNeighbor(seg *publisher.Segment, r progress.Result, m track.Match) {
	switch {
	case m.From == r.NextStationID:
		*seg = publisher.Segment{PrevSeq: r.NextSeq, PrevStationID: m.From, NextStationID: m.To}
	case m.To == r.PrevStationID:
		*seg = publisher.Segment{NextSeq: r.PrevSeq, PrevStationID: m.From, NextStationID: m.To}
	default:
		*seg = publisher.Segment{PrevStationID: m.From, NextStationID: m.To}
	}
}

func location(p geo.Point, bearing float64) publisher.Location {
	return publisher.Location{
		Latitude:  rounded(p.Lat, 6),
		Longitude: rounded(p.Lon, 6),
		Bearing:   geo.Round(bearing, 2),
	}
}

func rounded(v float64, places int) *float64 {
	r := geo.Round(v, places)
	return &r
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

package track

import (
	"railtrack/internal/geo"
	"railtrack/internal/schedule"
)

// Location is a map position with heading in degrees.
type Location struct {
	Point   geo.Point
	Bearing float64
	// OnTrack is false when the point was interpolated between station
	// coordinates instead of along the polyline.
	OnTrack bool
}

// Locate turns a timetable status into a map position. Stopped trains sit on
// the station coordinate; running trains are placed at progress along the
// segment path. It returns false when no position can be produced.
func (ix *Index) Locate(status schedule.Status, progress float64, prevID, nextID, direction string) (Location, bool) {
	switch status {
	case schedule.Stopped:
		return ix.locateStopped(prevID, nextID, direction)
	case schedule.Running:
		return ix.locateRunning(progress, prevID, nextID, direction)
	default:
		return Location{}, false
	}
}

func (ix *Index) locateStopped(prevID, nextID, direction string) (Location, bool) {
	p, ok := ix.stationPoint(prevID)
	if !ok {
		if p, ok = ix.stationPoint(nextID); !ok {
			return Location{}, false
		}
	}
	loc := Location{Point: p}
	if prevID != nextID {
		if path := ix.SegmentPath(prevID, nextID, direction); len(path) >= 2 {
			loc.Bearing = geo.Bearing(path[0], path[1])
			loc.OnTrack = true
		}
	}
	return loc, true
}

func (ix *Index) locateRunning(progress float64, prevID, nextID, direction string) (Location, bool) {
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}
	path := ix.SegmentPath(prevID, nextID, direction)
	switch {
	case len(path) >= 2:
		p, brg := geo.AlongPath(path, nil, progress)
		return Location{Point: p, Bearing: brg, OnTrack: true}, true
	case len(path) == 1:
		return Location{Point: path[0], OnTrack: true}, true
	}
	a, okA := ix.stations[prevID]
	b, okB := ix.stations[nextID]
	switch {
	case okA && !okB:
		return Location{Point: a}, true
	case okB && !okA:
		return Location{Point: b}, true
	case !okA:
		return Location{}, false
	}
	return Location{Point: geo.Lerp(a, b, progress), Bearing: geo.Bearing(a, b)}, true
}

// stationPoint prefers the station's own coordinate and falls back to its
// polyline vertex.
func (ix *Index) stationPoint(id string) (geo.Point, bool) {
	if id == "" {
		return geo.Point{}, false
	}
	if p, ok := ix.stations[id]; ok {
		return p, true
	}
	if i, ok := ix.stIdx[id]; ok {
		return ix.points[i], true
	}
	return geo.Point{}, false
}

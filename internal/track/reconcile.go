package track

import (
	"math"

	"railtrack/internal/geo"
)

const (
	// DefaultMaxDistance is the farthest a fix may lie from the track, in meters.
	DefaultMaxDistance = 500.0
	minSegmentLength   = 1.0
)

// Match is a vehicle fix snapped onto a station-to-station segment.
type Match struct {
	From      string
	To        string
	Progress  float64
	DistanceM float64
	Point     geo.Point
	// Neighbor is true when the fix fell on an adjacent segment rather than
	// the one implied by the timetable.
	Neighbor bool
}

type segment struct{ from, to string }

// Reconcile finds the segment and along-track fraction that best explain a
// measured fix. The implied segment is tried first, followed by the segments
// immediately before and after it; on equal distance the implied one wins.
// It returns false when no candidate lies within maxDistance.
func (ix *Index) Reconcile(fix geo.Point, fromID, toID, direction string, maxDistance float64) (Match, bool) {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	best := Match{DistanceM: math.Inf(1)}
	found := false
	for ci, seg := range ix.candidateSegments(fromID, toID, direction) {
		path := ix.SegmentPath(seg.from, seg.to, direction)
		if len(path) < 2 {
			continue
		}
		cum := geo.CumDistances(path)
		total := cum[len(cum)-1]
		if total < minSegmentLength {
			continue
		}
		for k := 0; k+1 < len(path); k++ {
			foot, t := geo.ProjectOntoSegment(fix, path[k], path[k+1])
			d := geo.Haversine(fix, foot)
			if d < best.DistanceM {
				best = Match{
					From:      seg.from,
					To:        seg.to,
					Progress:  (cum[k] + t*(cum[k+1]-cum[k])) / total,
					DistanceM: d,
					Point:     foot,
					Neighbor:  ci != 0,
				}
				found = true
			}
		}
	}
	if !found || best.DistanceM > maxDistance {
		return Match{}, false
	}
	return best, true
}

// candidateSegments returns the implied segment, then the one before it and
// the one after it in travel order. Open lines have no neighbour past their
// terminals.
func (ix *Index) candidateSegments(fromID, toID, direction string) []segment {
	cands := []segment{{fromID, toID}}
	iFrom, okF := ix.order[fromID]
	iTo, okT := ix.order[toID]
	n := len(ix.line.Stations)
	if !okF || !okT || n < 2 {
		return cands
	}
	step := 1
	if !ix.IsForward(direction) {
		step = -1
	}
	if prev, ok := ix.stationAt(iFrom - step); ok && prev != fromID {
		cands = append(cands, segment{prev, fromID})
	}
	if next, ok := ix.stationAt(iTo + step); ok && next != toID {
		cands = append(cands, segment{toID, next})
	}
	return cands
}

func (ix *Index) stationAt(i int) (string, bool) {
	n := len(ix.line.Stations)
	if i < 0 || i >= n {
		if !ix.line.Loop {
			return "", false
		}
		i = ((i % n) + n) % n
	}
	return ix.line.Stations[i], true
}

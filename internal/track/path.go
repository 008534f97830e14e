package track

import "railtrack/internal/geo"

// SegmentPath returns the stretch of polyline between two stations in travel
// order. Forward directions walk increasing indices, wrapping on loop lines;
// other directions walk the polyline back to front. When the nominal
// traversal is empty the opposite one is used, and on a loop the arc with the
// shorter length along the ring wins.
func (ix *Index) SegmentPath(fromID, toID, direction string) []geo.Point {
	s, ok := ix.stIdx[fromID]
	if !ok {
		return nil
	}
	e, ok := ix.stIdx[toID]
	if !ok {
		return nil
	}
	fwd := ix.IsForward(direction)
	path := ix.slice(s, e, fwd)
	if len(path) == 0 {
		return ix.slice(s, e, !fwd)
	}
	if ix.line.Loop {
		if alt := ix.slice(s, e, !fwd); len(alt) > 0 && pathLength(alt) < pathLength(path) {
			return alt
		}
	}
	return path
}

func pathLength(pts []geo.Point) float64 {
	cum := geo.CumDistances(pts)
	if len(cum) == 0 {
		return 0
	}
	return cum[len(cum)-1]
}

func (ix *Index) slice(s, e int, forward bool) []geo.Point {
	pts := ix.points
	n := len(pts)
	if n == 0 || s < 0 || e < 0 || s >= n || e >= n {
		return nil
	}
	var out []geo.Point
	switch {
	case forward && s <= e:
		out = make([]geo.Point, 0, e-s+1)
		out = append(out, pts[s:e+1]...)
	case forward && ix.line.Loop:
		out = make([]geo.Point, 0, n-s+e+1)
		out = append(out, pts[s:]...)
		for _, p := range pts[:e+1] {
			out = appendDistinct(out, p)
		}
	case !forward && s >= e:
		out = make([]geo.Point, 0, s-e+1)
		for i := s; i >= e; i-- {
			out = append(out, pts[i])
		}
	case !forward && ix.line.Loop:
		out = make([]geo.Point, 0, s+n-e+1)
		for i := s; i >= 0; i-- {
			out = append(out, pts[i])
		}
		for i := n - 1; i >= e; i-- {
			out = appendDistinct(out, pts[i])
		}
	}
	return out
}

// appendDistinct skips p when it repeats the last point, which happens where a
// closed ring meets itself.
func appendDistinct(dst []geo.Point, p geo.Point) []geo.Point {
	if len(dst) > 0 && dst[len(dst)-1] == p {
		return dst
	}
	return append(dst, p)
}

package track

import (
	"railtrack/internal/geo"
	"railtrack/internal/shape"
)

// DefaultForward lists the direction tags that run towards increasing station
// order when a line does not configure its own.
var DefaultForward = []string{"OuterLoop", "Outbound", "Descending"}

// Line is the static description of a tracked line.
type Line struct {
	ID       string
	Name     string
	Loop     bool
	Stations []string
	// Forward holds the direction tags that mean increasing station order.
	Forward []string
}

// Index pairs a line's polyline with the position of each station on it.
// An Index is read-only once built and safe for concurrent use.
type Index struct {
	line     Line
	points   []geo.Point
	cum      []float64
	stations map[string]geo.Point
	stIdx    map[string]int
	order    map[string]int
	forward  map[string]bool
}

// NewIndex builds the index for line. Station positions on the polyline are
// taken from precomputed when present and otherwise snapped to the nearest
// vertex. A nil shape gives an index without a polyline.
func NewIndex(line Line, shp *shape.Shape, stations map[string]geo.Point, precomputed map[string]int) *Index {
	ix := &Index{
		line:     line,
		stations: make(map[string]geo.Point),
		stIdx:    make(map[string]int),
		order:    make(map[string]int, len(line.Stations)),
		forward:  make(map[string]bool),
	}
	fwd := line.Forward
	if len(fwd) == 0 {
		fwd = DefaultForward
	}
	for _, d := range fwd {
		ix.forward[d] = true
	}
	for i, id := range line.Stations {
		if _, dup := ix.order[id]; !dup {
			ix.order[id] = i
		}
	}
	for id, p := range stations {
		ix.stations[id] = p
	}
	if shp != nil && len(shp.Points) > 0 {
		ix.points = shp.Points
		ix.cum = geo.CumDistances(shp.Points)
		for id, p := range ix.stations {
			if _, onLine := ix.order[id]; !onLine && len(line.Stations) > 0 {
				continue
			}
			ix.stIdx[id] = shape.NearestIndex(ix.points, p)
		}
		for id, i := range precomputed {
			if i >= 0 && i < len(ix.points) {
				ix.stIdx[id] = i
			}
		}
	}
	return ix
}

func (ix *Index) Line() Line { return ix.line }

// Points returns the polyline. Callers must not modify it.
func (ix *Index) Points() []geo.Point { return ix.points }

// Length is the total arc length of the polyline in meters.
func (ix *Index) Length() float64 {
	if len(ix.cum) == 0 {
		return 0
	}
	return ix.cum[len(ix.cum)-1]
}

func (ix *Index) StationIndex(id string) (int, bool) {
	i, ok := ix.stIdx[id]
	return i, ok
}

func (ix *Index) StationCoord(id string) (geo.Point, bool) {
	p, ok := ix.stations[id]
	return p, ok
}

// IsForward reports whether direction runs towards increasing station order.
func (ix *Index) IsForward(direction string) bool { return ix.forward[direction] }

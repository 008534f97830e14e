package shape

import (
	"fmt"

	"railtrack/internal/geo"
)

// Subline is one fragment of a line's geometry. It is either a Primary
// fragment carrying its own coordinates or a Reference into another line's
// geometry.
type Subline interface {
	// Own returns the coordinates stored with the fragment itself.
	Own() []geo.Point
	// Resolve returns the coordinates the fragment stands for.
	Resolve(refs ReferenceIndex) []geo.Point
	isSubline()
}

// Primary is a fragment with its own geometry.
type Primary struct {
	Coords []geo.Point
}

// Reference borrows geometry from another line. Hint holds at least the two
// endpoints of the borrowed stretch.
type Reference struct {
	Line string
	Hint []geo.Point
}

// A reference with more points than this is detailed enough to be used as-is.
const detailedHintPoints = 10

func (p Primary) Own() []geo.Point                   { return p.Coords }
func (p Primary) Resolve(ReferenceIndex) []geo.Point { return p.Coords }
func (Primary) isSubline()                           {}

func (r Reference) Own() []geo.Point { return r.Hint }

// Resolve slices the referenced line between the points nearest to the hint's
// endpoints, reversing when the hint runs against the referenced line. It
// falls back to the hint when the reference cannot be resolved.
func (r Reference) Resolve(refs ReferenceIndex) []geo.Point {
	if len(r.Hint) > detailedHintPoints {
		return r.Hint
	}
	ref, ok := refs[r.Line]
	if !ok || len(r.Hint) < 2 || len(ref) < 2 {
		return r.Hint
	}
	start := nearestIndex(ref, r.Hint[0])
	end := nearestIndex(ref, r.Hint[len(r.Hint)-1])
	if start <= end {
		out := make([]geo.Point, end-start+1)
		copy(out, ref[start:end+1])
		return out
	}
	out := make([]geo.Point, 0, start-end+1)
	for i := start; i >= end; i-- {
		out = append(out, ref[i])
	}
	return out
}

func (Reference) isSubline() {}

// NearestIndex returns the index of the point in pts closest to p by squared
// planar distance. First match wins on ties.
func NearestIndex(pts []geo.Point, p geo.Point) int { return nearestIndex(pts, p) }

func nearestIndex(pts []geo.Point, p geo.Point) int {
	best := 0
	bestD := -1.0
	for i, c := range pts {
		d := geo.SquaredPlanar(c, p)
		if bestD < 0 || d < bestD {
			bestD = d
			best = i
		}
	}
	return best
}

// Kinds used by the geometry store.
const (
	KindMain = "main"
	KindSub  = "sub"
)

// ParseSubline builds a Subline from the stored kind, coordinates and
// referenced line. A sub fragment without a referenced line keeps its own
// geometry.
func ParseSubline(kind string, coords []geo.Point, refLine string) (Subline, error) {
	switch kind {
	case KindMain, "":
		return Primary{Coords: coords}, nil
	case KindSub:
		if refLine == "" {
			return Primary{Coords: coords}, nil
		}
		return Reference{Line: refLine, Hint: coords}, nil
	default:
		return nil, fmt.Errorf("unknown subline kind %q", kind)
	}
}

// ReferenceIndex maps a line identifier to the concatenation of all its
// fragments' own coordinates.
type ReferenceIndex map[string][]geo.Point

// BuildReferenceIndex concatenates each line's fragments in input order.
// Lines without any coordinates are omitted.
func BuildReferenceIndex(lines map[string][]Subline) ReferenceIndex {
	idx := make(ReferenceIndex, len(lines))
	for id, frags := range lines {
		var all []geo.Point
		for _, f := range frags {
			all = append(all, f.Own()...)
		}
		if len(all) > 0 {
			idx[id] = all
		}
	}
	return idx
}

package shape

import (
	"errors"
	"math"

	"railtrack/internal/geo"
)

// ErrShapeUnavailable is returned when neither assembly strategy yields points.
var ErrShapeUnavailable = errors.New("shape unavailable")

// Method names the strategy that produced a shape.
type Method string

const (
	MethodGraph  Method = "graph"
	MethodGreedy Method = "greedy"
)

// Shape is a line's assembled polyline. It is not modified after Build.
type Shape struct {
	Points []geo.Point
	Loop   bool
}

// 1e-7 degrees is roughly 1 cm.
const keyScale = 1e7

type coordKey struct{ x, y int64 }

func keyOf(p geo.Point) coordKey {
	return coordKey{int64(math.Round(p.Lon * keyScale)), int64(math.Round(p.Lat * keyScale))}
}

// Assemble orders the fragments by endpoint connectivity and concatenates them
// into one polyline. It returns nil when no fragment resolves to at least two
// points.
func Assemble(fragments []Subline, loop bool, refs ReferenceIndex) []geo.Point {
	var valid [][]geo.Point
	for _, f := range fragments {
		if f == nil {
			continue
		}
		if c := f.Resolve(refs); len(c) >= 2 {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	starts := make(map[coordKey][]int, len(valid))
	for i, c := range valid {
		k := keyOf(c[0])
		starts[k] = append(starts[k], i)
	}
	adj := make([][]int, len(valid))
	inDegree := make([]int, len(valid))
	for i, c := range valid {
		for _, j := range starts[keyOf(c[len(c)-1])] {
			if i != j {
				adj[i] = append(adj[i], j)
				inDegree[j]++
			}
		}
	}

	start := 0
	if !loop {
		for i := range valid {
			if inDegree[i] == 0 {
				start = i
				break
			}
		}
	}

	visited := make([]bool, len(valid))
	order := make([]int, 0, len(valid))
	walk := func(root int) {
		stack := []int{root}
		for len(stack) > 0 {
			n := len(stack) - 1
			i := stack[n]
			stack = stack[:n]
			if visited[i] {
				continue
			}
			visited[i] = true
			order = append(order, i)
			// reversed so the first neighbour is explored first
			for k := len(adj[i]) - 1; k >= 0; k-- {
				if !visited[adj[i][k]] {
					stack = append(stack, adj[i][k])
				}
			}
		}
	}
	walk(start)
	for i := range valid {
		if !visited[i] {
			walk(i)
		}
	}

	var merged []geo.Point
	for _, i := range order {
		merged = appendJoined(merged, valid[i])
	}
	return merged
}

// appendJoined appends c to dst, dropping c's first point when it repeats the
// last point of dst.
func appendJoined(dst, c []geo.Point) []geo.Point {
	if len(dst) > 0 && len(c) > 0 && keyOf(c[0]) == keyOf(dst[len(dst)-1]) {
		return append(dst, c[1:]...)
	}
	return append(dst, c...)
}

// Stitch greedily chains fragments by nearest endpoint, starting from the
// first one and reversing a fragment when its end is the closer endpoint. It
// works on each fragment's own coordinates.
func Stitch(fragments []Subline) []geo.Point {
	var valid [][]geo.Point
	for _, f := range fragments {
		if f == nil {
			continue
		}
		if c := f.Own(); len(c) > 0 {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	used := make([]bool, len(valid))
	used[0] = true
	result := append([]geo.Point(nil), valid[0]...)
	for range len(valid) - 1 {
		tail := result[len(result)-1]
		best, bestD, reversed := -1, math.Inf(1), false
		for i, c := range valid {
			if used[i] {
				continue
			}
			if d := geo.SquaredPlanar(c[0], tail); d < bestD {
				best, bestD, reversed = i, d, false
			}
			if d := geo.SquaredPlanar(c[len(c)-1], tail); d < bestD {
				best, bestD, reversed = i, d, true
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		c := valid[best]
		if reversed {
			c = reversedCopy(c)
		}
		result = appendJoined(result, c)
	}
	return result
}

func reversedCopy(c []geo.Point) []geo.Point {
	out := make([]geo.Point, len(c))
	for i, p := range c {
		out[len(c)-1-i] = p
	}
	return out
}

// Build assembles a line shape, falling back to greedy stitching when the
// connectivity pass yields nothing.
func Build(fragments []Subline, loop bool, refs ReferenceIndex) (*Shape, Method, error) {
	if pts := Assemble(fragments, loop, refs); len(pts) > 0 {
		return &Shape{Points: pts, Loop: loop}, MethodGraph, nil
	}
	if pts := Stitch(fragments); len(pts) > 0 {
		return &Shape{Points: pts, Loop: loop}, MethodGreedy, nil
	}
	return nil, "", ErrShapeUnavailable
}

package geo

import "math"

const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

func toRad(d float64) float64 { return d * math.Pi / 180 }

// Haversine distance in meters
func Haversine(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// Bearing returns the initial great-circle heading from a to b in [0, 360).
func Bearing(a, b Point) float64 {
	y := math.Sin(toRad(b.Lon-a.Lon)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lon-a.Lon))
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	if brng >= 360 {
		brng -= 360
	}
	return brng
}

// SquaredPlanar is the squared euclidean distance in raw degrees. Only good for
// ranking nearby candidates.
func SquaredPlanar(a, b Point) float64 {
	dx := a.Lon - b.Lon
	dy := a.Lat - b.Lat
	return dx*dx + dy*dy
}

// ProjectOntoSegment projects p onto the segment a-b in planar degree space and
// returns the foot of the perpendicular and the clamped ratio t along a-b.
func ProjectOntoSegment(p, a, b Point) (Point, float64) {
	dx := b.Lon - a.Lon
	dy := b.Lat - a.Lat
	segLen2 := dx*dx + dy*dy
	if segLen2 == 0 {
		return a, 0
	}
	t := ((p.Lon-a.Lon)*dx + (p.Lat-a.Lat)*dy) / segLen2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return Point{Lon: a.Lon + t*dx, Lat: a.Lat + t*dy}, t
}

// CumDistances returns the running haversine length at every vertex of pts.
func CumDistances(pts []Point) []float64 {
	n := len(pts)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Haversine(pts[i-1], pts[i])
		cum[i] = sum
	}
	return cum
}

// Lerp interpolates linearly between a and b.
func Lerp(a, b Point, frac float64) Point {
	return Point{
		Lon: a.Lon + (b.Lon-a.Lon)*frac,
		Lat: a.Lat + (b.Lat-a.Lat)*frac,
	}
}

// AlongPath walks pts by arc length and returns the point at the given fraction
// of the total length together with the heading of the segment it falls on.
func AlongPath(pts []Point, cum []float64, frac float64) (Point, float64) {
	n := len(pts)
	if n == 0 {
		return Point{}, 0
	}
	if n == 1 {
		return pts[0], 0
	}
	if len(cum) != n {
		cum = CumDistances(pts)
	}
	total := cum[n-1]
	if total == 0 {
		return pts[0], 0
	}
	if frac <= 0 {
		return pts[0], Bearing(pts[0], pts[1])
	}
	if frac >= 1 {
		return pts[n-1], Bearing(pts[n-2], pts[n-1])
	}
	dist := frac * total
	i := 1
	for i < n-1 && cum[i] < dist {
		i++
	}
	d0, d1 := cum[i-1], cum[i]
	p0, p1 := pts[i-1], pts[i]
	if d1 == d0 {
		return p0, Bearing(p0, p1)
	}
	return Lerp(p0, p1, (dist-d0)/(d1-d0)), Bearing(p0, p1)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

package track

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railtrack/internal/geo"
	"railtrack/internal/schedule"
	"railtrack/internal/shape"
)

func straightLine(t *testing.T) *Index {
	t.Helper()
	var pts []geo.Point
	for i := 0; i < 5; i++ {
		pts = append(pts, geo.Point{Lon: 139.70 + 0.01*float64(i), Lat: 35.6})
	}
	line := Line{ID: "Test.Straight", Stations: []string{"A", "B", "C"}}
	stations := map[string]geo.Point{"A": pts[0], "B": pts[2], "C": pts[4]}
	return NewIndex(line, &shape.Shape{Points: pts}, stations, nil)
}

func ring(t *testing.T) *Index {
	t.Helper()
	pts := []geo.Point{
		{Lon: 0, Lat: 0}, {Lon: 0.01, Lat: 0}, {Lon: 0.02, Lat: 0}, {Lon: 0.02, Lat: 0.01},
		{Lon: 0.02, Lat: 0.02}, {Lon: 0.01, Lat: 0.02}, {Lon: 0, Lat: 0.02}, {Lon: 0, Lat: 0.01},
	}
	line := Line{ID: "Test.Ring", Loop: true, Stations: []string{"S0", "S1", "S2", "S3"}}
	stations := map[string]geo.Point{"S0": pts[0], "S1": pts[2], "S2": pts[4], "S3": pts[6]}
	return NewIndex(line, &shape.Shape{Points: pts, Loop: true}, stations, nil)
}

func TestNewIndexSnapsStations(t *testing.T) {
	ix := straightLine(t)
	for id, want := range map[string]int{"A": 0, "B": 2, "C": 4} {
		got, ok := ix.StationIndex(id)
		require.True(t, ok, id)
		assert.Equal(t, want, got, id)
	}
	assert.True(t, ix.IsForward("Outbound"))
	assert.False(t, ix.IsForward("Inbound"))
	assert.Greater(t, ix.Length(), 3000.0)

	custom := NewIndex(Line{ID: "X", Forward: []string{"Up"}}, nil, nil, map[string]int{"A": 3})
	assert.True(t, custom.IsForward("Up"))
	assert.False(t, custom.IsForward("Outbound"))
	_, ok := custom.StationIndex("A")
	assert.False(t, ok, "precomputed index without a polyline is ignored")
}

func TestNewIndexPrecomputedOverrides(t *testing.T) {
	pts := []geo.Point{{Lon: 0, Lat: 0}, {Lon: 1, Lat: 0}, {Lon: 2, Lat: 0}}
	ix := NewIndex(Line{ID: "X", Stations: []string{"A"}}, &shape.Shape{Points: pts},
		map[string]geo.Point{"A": {Lon: 0, Lat: 0}}, map[string]int{"A": 2, "Z": 9})
	i, ok := ix.StationIndex("A")
	require.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = ix.StationIndex("Z")
	assert.False(t, ok)
}

func TestSegmentPath(t *testing.T) {
	ix := straightLine(t)
	pts := ix.Points()

	t.Run("forward", func(t *testing.T) {
		got := ix.SegmentPath("A", "B", "Outbound")
		if diff := cmp.Diff(pts[0:3], got); diff != "" {
			t.Fatalf("SegmentPath mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("reverse", func(t *testing.T) {
		got := ix.SegmentPath("B", "A", "Inbound")
		if diff := cmp.Diff([]geo.Point{pts[2], pts[1], pts[0]}, got); diff != "" {
			t.Fatalf("SegmentPath mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("index reversed relative to direction", func(t *testing.T) {
		got := ix.SegmentPath("B", "A", "Outbound")
		if diff := cmp.Diff([]geo.Point{pts[2], pts[1], pts[0]}, got); diff != "" {
			t.Fatalf("SegmentPath mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("unknown station", func(t *testing.T) {
		assert.Nil(t, ix.SegmentPath("A", "Nowhere", "Outbound"))
	})
}

func TestSegmentPathLoop(t *testing.T) {
	ix := ring(t)
	pts := ix.Points()

	wrap := ix.SegmentPath("S3", "S0", "OuterLoop")
	if diff := cmp.Diff([]geo.Point{pts[6], pts[7], pts[0]}, wrap); diff != "" {
		t.Fatalf("wrap mismatch (-want +got):\n%s", diff)
	}
	back := ix.SegmentPath("S0", "S3", "InnerLoop")
	if diff := cmp.Diff([]geo.Point{pts[0], pts[7], pts[6]}, back); diff != "" {
		t.Fatalf("reverse wrap mismatch (-want +got):\n%s", diff)
	}
	// The nominal forward arc from S0 to S3 goes most of the way round.
	short := ix.SegmentPath("S0", "S3", "OuterLoop")
	assert.Len(t, short, 3)
}

func TestSegmentPathLoopComparesLength(t *testing.T) {
	// Two vertices on the long side, a densely sampled diagonal on the short one.
	pts := []geo.Point{{Lon: 0, Lat: 0}, {Lon: 0.03, Lat: 0}, {Lon: 0.03, Lat: 0.01}}
	for k := 1; k <= 6; k++ {
		f := float64(k) / 7
		pts = append(pts, geo.Point{Lon: 0.03 - 0.03*f, Lat: 0.01 - 0.01*f})
	}
	line := Line{ID: "Test.Uneven", Loop: true, Stations: []string{"S0", "S1"}}
	ix := NewIndex(line, &shape.Shape{Points: pts, Loop: true},
		map[string]geo.Point{"S0": pts[0], "S1": pts[2]}, nil)

	want := []geo.Point{pts[0], pts[8], pts[7], pts[6], pts[5], pts[4], pts[3], pts[2]}
	got := ix.SegmentPath("S0", "S1", "OuterLoop")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("SegmentPath mismatch (-want +got):\n%s", diff)
	}
}

func TestLocate(t *testing.T) {
	ix := straightLine(t)
	pts := ix.Points()

	loc, ok := ix.Locate(schedule.Running, 0.5, "A", "B", "Outbound")
	require.True(t, ok)
	assert.True(t, loc.OnTrack)
	assert.InDelta(t, pts[1].Lon, loc.Point.Lon, 1e-9)
	assert.InDelta(t, pts[1].Lat, loc.Point.Lat, 1e-9)
	assert.InDelta(t, 90, loc.Bearing, 0.1)

	loc, ok = ix.Locate(schedule.Running, 0.5, "B", "A", "Inbound")
	require.True(t, ok)
	assert.InDelta(t, 270, loc.Bearing, 0.1)

	loc, ok = ix.Locate(schedule.Stopped, 0, "B", "B", "Outbound")
	require.True(t, ok)
	assert.Equal(t, pts[2], loc.Point)

	_, ok = ix.Locate(schedule.Unknown, 0, "A", "B", "Outbound")
	assert.False(t, ok)
	_, ok = ix.Locate(schedule.Stopped, 0, "Nowhere", "Other", "Outbound")
	assert.False(t, ok)
}

func TestLocateFallsBackToStationLine(t *testing.T) {
	a := geo.Point{Lon: 139.0, Lat: 35.0}
	b := geo.Point{Lon: 139.2, Lat: 35.0}
	ix := NewIndex(Line{ID: "NoShape"}, nil, map[string]geo.Point{"A": a, "B": b}, nil)

	loc, ok := ix.Locate(schedule.Running, 0.25, "A", "B", "Outbound")
	require.True(t, ok)
	assert.False(t, loc.OnTrack)
	assert.InDelta(t, 139.05, loc.Point.Lon, 1e-9)
	assert.InDelta(t, 35.0, loc.Point.Lat, 1e-9)

	// one end unknown: the known station stands in
	loc, ok = ix.Locate(schedule.Running, 0.25, "A", "Missing", "Outbound")
	require.True(t, ok)
	assert.Equal(t, a, loc.Point)
	assert.False(t, loc.OnTrack)
	loc, ok = ix.Locate(schedule.Running, 0.25, "Missing", "B", "Outbound")
	require.True(t, ok)
	assert.Equal(t, b, loc.Point)

	_, ok = ix.Locate(schedule.Running, 0.25, "Missing", "Gone", "Outbound")
	assert.False(t, ok)
}

func TestReconcile(t *testing.T) {
	ix := straightLine(t)
	pts := ix.Points()

	t.Run("on implied segment", func(t *testing.T) {
		fix := geo.Point{Lon: pts[1].Lon, Lat: pts[1].Lat + 0.0005}
		m, ok := ix.Reconcile(fix, "A", "B", "Outbound", 0)
		require.True(t, ok)
		assert.Equal(t, "A", m.From)
		assert.Equal(t, "B", m.To)
		assert.False(t, m.Neighbor)
		assert.InDelta(t, 0.5, m.Progress, 1e-6)
		assert.InDelta(t, 55.6, m.DistanceM, 1)
	})
	t.Run("on next segment", func(t *testing.T) {
		fix := geo.Point{Lon: pts[3].Lon, Lat: pts[3].Lat + 0.0005}
		m, ok := ix.Reconcile(fix, "A", "B", "Outbound", 0)
		require.True(t, ok)
		assert.Equal(t, "B", m.From)
		assert.Equal(t, "C", m.To)
		assert.True(t, m.Neighbor)
		assert.InDelta(t, 0.5, m.Progress, 1e-6)
	})
	t.Run("tie favours implied segment", func(t *testing.T) {
		m, ok := ix.Reconcile(pts[2], "A", "B", "Outbound", 0)
		require.True(t, ok)
		assert.False(t, m.Neighbor)
		assert.InDelta(t, 1.0, m.Progress, 1e-9)
	})
	t.Run("too far", func(t *testing.T) {
		fix := geo.Point{Lon: pts[1].Lon, Lat: pts[1].Lat + 0.01}
		_, ok := ix.Reconcile(fix, "A", "B", "Outbound", 500)
		assert.False(t, ok)
	})
	t.Run("custom tolerance", func(t *testing.T) {
		fix := geo.Point{Lon: pts[1].Lon, Lat: pts[1].Lat + 0.0005}
		_, ok := ix.Reconcile(fix, "A", "B", "Outbound", 10)
		assert.False(t, ok)
	})
}

func TestCandidateSegments(t *testing.T) {
	ix := straightLine(t)
	assert.Equal(t, []segment{{"A", "B"}, {"B", "C"}}, ix.candidateSegments("A", "B", "Outbound"))
	assert.Equal(t, []segment{{"C", "B"}, {"B", "A"}}, ix.candidateSegments("C", "B", "Inbound"))
	assert.Equal(t, []segment{{"A", "X"}}, ix.candidateSegments("A", "X", "Outbound"))

	r := ring(t)
	assert.Equal(t, []segment{{"S0", "S1"}, {"S3", "S0"}, {"S1", "S2"}}, r.candidateSegments("S0", "S1", "OuterLoop"))
	assert.Equal(t, []segment{{"S0", "S3"}, {"S1", "S0"}, {"S3", "S2"}}, r.candidateSegments("S0", "S3", "InnerLoop"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Lines())
	_, ok := r.Get("Test.Straight")
	assert.False(t, ok)

	ix := straightLine(t)
	n := r.Swap(map[string]*Index{"Test.Straight": ix, "Nil": nil, "Test.Ring": ring(t)})
	assert.Equal(t, 2, n)
	got, ok := r.Get("Test.Straight")
	require.True(t, ok)
	assert.Same(t, ix, got)
	assert.Equal(t, []string{"Test.Ring", "Test.Straight"}, r.Lines())

	r.Swap(nil)
	assert.Empty(t, r.Lines())
}

package shape

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railtrack/internal/geo"
)

func pts(xy ...float64) []geo.Point {
	out := make([]geo.Point, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		out = append(out, geo.Point{Lon: xy[i], Lat: xy[i+1]})
	}
	return out
}

func TestAssembleSimpleMerge(t *testing.T) {
	frags := []Subline{
		Primary{Coords: pts(139.0, 35.0, 139.1, 35.1)},
		Primary{Coords: pts(139.1, 35.1, 139.2, 35.2)},
	}
	got := Assemble(frags, false, nil)
	want := pts(139.0, 35.0, 139.1, 35.1, 139.2, 35.2)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Assemble mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleOrdersByConnectivity(t *testing.T) {
	// Out of order input: B then A, where A ends where B starts.
	frags := []Subline{
		Primary{Coords: pts(1, 1, 2, 2)},
		Primary{Coords: pts(0, 0, 1, 1)},
	}
	got := Assemble(frags, false, nil)
	if diff := cmp.Diff(pts(0, 0, 1, 1, 2, 2), got); diff != "" {
		t.Fatalf("Assemble mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleKeepsDisconnectedFragments(t *testing.T) {
	frags := []Subline{
		Primary{Coords: pts(139.0, 35.0, 139.1, 35.1)},
		Primary{Coords: pts(139.5, 35.5, 139.6, 35.6)},
	}
	got := Assemble(frags, false, nil)
	require.Len(t, got, 4)
	assert.Equal(t, frags[0].Own()[0], got[0])
	assert.Equal(t, frags[1].Own()[1], got[3])
}

func TestAssembleLoopStartsAtFirstFragment(t *testing.T) {
	// Closed ring split into three arcs, the second one listed first.
	frags := []Subline{
		Primary{Coords: pts(1, 0, 1, 1)},
		Primary{Coords: pts(1, 1, 0, 0)},
		Primary{Coords: pts(0, 0, 1, 0)},
	}
	got := Assemble(frags, true, nil)
	want := pts(1, 0, 1, 1, 0, 0, 1, 0)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Assemble mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleDropsDegenerateFragments(t *testing.T) {
	frags := []Subline{
		Primary{Coords: pts(5, 5)},
		nil,
		Primary{Coords: pts(0, 0, 1, 1)},
	}
	got := Assemble(frags, false, nil)
	assert.Equal(t, pts(0, 0, 1, 1), got)
	assert.Nil(t, Assemble([]Subline{Primary{Coords: pts(1, 1)}}, false, nil))
	assert.Nil(t, Assemble(nil, false, nil))
}

func TestReferenceResolve(t *testing.T) {
	refs := ReferenceIndex{
		"Base.Trunk": pts(139.0, 35.0, 139.1, 35.1, 139.2, 35.2),
	}
	t.Run("forward slice", func(t *testing.T) {
		r := Reference{Line: "Base.Trunk", Hint: pts(139.1, 35.1, 139.2, 35.2)}
		got := r.Resolve(refs)
		if diff := cmp.Diff(pts(139.1, 35.1, 139.2, 35.2), got); diff != "" {
			t.Fatalf("Resolve mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("reversed slice", func(t *testing.T) {
		r := Reference{Line: "Base.Trunk", Hint: pts(139.2, 35.2, 139.0, 35.0)}
		got := r.Resolve(refs)
		if diff := cmp.Diff(pts(139.2, 35.2, 139.1, 35.1, 139.0, 35.0), got); diff != "" {
			t.Fatalf("Resolve mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("endpoints match nearest points", func(t *testing.T) {
		r := Reference{Line: "Base.Trunk", Hint: pts(139.001, 35.0, 139.099, 35.1)}
		got := r.Resolve(refs)
		require.Len(t, got, 2)
		assert.Equal(t, refs["Base.Trunk"][0], got[0])
		assert.Equal(t, refs["Base.Trunk"][1], got[1])
	})
	t.Run("missing reference falls back to hint", func(t *testing.T) {
		r := Reference{Line: "Nope", Hint: pts(1, 1, 2, 2)}
		assert.Equal(t, r.Hint, r.Resolve(refs))
	})
	t.Run("detailed hint used as-is", func(t *testing.T) {
		var xy []float64
		for i := 0; i < 11; i++ {
			xy = append(xy, 139.0+float64(i)*0.01, 35.0)
		}
		r := Reference{Line: "Base.Trunk", Hint: pts(xy...)}
		assert.Equal(t, r.Hint, r.Resolve(refs))
	})
}

func TestAssembleWithReference(t *testing.T) {
	lines := map[string][]Subline{
		"Base.Trunk": {Primary{Coords: pts(139.0, 35.0, 139.1, 35.1, 139.2, 35.2, 139.3, 35.3)}},
	}
	refs := BuildReferenceIndex(lines)
	frags := []Subline{
		Primary{Coords: pts(138.9, 34.9, 139.1, 35.1)},
		Reference{Line: "Base.Trunk", Hint: pts(139.1, 35.1, 139.3, 35.3)},
	}
	got := Assemble(frags, false, refs)
	want := pts(138.9, 34.9, 139.1, 35.1, 139.2, 35.2, 139.3, 35.3)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Assemble mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildReferenceIndex(t *testing.T) {
	idx := BuildReferenceIndex(map[string][]Subline{
		"A":     {Primary{Coords: pts(0, 0, 1, 1)}, Reference{Line: "B", Hint: pts(1, 1, 2, 2)}},
		"Empty": {Primary{}},
	})
	assert.Equal(t, pts(0, 0, 1, 1, 1, 1, 2, 2), idx["A"])
	_, ok := idx["Empty"]
	assert.False(t, ok)
}

func TestStitch(t *testing.T) {
	frags := []Subline{
		Primary{Coords: pts(0, 0, 1, 0)},
		// Stored against the direction of travel.
		Primary{Coords: pts(3, 0, 2, 0)},
		Primary{Coords: pts(1, 0, 2, 0)},
	}
	got := Stitch(frags)
	want := pts(0, 0, 1, 0, 2, 0, 3, 0)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Stitch mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, Stitch(nil))
}

func TestBuild(t *testing.T) {
	shp, method, err := Build([]Subline{Primary{Coords: pts(0, 0, 1, 1)}}, true, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodGraph, method)
	assert.True(t, shp.Loop)
	assert.Len(t, shp.Points, 2)

	// Single-point fragments cannot be assembled but can be stitched.
	shp, method, err = Build([]Subline{Primary{Coords: pts(0, 0)}, Primary{Coords: pts(1, 1)}}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodGreedy, method)
	assert.Equal(t, pts(0, 0, 1, 1), shp.Points)

	_, _, err = Build(nil, false, nil)
	assert.ErrorIs(t, err, ErrShapeUnavailable)
}

func TestParseSubline(t *testing.T) {
	s, err := ParseSubline(KindSub, pts(0, 0, 1, 1), "Base.Trunk")
	require.NoError(t, err)
	assert.IsType(t, Reference{}, s)

	s, err = ParseSubline(KindSub, pts(0, 0, 1, 1), "")
	require.NoError(t, err)
	assert.IsType(t, Primary{}, s)

	s, err = ParseSubline(KindMain, pts(0, 0, 1, 1), "ignored")
	require.NoError(t, err)
	assert.IsType(t, Primary{}, s)

	_, err = ParseSubline("bogus", nil, "")
	assert.Error(t, err)
}

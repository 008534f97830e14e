package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"railtrack/internal/config"
	"railtrack/internal/db"
	"railtrack/internal/geo"
	mmetrics "railtrack/internal/metrics"
	"railtrack/internal/shape"
	"railtrack/internal/track"
)

// Catalog is the read side of the track store.
type Catalog interface {
	Railways(ctx context.Context) ([]db.Railway, error)
	Sublines(ctx context.Context) (map[string][]shape.Subline, int, error)
	Stations(ctx context.Context) ([]db.Station, error)
}

// ShapeCache keeps assembled polylines between reloads.
type ShapeCache interface {
	GetShape(ctx context.Context, dataset, lineID string) ([]geo.Point, bool, error)
	SetShape(ctx context.Context, dataset, lineID string, pts []geo.Point) error
}

// Loader builds the line indexes of the configured lines from the catalog.
type Loader struct {
	mu      sync.Mutex
	catalog Catalog
	dataset string

	lines   []config.LineConfig
	cache   ShapeCache
	metrics *mmetrics.Collector
	logger  *slog.Logger
}

// NewLoader returns a loader for lines; an empty list tracks every railway.
// cache and metrics may be nil.
func NewLoader(catalog Catalog, dataset string, lines []config.LineConfig, cache ShapeCache, metrics *mmetrics.Collector, logger *slog.Logger) *Loader {
	return &Loader{
		catalog: catalog,
		dataset: dataset,
		lines:   lines,
		cache:   cache,
		metrics: metrics,
		logger:  logger.With("component", "loader"),
	}
}

// Use points the loader at another dataset. The next Load reads from it.
func (l *Loader) Use(catalog Catalog, dataset string) {
	l.mu.Lock()
	l.catalog, l.dataset = catalog, dataset
	l.mu.Unlock()
}

func (l *Loader) Dataset() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dataset
}

// Load reads railways, fragments and stations and returns one index per
// tracked line. Lines whose shape cannot be assembled still get an index
// without a polyline.
func (l *Loader) Load(ctx context.Context) (map[string]*track.Index, error) {
	l.mu.Lock()
	catalog, dataset := l.catalog, l.dataset
	l.mu.Unlock()
	if catalog == nil {
		return nil, errors.New("loader has no catalog")
	}

	railways, err := catalog.Railways(ctx)
	if err != nil {
		return nil, fmt.Errorf("load railways: %w", err)
	}
	sublines, skipped, err := catalog.Sublines(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sublines: %w", err)
	}
	if skipped > 0 {
		l.logger.Warn("skipped undecodable sublines", "count", skipped)
	}
	stations, err := catalog.Stations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}

	coords := make(map[string]map[string]geo.Point)
	precomputed := make(map[string]map[string]int)
	for _, st := range stations {
		if coords[st.RailwayID] == nil {
			coords[st.RailwayID] = make(map[string]geo.Point)
		}
		coords[st.RailwayID][st.ID] = st.Point
		if st.TrackIndex >= 0 {
			if precomputed[st.RailwayID] == nil {
				precomputed[st.RailwayID] = make(map[string]int)
			}
			precomputed[st.RailwayID][st.ID] = st.TrackIndex
		}
	}

	refs := shape.BuildReferenceIndex(sublines)
	out := make(map[string]*track.Index)
	for _, line := range l.selectLines(railways) {
		shp := l.shapeFor(ctx, dataset, line, sublines[line.ID], refs)
		out[line.ID] = track.NewIndex(line, shp, coords[line.ID], precomputed[line.ID])
	}
	return out, nil
}

// selectLines applies the line file to the store's railways. Without a line
// file every railway is tracked with default direction tags.
func (l *Loader) selectLines(railways []db.Railway) []track.Line {
	byID := make(map[string]db.Railway, len(railways))
	for _, r := range railways {
		byID[r.ID] = r
	}
	if len(l.lines) == 0 {
		out := make([]track.Line, 0, len(railways))
		for _, r := range railways {
			out = append(out, track.Line{ID: r.ID, Name: r.Name, Loop: r.Loop, Stations: r.Stations})
		}
		return out
	}
	out := make([]track.Line, 0, len(l.lines))
	for _, lc := range l.lines {
		r, ok := byID[lc.ID]
		if !ok {
			l.logger.Warn("configured line not in store", "line", lc.ID)
			continue
		}
		line := track.Line{ID: r.ID, Name: r.Name, Loop: r.Loop, Stations: r.Stations, Forward: lc.Forward}
		if lc.Name != "" {
			line.Name = lc.Name
		}
		if lc.Loop != nil {
			line.Loop = *lc.Loop
		}
		out = append(out, line)
	}
	return out
}

func (l *Loader) shapeFor(ctx context.Context, dataset string, line track.Line, fragments []shape.Subline, refs shape.ReferenceIndex) *shape.Shape {
	if l.cache != nil {
		pts, ok, err := l.cache.GetShape(ctx, dataset, line.ID)
		if err != nil {
			l.logger.Warn("shape cache read failed", "line", line.ID, "error", err)
		}
		if ok && len(pts) > 0 {
			l.countBuild("cache")
			return &shape.Shape{Points: pts, Loop: line.Loop}
		}
	}

	shp, method, err := shape.Build(fragments, line.Loop, refs)
	if err != nil {
		l.countBuild("unavailable")
		l.logger.Warn("shape unavailable, using station coordinates", "line", line.ID, "fragments", len(fragments))
		return nil
	}
	l.countBuild(string(method))
	if method == shape.MethodGreedy {
		l.logger.Warn("fragment graph incomplete, stitched greedily", "line", line.ID)
	}
	l.logger.Debug("shape assembled", "line", line.ID, "method", method, "points", len(shp.Points))

	if l.cache != nil {
		if err := l.cache.SetShape(ctx, dataset, line.ID, shp.Points); err != nil {
			l.logger.Warn("shape cache write failed", "line", line.ID, "error", err)
		}
	}
	return shp
}

func (l *Loader) countBuild(method string) {
	if l.metrics != nil {
		l.metrics.ShapeBuilds.WithLabelValues(method).Inc()
	}
}

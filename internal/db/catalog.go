package db

import (
	"context"
	"database/sql"

	"railtrack/internal/schedule"
	"railtrack/internal/shape"
)

// Catalog reads the track and timetable tables of one dataset database.
type Catalog struct {
	DB *sql.DB
}

func (c Catalog) Railways(ctx context.Context) ([]Railway, error) {
	return FetchRailways(ctx, c.DB)
}

func (c Catalog) Sublines(ctx context.Context) (map[string][]shape.Subline, int, error) {
	return FetchSublines(ctx, c.DB)
}

func (c Catalog) Stations(ctx context.Context) ([]Station, error) {
	return FetchStations(ctx, c.DB)
}

func (c Catalog) Timetable(ctx context.Context, lineIDs []string) ([]schedule.TimetableTrain, error) {
	return FetchTimetable(ctx, c.DB, lineIDs)
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"railtrack/internal/geo"
	"railtrack/internal/schedule"
	"railtrack/internal/shape"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Railway is a line row with its ordered station list.
type Railway struct {
	ID       string
	Name     string
	Loop     bool
	Stations []string
}

// Station is a station row. TrackIndex is the optional precomputed vertex on
// the line's polyline, -1 when absent.
type Station struct {
	ID         string
	RailwayID  string
	Point      geo.Point
	TrackIndex int
}

func FetchRailways(ctx context.Context, db *sql.DB) ([]Railway, error) {
	q := `SELECT id, COALESCE(name, ''), COALESCE(loop, false), COALESCE(stations::text, '[]')
          FROM railways ORDER BY id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query railways: %w", err)
	}
	defer rows.Close()

	var out []Railway
	for rows.Next() {
		var r Railway
		var stations string
		if err := rows.Scan(&r.ID, &r.Name, &r.Loop, &stations); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stations), &r.Stations); err != nil {
			return nil, fmt.Errorf("railway %s stations: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchSublines returns every line's fragments in stored order, keyed by
// railway id. Rows that cannot be decoded are skipped and reported in the
// returned count.
func FetchSublines(ctx context.Context, db *sql.DB) (map[string][]shape.Subline, int, error) {
	q := `SELECT railway_id, COALESCE(kind, 'main'), COALESCE(coords::text, '[]'), COALESCE(ref_railway, '')
          FROM sublines ORDER BY railway_id, seq`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("query sublines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]shape.Subline)
	skipped := 0
	for rows.Next() {
		var railway, kind, coords, ref string
		if err := rows.Scan(&railway, &kind, &coords, &ref); err != nil {
			return nil, 0, err
		}
		pts, err := decodeCoords(coords)
		if err != nil {
			skipped++
			continue
		}
		s, err := shape.ParseSubline(kind, pts, ref)
		if err != nil {
			skipped++
			continue
		}
		out[railway] = append(out[railway], s)
	}
	return out, skipped, rows.Err()
}

func FetchStations(ctx context.Context, db *sql.DB) ([]Station, error) {
	cols, err := hasColumns(ctx, db, "public", "stations", "track_index")
	if err != nil {
		return nil, fmt.Errorf("introspect stations columns: %w", err)
	}
	q := `SELECT id, COALESCE(railway_id, ''), lon, lat, -1 FROM stations`
	if cols["track_index"] {
		q = `SELECT id, COALESCE(railway_id, ''), lon, lat, COALESCE(track_index, -1) FROM stations`
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var out []Station
	for rows.Next() {
		var s Station
		if err := rows.Scan(&s.ID, &s.RailwayID, &s.Point.Lon, &s.Point.Lat, &s.TrackIndex); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FetchTimetable loads the static timetable, optionally limited to lineIDs.
func FetchTimetable(ctx context.Context, db *sql.DB, lineIDs []string) ([]schedule.TimetableTrain, error) {
	q := `SELECT t.id, t.line_id, t.number, t.service_type, COALESCE(t.direction, ''), COALESCE(t.train_type, ''),
                 COALESCE(array_to_string(t.origin_stations, ','), ''), COALESCE(array_to_string(t.destination_stations, ','), ''),
                 s.station_id, COALESCE(s.arrival_time::text, ''), COALESCE(s.departure_time::text, '')
          FROM timetable_trains t
          JOIN timetable_stops s ON s.train_id = t.id
          WHERE cardinality($1::text[]) = 0 OR t.line_id = ANY($1)
          ORDER BY t.id, s.stop_order`
	if lineIDs == nil {
		lineIDs = []string{}
	}
	rows, err := db.QueryContext(ctx, q, lineIDs)
	if err != nil {
		return nil, fmt.Errorf("query timetable: %w", err)
	}
	defer rows.Close()

	var out []schedule.TimetableTrain
	for rows.Next() {
		var (
			id, line, number, svc, dir, typ string
			origin, dest                    string
			station, arr, dep               string
		)
		if err := rows.Scan(&id, &line, &number, &svc, &dir, &typ, &origin, &dest, &station, &arr, &dep); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, schedule.TimetableTrain{
				ID:          id,
				LineID:      line,
				Number:      number,
				ServiceType: schedule.ServiceType(svc),
				Direction:   dir,
				TrainType:   typ,
				Origin:      splitIDs(origin),
				Destination: splitIDs(dest),
			})
		}
		tt := &out[len(out)-1]
		tt.Stops = append(tt.Stops, schedule.StopTime{
			StationID:    station,
			ArrivalSec:   parseDaySeconds(arr),
			DepartureSec: parseDaySeconds(dep),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	fillTerminals(out)
	return out, nil
}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// fillTerminals defaults missing origins and destinations to the first and
// last stop.
func fillTerminals(trains []schedule.TimetableTrain) {
	for i := range trains {
		tt := &trains[i]
		if len(tt.Stops) == 0 {
			continue
		}
		if len(tt.Origin) == 0 {
			tt.Origin = []string{tt.Stops[0].StationID}
		}
		if len(tt.Destination) == 0 {
			tt.Destination = []string{tt.Stops[len(tt.Stops)-1].StationID}
		}
	}
}

func decodeCoords(s string) ([]geo.Point, error) {
	var raw [][]float64
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	pts := make([]geo.Point, 0, len(raw))
	for _, c := range raw {
		if len(c) < 2 {
			return nil, fmt.Errorf("coordinate with %d values", len(c))
		}
		pts = append(pts, geo.Point{Lon: c[0], Lat: c[1]})
	}
	return pts, nil
}

// parseDaySeconds parses HH:MM[:SS] possibly with hours >= 24. Empty or
// malformed input yields nil.
func parseDaySeconds(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return nil
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil
	}
	sec := 0
	if len(parts) > 2 {
		if sec, err = strconv.Atoi(parts[2]); err != nil {
			return nil
		}
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		return nil
	}
	return &total
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}

package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railtrack/internal/geo"
	"railtrack/internal/mock"
	"railtrack/internal/progress"
	"railtrack/internal/publisher"
	"railtrack/internal/schedule"
	"railtrack/internal/shape"
	"railtrack/internal/track"
)

var jst = time.FixedZone("JST", 9*3600)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func at(h, m int) time.Time { return time.Date(2026, 2, 12, h, m, 0, 0, jst) }

var (
	ptA = geo.Point{Lon: 139.700, Lat: 35.600}
	ptB = geo.Point{Lon: 139.710, Lat: 35.600}
	ptC = geo.Point{Lon: 139.720, Lat: 35.600}
)

func straightLine() *track.Index {
	var pts []geo.Point
	for i := 0; i <= 8; i++ {
		pts = append(pts, geo.Point{Lon: 139.700 + 0.0025*float64(i), Lat: 35.600})
	}
	line := track.Line{ID: "L", Name: "Test Line", Stations: []string{"A", "B", "C"}}
	return track.NewIndex(line, &shape.Shape{Points: pts},
		map[string]geo.Point{"A": ptA, "B": ptB, "C": ptC}, nil)
}

func stop(id string, seq int, arr, dep time.Time) schedule.StationStop {
	return schedule.StationStop{StationID: id, Sequence: seq, Arrival: arr, Departure: dep, Resolved: true}
}

func testSchedules() map[string]*schedule.TrainSchedule {
	return map[string]*schedule.TrainSchedule{
		"t1": {TripID: "t1", TrainNumber: "101", LineID: "L", Direction: "Outbound", Stops: []schedule.StationStop{
			stop("A", 1, time.Time{}, at(8, 0)),
			stop("B", 2, at(8, 10), at(8, 11)),
			stop("C", 3, at(8, 20), time.Time{}),
		}},
		"t2": {TripID: "t2", TrainNumber: "102", LineID: "L", Direction: "Outbound", Stops: []schedule.StationStop{
			stop("A", 1, time.Time{}, at(8, 0)),
		}},
		"t3": {TripID: "t3", TrainNumber: "103", LineID: "L", Direction: "Outbound", Stops: []schedule.StationStop{
			stop("A", 1, time.Time{}, at(10, 0)),
			stop("B", 2, at(10, 10), time.Time{}),
		}},
		"t4": {TripID: "t4", TrainNumber: "201", LineID: "L", Direction: "Inbound", Stops: []schedule.StationStop{
			stop("C", 1, time.Time{}, at(7, 55)),
			stop("B", 2, at(8, 4), at(8, 6)),
			stop("A", 3, at(8, 15), time.Time{}),
		}},
	}
}

type staticSource struct {
	schedules map[string]*schedule.TrainSchedule
	err       error
}

func (s staticSource) Schedules(context.Context, string, time.Time) (map[string]*schedule.TrainSchedule, error) {
	return s.schedules, s.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixMap map[string]schedule.VehicleFix

func (f fixMap) Get(tripID string) (schedule.VehicleFix, bool) {
	v, ok := f[tripID]
	return v, ok
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []publisher.PositionMessage
	fail bool
}

func (p *recordingPublisher) PublishPosition(_, _ string, msg publisher.PositionMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func newTestManager(src ScheduleSource, pub Publisher, fixes FixSource, now time.Time) *Manager {
	reg := track.NewRegistry()
	reg.Swap(map[string]*track.Index{"L": straightLine()})
	cfg := Config{PublishInterval: time.Second, Progress: progress.DefaultOptions(), MaxFixDistance: track.DefaultMaxDistance}
	return NewManager(reg, nil, src, pub, fixes, fixedClock{now}, cfg, nil, quietLogger())
}

func byTrip(snap *Snapshot) map[string]publisher.PositionMessage {
	out := make(map[string]publisher.PositionMessage, len(snap.Positions))
	for _, p := range snap.Positions {
		out[p.TripID] = p
	}
	return out
}

func TestRunCycleTimetableOnly(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(staticSource{schedules: testSchedules()}, pub, nil, at(8, 5))

	snap := m.RunCycle(context.Background())
	require.NotNil(t, snap)
	assert.Same(t, snap, m.Latest())
	_, err := uuid.Parse(snap.ID)
	require.NoError(t, err)

	require.Len(t, snap.Positions, 3)
	assert.Equal(t, 1, snap.Stats.Excluded)
	assert.Equal(t, 3, snap.Stats.Published)
	assert.Equal(t, map[string]int{"running": 1, "stopped": 1, "unknown": 1}, snap.Stats.Status)
	assert.Equal(t, map[string]int{"Inbound": 1, "Outbound": 2}, snap.Stats.Direction)

	// direction, then train number
	assert.Equal(t, []string{"t4", "t1", "t3"}, []string{snap.Positions[0].TripID, snap.Positions[1].TripID, snap.Positions[2].TripID})

	got := byTrip(snap)
	running := got["t1"]
	assert.Equal(t, "running", running.Status)
	assert.Equal(t, QualityTimetable, running.DataQuality)
	require.NotNil(t, running.Progress)
	assert.Equal(t, 0.5, *running.Progress)
	require.NotNil(t, running.Location.Longitude)
	assert.InDelta(t, 139.705, *running.Location.Longitude, 1e-6)
	assert.InDelta(t, 35.6, *running.Location.Latitude, 1e-6)
	assert.InDelta(t, 90, running.Location.Bearing, 0.5)
	assert.Equal(t, publisher.Segment{PrevSeq: 1, NextSeq: 2, PrevStationID: "A", NextStationID: "B"}, running.Segment)
	assert.Equal(t, at(8, 0).Unix(), running.Times.T0Departure)
	assert.Equal(t, at(8, 10).Unix(), running.Times.T1Arrival)
	assert.Equal(t, at(8, 5).Unix(), running.Times.NowTS)
	assert.Equal(t, snap.ID, running.Debug.SnapshotID)
	assert.Nil(t, running.Audit.FixLat)

	stopped := got["t4"]
	assert.Equal(t, "stopped", stopped.Status)
	require.NotNil(t, stopped.Location.Longitude)
	assert.Equal(t, 139.71, *stopped.Location.Longitude)
	assert.Equal(t, 0.0, *stopped.Progress)

	unknown := got["t3"]
	assert.Equal(t, "unknown", unknown.Status)
	assert.Nil(t, unknown.Location.Latitude)
	assert.Nil(t, unknown.Progress)

	assert.Len(t, pub.msgs, 3)
	for _, msg := range pub.msgs {
		assert.Equal(t, snap.ID, msg.Debug.SnapshotID)
	}
}

func TestRunCycleFixOnNeighborSegment(t *testing.T) {
	fixes := fixMap{"t1": {TripID: "t1", Lat: 35.6001, Lon: 139.7125, Status: schedule.InTransitTo}}
	m := newTestManager(staticSource{schedules: testSchedules()}, nil, fixes, at(8, 5))

	snap := m.RunCycle(context.Background())
	p := byTrip(snap)["t1"]
	assert.Equal(t, QualityGPS, p.DataQuality)
	assert.Equal(t, publisher.Segment{PrevSeq: 2, PrevStationID: "B", NextStationID: "C"}, p.Segment)
	require.NotNil(t, p.Progress)
	assert.InDelta(t, 0.25, *p.Progress, 1e-4)
	assert.InDelta(t, 139.7125, *p.Location.Longitude, 1e-6)
	assert.InDelta(t, 35.6, *p.Location.Latitude, 1e-6)

	// timetable estimate kept for audit
	assert.InDelta(t, 139.705, *p.Audit.TimetableLon, 1e-6)
	assert.Equal(t, 139.7125, *p.Audit.FixLon)
	require.NotNil(t, p.Audit.FixDistanceM)
	assert.Less(t, *p.Audit.FixDistanceM, 20.0)
	assert.Equal(t, map[string]int{"neighbor": 1}, snap.Stats.Reconciled)
}

func TestRunCycleFixRejected(t *testing.T) {
	fixes := fixMap{
		"t1": {TripID: "t1", Lat: 35.7, Lon: 139.705},
		// stopped trains are not moved by fixes
		"t4": {TripID: "t4", Lat: 35.6, Lon: 139.715},
	}
	m := newTestManager(staticSource{schedules: testSchedules()}, nil, fixes, at(8, 5))

	snap := m.RunCycle(context.Background())
	got := byTrip(snap)
	p := got["t1"]
	assert.Equal(t, QualityTimetable, p.DataQuality)
	assert.InDelta(t, 139.705, *p.Location.Longitude, 1e-6)
	assert.Equal(t, 35.7, *p.Audit.FixLat)
	assert.Nil(t, p.Audit.FixDistanceM)
	assert.Equal(t, map[string]int{"rejected": 1}, snap.Stats.Reconciled)

	assert.Equal(t, 139.71, *got["t4"].Location.Longitude)
	assert.Equal(t, QualityTimetable, got["t4"].DataQuality)
}

func TestRunCycleSourceError(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(staticSource{err: errors.New("feed down")}, pub, nil, at(8, 5))

	snap := m.RunCycle(context.Background())
	assert.Equal(t, 1, snap.Stats.FailedLines)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, pub.msgs)
}

// lineSource fails one line and answers the others only after that failure.
type lineSource struct {
	failing   string
	schedules map[string]*schedule.TrainSchedule
	failed    chan struct{}
}

func (s lineSource) Schedules(ctx context.Context, line string, _ time.Time) (map[string]*schedule.TrainSchedule, error) {
	if line == s.failing {
		close(s.failed)
		return nil, errors.New("feed down")
	}
	<-s.failed
	time.Sleep(10 * time.Millisecond)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.schedules, nil
}

func TestRunCycleLineFailureLeavesOthersRunning(t *testing.T) {
	reg := track.NewRegistry()
	reg.Swap(map[string]*track.Index{"L": straightLine(), "Broken": straightLine()})
	cfg := Config{PublishInterval: time.Second, Progress: progress.DefaultOptions()}
	src := lineSource{failing: "Broken", schedules: testSchedules(), failed: make(chan struct{})}
	pub := &recordingPublisher{}
	m := NewManager(reg, nil, src, pub, nil, fixedClock{at(8, 5)}, cfg, nil, quietLogger())

	snap := m.RunCycle(context.Background())
	assert.Equal(t, 2, snap.Stats.Lines)
	assert.Equal(t, 1, snap.Stats.FailedLines)
	assert.Len(t, snap.Positions, 3)
	assert.Equal(t, 3, snap.Stats.Published)
}

func TestRunCyclePublishErrorsCounted(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	m := newTestManager(staticSource{schedules: testSchedules()}, pub, nil, at(8, 5))

	snap := m.RunCycle(context.Background())
	assert.Equal(t, 3, snap.Stats.PublishErrors)
	assert.Zero(t, snap.Stats.Published)
	assert.Len(t, snap.Positions, 3)
}

func TestRunCycleWithMockGenerator(t *testing.T) {
	gen := &mock.Generator{
		Trains: []schedule.TimetableTrain{{
			ID: "L.0800.Weekday", LineID: "L", Number: "0800", ServiceType: schedule.Weekday, Direction: "Outbound",
			Stops: []schedule.StopTime{
				{StationID: "A", DepartureSec: schedule.Seconds(8 * 3600)},
				{StationID: "B", ArrivalSec: schedule.Seconds(8*3600 + 600), DepartureSec: schedule.Seconds(8*3600 + 660)},
				{StationID: "C", ArrivalSec: schedule.Seconds(8*3600 + 1200)},
			},
		}},
		Location: jst,
		Window:   mock.DefaultWindow,
		Logger:   quietLogger(),
	}
	m := newTestManager(nil, nil, nil, at(8, 15))
	m.SetSource(gen)

	snap := m.RunCycle(context.Background())
	require.Len(t, snap.Positions, 1)
	p := snap.Positions[0]
	assert.Equal(t, "mock_L.0800.Weekday", p.TripID)
	assert.Equal(t, "running", p.Status)
	assert.Equal(t, "B", p.Segment.PrevStationID)
	assert.Equal(t, "C", p.Segment.NextStationID)
	assert.InDelta(t, 0.4444, *p.Progress, 1e-4)
}

func TestStartStop(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(staticSource{schedules: testSchedules()}, pub, nil, at(8, 5))
	m.cfg.PublishInterval = 10 * time.Millisecond

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.msgs) >= 6
	}, time.Second, 5*time.Millisecond)
	m.Stop()
	assert.NotNil(t, m.Latest())
}

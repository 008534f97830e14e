package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"railtrack/internal/clock"
	mmetrics "railtrack/internal/metrics"
	"railtrack/internal/progress"
	"railtrack/internal/publisher"
	"railtrack/internal/schedule"
	"railtrack/internal/track"
)

// ScheduleSource yields the schedules of one line at an instant.
type ScheduleSource interface {
	Schedules(ctx context.Context, line string, now time.Time) (map[string]*schedule.TrainSchedule, error)
}

type Publisher interface {
	PublishPosition(lineID, tripID string, msg publisher.PositionMessage) error
}

// FixSource returns the latest vehicle fix of a trip.
type FixSource interface {
	Get(tripID string) (schedule.VehicleFix, bool)
}

type Config struct {
	PublishInterval time.Duration
	ReloadInterval  time.Duration
	Progress        progress.Options
	// MaxFixDistance is the farthest a fix may lie from the track, in meters.
	MaxFixDistance float64
}

// Snapshot is the outcome of one cycle. Every position in it was computed
// against the same instant.
type Snapshot struct {
	ID        string
	Now       time.Time
	Positions []publisher.PositionMessage
	Stats     Stats
}

type Stats struct {
	Lines         int
	FailedLines   int
	Trains        int
	Excluded      int
	Unlocated     int
	Published     int
	PublishErrors int
	Status        map[string]int
	Direction     map[string]int
	Reconciled    map[string]int
}

type Manager struct {
	registry *track.Registry
	loader   *Loader
	pub      Publisher
	fixes    FixSource
	clock    clock.Clock
	cfg      Config
	metrics  *mmetrics.Collector
	logger   *slog.Logger

	srcMu  sync.RWMutex
	source ScheduleSource

	last atomic.Pointer[Snapshot]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires the cycle. loader, fixes and metrics may be nil.
func NewManager(registry *track.Registry, loader *Loader, source ScheduleSource, pub Publisher, fixes FixSource, clk clock.Clock, cfg Config, metrics *mmetrics.Collector, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Wall{}
	}
	return &Manager{
		registry: registry,
		loader:   loader,
		source:   source,
		pub:      pub,
		fixes:    fixes,
		clock:    clk,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "tracker"),
	}
}

// SetSource replaces the schedule source from the next cycle on.
func (m *Manager) SetSource(src ScheduleSource) {
	m.srcMu.Lock()
	m.source = src
	m.srcMu.Unlock()
}

func (m *Manager) scheduleSource() ScheduleSource {
	m.srcMu.RLock()
	defer m.srcMu.RUnlock()
	return m.source
}

// Latest returns the last completed snapshot, or nil before the first cycle.
func (m *Manager) Latest() *Snapshot { return m.last.Load() }

// Reload rebuilds every line index and swaps the registry in one step. On
// error the previous indexes stay in place.
func (m *Manager) Reload(ctx context.Context, reason string) error {
	if m.loader == nil {
		return errors.New("no loader configured")
	}
	start := time.Now()
	lines, err := m.loader.Load(ctx)
	if err != nil {
		return err
	}
	n := m.registry.Swap(lines)
	if m.metrics != nil {
		m.metrics.Reloads.WithLabelValues(reason).Inc()
		m.metrics.TrackedLines.Set(float64(n))
	}
	m.logger.Info("track indexes loaded", "reason", reason, "lines", n, "dataset", m.loader.Dataset(), "took", time.Since(start))
	return nil
}

// Start runs a cycle immediately and then every publish interval, and
// reloads the track indexes every reload interval, until ctx is done or Stop
// is called.
func (m *Manager) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.RunCycle(ctx)
		tick := time.NewTicker(m.cfg.PublishInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				m.RunCycle(ctx)
			}
		}
	}()

	if m.loader == nil || m.cfg.ReloadInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		tick := time.NewTicker(m.cfg.ReloadInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := m.Reload(ctx, "interval"); err != nil {
					m.logger.Error("track reload failed", "error", err)
				}
			}
		}
	}()
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

type lineCycle struct {
	positions  []publisher.PositionMessage
	excluded   int
	unlocated  int
	reconciled map[string]int
	failed     bool
}

// RunCycle computes and publishes the position of every train on every
// tracked line against a single reading of the clock.
func (m *Manager) RunCycle(ctx context.Context) *Snapshot {
	start := time.Now()
	now := m.clock.Now()
	snap := &Snapshot{
		ID:  uuid.NewString(),
		Now: now,
		Stats: Stats{
			Status:     make(map[string]int),
			Direction:  make(map[string]int),
			Reconciled: make(map[string]int),
		},
	}

	src := m.scheduleSource()
	lines := m.registry.Lines()
	cycles := make([]lineCycle, len(lines))
	// No group context: one failing line leaves the others running.
	var g errgroup.Group
	for i, lineID := range lines {
		g.Go(func() error {
			lc, err := m.trackLine(ctx, src, lineID, now, snap.ID)
			cycles[i] = lc
			return err
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("cycle incomplete", "error", err)
	}

	snap.Stats.Lines = len(lines)
	for _, lc := range cycles {
		if lc.failed {
			snap.Stats.FailedLines++
		}
		snap.Stats.Excluded += lc.excluded
		snap.Stats.Unlocated += lc.unlocated
		for k, v := range lc.reconciled {
			snap.Stats.Reconciled[k] += v
		}
		for _, p := range lc.positions {
			snap.Stats.Status[p.Status]++
			snap.Stats.Direction[p.Direction]++
		}
		snap.Positions = append(snap.Positions, lc.positions...)
	}
	snap.Stats.Trains = len(snap.Positions)

	if m.pub != nil && ctx.Err() == nil {
		for _, p := range snap.Positions {
			if err := m.pub.PublishPosition(p.LineID, p.TripID, p); err != nil {
				snap.Stats.PublishErrors++
				m.logger.Warn("publish failed", "line", p.LineID, "trip", p.TripID, "error", err)
				continue
			}
			snap.Stats.Published++
		}
	}

	m.last.Store(snap)
	m.observe(snap, time.Since(start))
	return snap
}

func (m *Manager) trackLine(ctx context.Context, src ScheduleSource, lineID string, now time.Time, snapshotID string) (lineCycle, error) {
	lc := lineCycle{reconciled: make(map[string]int)}
	ix, ok := m.registry.Get(lineID)
	if !ok || src == nil {
		return lc, nil
	}
	schedules, err := src.Schedules(ctx, lineID, now)
	if err != nil {
		m.logger.Error("schedules unavailable", "line", lineID, "error", err)
		lc.failed = true
		return lc, fmt.Errorf("line %s: %w", lineID, err)
	}

	var lookup progress.FixLookup
	if m.fixes != nil {
		lookup = m.fixes.Get
	}
	results := progress.EstimateAll(schedules, now, lookup, m.cfg.Progress)
	lc.excluded = countSchedules(schedules) - len(results)

	lc.positions = make([]publisher.PositionMessage, 0, len(results))
	for _, r := range results {
		var fix *schedule.VehicleFix
		if lookup != nil {
			if f, ok := lookup(r.TripID); ok {
				fix = &f
			}
		}
		msg, out := buildPosition(ix, r, fix, m.cfg.MaxFixDistance, snapshotID)
		if !out.located && (r.Status == schedule.Stopped || r.Status == schedule.Running) {
			lc.unlocated++
			m.logger.Debug("train not located", "line", lineID, "trip", r.TripID, "status", r.Status,
				"prev", r.PrevStationID, "next", r.NextStationID)
		}
		if out.reconcile != reconcileNone {
			lc.reconciled[out.reconcile]++
		}
		lc.positions = append(lc.positions, msg)
	}
	return lc, nil
}

func countSchedules(schedules map[string]*schedule.TrainSchedule) int {
	n := 0
	for _, s := range schedules {
		if s != nil {
			n++
		}
	}
	return n
}

type virtualClock interface {
	IsVirtual() bool
	Offset() time.Duration
}

func (m *Manager) observe(snap *Snapshot, took time.Duration) {
	st := snap.Stats
	m.logger.Info("cycle complete",
		"snapshot", snap.ID,
		"now", snap.Now.Format(time.RFC3339),
		"lines", st.Lines,
		"trains", st.Trains,
		"stopped", st.Status[string(schedule.Stopped)],
		"running", st.Status[string(schedule.Running)],
		"unknown", st.Status[string(schedule.Unknown)],
		"excluded", st.Excluded,
		"unlocated", st.Unlocated,
		"directions", st.Direction,
		"published", st.Published,
		"took", took,
	)
	if m.metrics == nil {
		return
	}
	for _, s := range []schedule.Status{schedule.Stopped, schedule.Running, schedule.Unknown} {
		m.metrics.Trains.WithLabelValues(string(s)).Set(float64(st.Status[string(s)]))
	}
	m.metrics.Excluded.Add(float64(st.Excluded))
	m.metrics.Unlocated.Add(float64(st.Unlocated))
	for result, n := range st.Reconciled {
		m.metrics.Reconciled.WithLabelValues(result).Add(float64(n))
	}
	m.metrics.CycleDuration.Observe(took.Seconds())
	if vc, ok := m.clock.(virtualClock); ok {
		if vc.IsVirtual() {
			m.metrics.VirtualMode.Set(1)
		} else {
			m.metrics.VirtualMode.Set(0)
		}
		m.metrics.ClockOffset.Set(vc.Offset().Seconds())
	}
}

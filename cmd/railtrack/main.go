package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "time/tzdata"

	"railtrack/internal/cache"
	"railtrack/internal/clock"
	"railtrack/internal/config"
	"railtrack/internal/db"
	"railtrack/internal/fixes"
	"railtrack/internal/metrics"
	"railtrack/internal/mock"
	"railtrack/internal/progress"
	"railtrack/internal/publisher"
	"railtrack/internal/track"
	"railtrack/internal/tracker"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("railtrack stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lines, err := config.LoadLines(cfg.LinesFile)
	if err != nil {
		return err
	}
	holidays, err := mock.ParseHolidays(cfg.Holidays)
	if err != nil {
		return err
	}

	sqlDB, dataset, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("using database", "db", dataset, "dataset", cfg.Dataset)
	w := &datasetWatcher{cfg: cfg, conn: sqlDB, current: dataset, logger: logger.With("component", "dataset")}
	defer func() { w.conn.Close() }()

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PublishInterval, cfg.TrackReloadInterval, cfg.LookAround)
		srv := mcol.Serve(cfg.MetricsAddr, logger.With("component", "metrics"))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	clk := clock.NewVirtual(nil, cfg.Location, logger)
	if cfg.VirtualTime != "" {
		if err := clk.SetVirtualTime(cfg.VirtualTime); err != nil {
			return fmt.Errorf("VIRTUAL_TIME: %w", err)
		}
	}

	pubM, fixM := wrapMetrics(mcol)
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.SubjectPrefix, cfg.LogPublishSubject, pubM, logger)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer pub.Close()

	store := fixes.New(cfg.FixStaleAfter)
	if cfg.FixSubject != "" {
		if _, err := publisher.SubscribeFixes(pub.Conn(), cfg.FixSubject, store, fixM, logger); err != nil {
			return err
		}
	} else {
		logger.Info("no FIX_SUBJECT set, publishing timetable positions only")
	}
	if cfg.ControlSubject != "" {
		if _, err := publisher.SubscribeControl(pub.Conn(), cfg.ControlSubject, clk, logger); err != nil {
			return err
		}
	}

	var shapes tracker.ShapeCache
	var redisCache *cache.RedisCache
	if cfg.RedisEnabled {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ShapeCacheTTL, logger)
		if err != nil {
			logger.Warn("redis unavailable, shapes will not be cached", "error", err)
		} else {
			defer rc.Close()
			shapes, redisCache = rc, rc
		}
	}

	catalog := db.Catalog{DB: sqlDB}
	gen, err := loadGenerator(ctx, catalog, lines, holidays, cfg, logger)
	if err != nil {
		return err
	}
	loader := tracker.NewLoader(catalog, dataset, lines, shapes, mcol, logger)
	mgr := tracker.NewManager(track.NewRegistry(), loader, gen, pub, store, clk, tracker.Config{
		PublishInterval: cfg.PublishInterval,
		ReloadInterval:  cfg.TrackReloadInterval,
		Progress:        progress.Options{OriginBuffer: cfg.OriginBuffer},
		MaxFixDistance:  cfg.ReconcileMaxDist,
	}, mcol, logger)
	if err := mgr.Reload(ctx, "startup"); err != nil {
		return err
	}
	mgr.Start(ctx)

	go pruneFixes(ctx, store, cfg.FixStaleAfter, logger)

	w.lines, w.holidays = lines, holidays
	w.loader, w.mgr, w.cache = loader, mgr, redisCache
	done := make(chan struct{})
	if cfg.Dataset != "" {
		go w.run(ctx, done)
	} else {
		close(done)
	}

	// Block until context cancelled
	<-ctx.Done()
	mgr.Stop()
	<-done
	return nil
}

// openDatabase connects to the latest import of DATASET, or to DATABASE_URL
// as-is when no dataset is configured.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, string, error) {
	if cfg.Dataset != "" {
		conn, name, err := db.OpenDataset(ctx, cfg.DatabaseURL, cfg.Dataset)
		if err != nil {
			return nil, "", fmt.Errorf("open dataset %q: %w", cfg.Dataset, err)
		}
		return conn, name, nil
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("db ping: %w", err)
	}
	return conn, databaseName(cfg.DatabaseURL), nil
}

func databaseName(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "default"
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		return name
	}
	return "default"
}

// loadGenerator reads the static timetable of the tracked lines into a mock
// schedule generator.
func loadGenerator(ctx context.Context, catalog db.Catalog, lines []config.LineConfig, holidays mock.Holidays, cfg *config.Config, logger *slog.Logger) (*mock.Generator, error) {
	var ids []string
	for _, l := range lines {
		ids = append(ids, l.ID)
	}
	trains, err := catalog.Timetable(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load timetable: %w", err)
	}
	logger.Info("timetable loaded", "trains", len(trains), "lines", len(ids))
	return &mock.Generator{
		Trains:   trains,
		Holidays: holidays,
		Location: cfg.Location,
		Window:   cfg.LookAround,
		Logger:   logger.With("component", "mock"),
	}, nil
}

func pruneFixes(ctx context.Context, store *fixes.Store, every time.Duration, logger *slog.Logger) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := store.PruneStale(); n > 0 {
				logger.Debug("pruned stale fixes", "count", n, "remaining", store.Len())
			}
		}
	}
}

// wrapMetrics adapts our Collector to the publisher's metrics interfaces.
func wrapMetrics(c *metrics.Collector) (publisher.PublisherMetrics, publisher.FixMetrics) {
	if c == nil {
		return nil, nil
	}
	pm := &pubMetrics{c: c}
	return pm, pm
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) FixReceivedInc()                { p.c.FixesReceived.Inc() }
func (p *pubMetrics) FixDroppedInc()                 { p.c.FixesDropped.Inc() }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

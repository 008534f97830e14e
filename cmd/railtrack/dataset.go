package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"railtrack/internal/cache"
	"railtrack/internal/config"
	"railtrack/internal/db"
	"railtrack/internal/mock"
	"railtrack/internal/tracker"
)

// datasetWatcher follows the latest import of the configured dataset and
// moves the tracker onto it when a newer database appears or the current one
// stops answering.
type datasetWatcher struct {
	cfg     *config.Config
	conn    *sql.DB
	current string

	lines    []config.LineConfig
	holidays mock.Holidays
	loader   *tracker.Loader
	mgr      *tracker.Manager
	cache    *cache.RedisCache
	logger   *slog.Logger
}

func (w *datasetWatcher) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.TrackReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		w.check(ctx)
	}
}

func (w *datasetWatcher) check(ctx context.Context) {
	// 1) Ping current DB; if it fails, force re-resolve
	needSwitch := false
	if err := db.Ping(ctx, w.conn); err != nil {
		w.logger.Warn("db ping failed, re-resolving dataset", "db", w.current, "error", err)
		needSwitch = true
	}

	// 2) Always re-resolve latest import over a short-lived catalogue connection
	meta, err := db.Open(w.cfg.DatabaseURL)
	if err != nil {
		w.logger.Warn("catalogue open failed", "error", err)
		return
	}
	name, err := db.ResolveLatestImportDBName(ctx, meta, w.cfg.Dataset)
	meta.Close()
	if err != nil {
		w.logger.Warn("resolve latest import failed", "error", err)
		return
	}
	if name != w.current {
		w.logger.Info("newer import detected", "from", w.current, "to", name)
		needSwitch = true
	}
	if !needSwitch {
		return
	}

	dsn, err := db.WithDBName(w.cfg.DatabaseURL, name)
	if err != nil {
		w.logger.Warn("compose DSN failed", "error", err)
		return
	}
	next, err := db.Open(dsn)
	if err != nil {
		w.logger.Warn("open new db failed", "db", name, "error", err)
		return
	}
	if err := db.Ping(ctx, next); err != nil {
		w.logger.Warn("ping new db failed", "db", name, "error", err)
		next.Close()
		return
	}

	catalog := db.Catalog{DB: next}
	gen, err := loadGenerator(ctx, catalog, w.lines, w.holidays, w.cfg, w.logger)
	if err != nil {
		w.logger.Warn("timetable of new db unusable", "db", name, "error", err)
		next.Close()
		return
	}
	prevCatalog, prevName := db.Catalog{DB: w.conn}, w.current
	w.loader.Use(catalog, name)
	if err := w.mgr.Reload(ctx, "dataset"); err != nil {
		w.logger.Warn("track reload from new db failed, keeping current", "db", name, "error", err)
		w.loader.Use(prevCatalog, prevName)
		next.Close()
		return
	}
	w.mgr.SetSource(gen)

	old := w.conn
	w.conn, w.current = next, name
	old.Close()
	if w.cache != nil && prevName != name {
		if err := w.cache.InvalidateDataset(ctx, prevName); err != nil {
			w.logger.Warn("shape cache invalidation failed", "db", prevName, "error", err)
		}
	}
	w.logger.Info("switched database", "db", name, "dataset", w.cfg.Dataset)
}

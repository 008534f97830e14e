package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	TrackedLines prometheus.Gauge
	Trains       *prometheus.GaugeVec   // status label: stopped|running|unknown
	Excluded     prometheus.Counter     // invalid schedules dropped
	Unlocated    prometheus.Counter     // trains without a map position
	Reconciled   *prometheus.CounterVec // result label: implied|neighbor|rejected

	ShapeBuilds *prometheus.CounterVec // method label: graph|greedy|unavailable|cache
	Reloads     *prometheus.CounterVec // reason label: startup|interval|dataset

	FixesReceived prometheus.Counter
	FixesDropped  prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	CycleDuration   prometheus.Histogram
	PublishDuration prometheus.Histogram

	VirtualMode     prometheus.Gauge
	ClockOffset     prometheus.Gauge // seconds
	PublishInterval prometheus.Gauge // seconds
	ReloadInterval  prometheus.Gauge // seconds
	LookAround      prometheus.Gauge // minutes
}

func NewCollector(publishInterval, reloadInterval, lookAround time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TrackedLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railtrack_tracked_lines",
			Help: "Number of lines with a loaded track index.",
		}),
		Trains: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "railtrack_trains",
			Help: "Trains in the last cycle by status.",
		}, []string{"status"}),
		Excluded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtrack_trains_excluded_total",
			Help: "Schedules dropped as invalid.",
		}),
		Unlocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtrack_trains_unlocated_total",
			Help: "Trains for which no map position could be produced.",
		}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtrack_fix_reconciliations_total",
			Help: "Vehicle fix reconciliations by result.",
		}, []string{"result"}),
		ShapeBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtrack_shape_builds_total",
			Help: "Line shape builds by method.",
		}, []string{"method"}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtrack_track_reloads_total",
			Help: "Track registry reloads by reason.",
		}, []string{"reason"}),
		FixesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtrack_fixes_received_total",
			Help: "Vehicle fixes received.",
		}),
		FixesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtrack_fixes_dropped_total",
			Help: "Vehicle fix messages that could not be decoded.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtrack_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtrack_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railtrack_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railtrack_cycle_duration_seconds",
			Help:    "Duration of one position cycle over all lines.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railtrack_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		VirtualMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railtrack_clock_virtual",
			Help: "1 if the clock runs on virtual time.",
		}),
		ClockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railtrack_clock_offset_seconds",
			Help: "Offset of the virtual clock from wall time.",
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railtrack_publish_interval_seconds",
			Help: "Publish interval in seconds.",
		}),
		ReloadInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railtrack_reload_interval_seconds",
			Help: "Track reload interval in seconds.",
		}),
		LookAround: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railtrack_look_around_minutes",
			Help: "Timetable look-around window in minutes.",
		}),
	}

	// Register
	reg.MustRegister(
		c.TrackedLines, c.Trains, c.Excluded, c.Unlocated, c.Reconciled,
		c.ShapeBuilds, c.Reloads, c.FixesReceived, c.FixesDropped,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.CycleDuration, c.PublishDuration,
		c.VirtualMode, c.ClockOffset, c.PublishInterval, c.ReloadInterval, c.LookAround,
	)

	c.PublishInterval.Set(publishInterval.Seconds())
	c.ReloadInterval.Set(reloadInterval.Seconds())
	c.LookAround.Set(lookAround.Minutes())

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}

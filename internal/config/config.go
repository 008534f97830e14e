package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `validate:"required"`
	// Dataset selects the imported database by name; empty uses DatabaseURL as-is.
	Dataset string

	NATSURL           string `validate:"required"`
	SubjectPrefix     string `validate:"required"`
	FixSubject        string
	ControlSubject    string
	LogPublishSubject bool

	PublishInterval     time.Duration `validate:"gt=0"`
	TrackReloadInterval time.Duration `validate:"gt=0"`
	LookAround          time.Duration `validate:"gt=0"`
	OriginBuffer        time.Duration `validate:"gte=0"`
	ReconcileMaxDist    float64       `validate:"gt=0"`
	FixStaleAfter       time.Duration `validate:"gt=0"`

	VirtualTime string
	Location    *time.Location `validate:"required"`
	Holidays    string
	LinesFile   string

	MetricsAddr string
	LogLevel    slog.Level

	RedisEnabled  bool
	RedisAddr     string `validate:"required_if=RedisEnabled true"`
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	ShapeCacheTTL time.Duration `validate:"gte=0"`
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL (cluster DSN): prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	cfg.Dataset = strings.TrimSpace(os.Getenv("DATASET"))
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		// With DATASET the base connection only has to reach the import catalogue.
		if db == "" && cfg.Dataset != "" {
			db = "postgres"
		}
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using DATASET)")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.SubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "trains")
	cfg.FixSubject = os.Getenv("FIX_SUBJECT")
	cfg.ControlSubject = getenvDefault("CONTROL_SUBJECT", "railtrack.control.time")
	cfg.LogPublishSubject = parseBool(os.Getenv("LOG_PUBLISH_SUBJECTS"))

	var err error
	if cfg.PublishInterval, err = millisEnv("PUBLISH_INTERVAL_MS", time.Second); err != nil {
		return nil, err
	}
	if cfg.TrackReloadInterval, err = secondsEnv("TRACK_RELOAD_INTERVAL_SEC", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.OriginBuffer, err = secondsEnv("ORIGIN_BUFFER_SEC", 1800*time.Second); err != nil {
		return nil, err
	}
	if cfg.FixStaleAfter, err = secondsEnv("FIX_STALE_AFTER_SEC", 2*time.Minute); err != nil {
		return nil, err
	}

	// Look-around window (minutes)
	if v := os.Getenv("LOOK_AROUND_MINUTES"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min <= 0 {
			return nil, fmt.Errorf("invalid LOOK_AROUND_MINUTES: %q", v)
		}
		cfg.LookAround = time.Duration(min) * time.Minute
	} else {
		cfg.LookAround = 30 * time.Minute
	}

	if v := os.Getenv("RECONCILE_MAX_DISTANCE_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid RECONCILE_MAX_DISTANCE_M: %q", v)
		}
		cfg.ReconcileMaxDist = f
	} else {
		cfg.ReconcileMaxDist = 500
	}

	cfg.VirtualTime = strings.TrimSpace(os.Getenv("VIRTUAL_TIME"))
	cfg.Holidays = os.Getenv("HOLIDAYS")
	cfg.LinesFile = getenvDefault("LINES_FILE", "lines.yml")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = parseLogLevel(os.Getenv("LOG_LEVEL"), slog.LevelInfo)

	// Time zone, Tokyo unless told otherwise
	loc, err := time.LoadLocation(getenvDefault("TZ", "Asia/Tokyo"))
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %v", err)
	}
	cfg.Location = loc

	cfg.RedisEnabled = parseBool(os.Getenv("REDIS_ENABLED"))
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}
	cfg.ShapeCacheTTL = 24 * time.Hour
	if v := os.Getenv("SHAPE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SHAPE_CACHE_TTL: %q", v)
		}
		cfg.ShapeCacheTTL = d
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func millisEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func secondsEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseLogLevel(v string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return def
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}

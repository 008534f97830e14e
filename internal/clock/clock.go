package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// Wall is the real system clock.
type Wall struct{}

func (Wall) Now() time.Time { return time.Now() }

// ErrInvalidTime is returned for time strings that cannot be parsed.
var ErrInvalidTime = errors.New("invalid time")

// Zone-less layouts are interpreted in the clock's location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Virtual is a clock shifted from the wall clock by a fixed offset. The offset
// is computed once when the virtual time is set, so virtual time keeps
// advancing at real speed.
type Virtual struct {
	mu      sync.Mutex
	offset  atomic.Int64 // seconds
	virtual atomic.Bool
	wall    func() time.Time
	loc     *time.Location
	logger  *slog.Logger
}

// NewVirtual returns a clock in real-time mode. A nil wall uses time.Now and a
// nil loc uses time.Local.
func NewVirtual(wall func() time.Time, loc *time.Location, logger *slog.Logger) *Virtual {
	if wall == nil {
		wall = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Virtual{wall: wall, loc: loc, logger: logger.With("component", "clock")}
}

func (v *Virtual) Now() time.Time {
	return v.wall().Add(time.Duration(v.offset.Load()) * time.Second).In(v.loc)
}

func (v *Virtual) IsVirtual() bool { return v.virtual.Load() }

// Offset returns the current shift from the wall clock.
func (v *Virtual) Offset() time.Duration {
	return time.Duration(v.offset.Load()) * time.Second
}

// SetVirtualTime makes Now report s from this instant on. s is RFC 3339 or a
// local date-time without zone. On error the clock is unchanged.
func (v *Virtual) SetVirtualTime(s string) error {
	target, err := v.parse(s)
	if err != nil {
		v.logger.Error("failed to parse virtual time", "input", s, "error", err)
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	off := target.Unix() - v.wall().Unix()
	v.offset.Store(off)
	v.virtual.Store(true)
	v.logger.Info("virtual time set", "target", target.Format(time.RFC3339), "offset_sec", off)
	return nil
}

// SetOffset shifts the clock directly. A zero offset means real time.
func (v *Virtual) SetOffset(sec int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offset.Store(sec)
	v.virtual.Store(sec != 0)
	v.logger.Info("offset set", "offset_sec", sec)
}

// Reset returns to real time.
func (v *Virtual) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offset.Store(0)
	v.virtual.Store(false)
	v.logger.Info("reset to real time")
}

func (v *Virtual) parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, v.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

// Status is a snapshot of the clock for diagnostics.
type Status struct {
	Mode       string `json:"mode"`
	VirtualNow string `json:"virtual_now"`
	OffsetSec  int64  `json:"offset_sec"`
	RealNow    string `json:"real_now"`
}

func (v *Virtual) Status() Status {
	mode := "realtime"
	if v.IsVirtual() {
		mode = "virtual"
	}
	return Status{
		Mode:       mode,
		VirtualNow: v.Now().Format(time.RFC3339),
		OffsetSec:  v.offset.Load(),
		RealNow:    v.wall().In(v.loc).Format(time.RFC3339),
	}
}

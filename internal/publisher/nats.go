package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("railtrack"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m, logger: logger}, nil
}

// Conn exposes the connection for subscribers sharing it.
func (p *NATSPublisher) Conn() *nats.Conn { return p.nc }

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Location is a rounded map position. Nil coordinates mean no position.
type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Bearing   float64  `json:"bearing"`
}

type Segment struct {
	PrevSeq       int    `json:"prev_seq"`
	NextSeq       int    `json:"next_seq"`
	PrevStationID string `json:"prev_station_id"`
	NextStationID string `json:"next_station_id"`
}

// Times are unix seconds; zero means unknown.
type Times struct {
	NowTS       int64 `json:"now_ts"`
	T0Departure int64 `json:"t0_departure,omitempty"`
	T1Arrival   int64 `json:"t1_arrival,omitempty"`
}

// Audit keeps the inputs behind the final coordinate.
type Audit struct {
	TimetableLat *float64 `json:"timetable_lat,omitempty"`
	TimetableLon *float64 `json:"timetable_lon,omitempty"`
	FixLat       *float64 `json:"fix_lat,omitempty"`
	FixLon       *float64 `json:"fix_lon,omitempty"`
	FixDistanceM *float64 `json:"fix_distance_m,omitempty"`
}

type Debug struct {
	FeedTimestamp int64  `json:"feed_timestamp"`
	SnapshotID    string `json:"snapshot_id"`
}

// PositionMessage is the published record of one train.
type PositionMessage struct {
	TripID            string   `json:"trip_id"`
	LineID            string   `json:"line_id"`
	TrainNumber       string   `json:"train_number"`
	Direction         string   `json:"direction"`
	Status            string   `json:"status"`
	Progress          *float64 `json:"progress"`
	Delay             int64    `json:"delay"`
	IsStartingStation bool     `json:"is_starting_station"`
	OriginConfirmed   bool     `json:"origin_confirmed,omitempty"`
	DataQuality       string   `json:"data_quality"`
	Location          Location `json:"location"`
	Segment           Segment  `json:"segment"`
	Times             Times    `json:"times"`
	Audit             Audit    `json:"audit"`
	Debug             Debug    `json:"debug"`
}

// Subject returns the subject a position for lineID/tripID is published on.
func (p *NATSPublisher) Subject(lineID, tripID string) string {
	return Subject(p.prefix, lineID, tripID)
}

func Subject(prefix, lineID, tripID string) string {
	if prefix == "" {
		return fmt.Sprintf("%s.%s", subjectToken(lineID), subjectToken(tripID))
	}
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(lineID), subjectToken(tripID))
}

func (p *NATSPublisher) PublishPosition(lineID, tripID string, msg PositionMessage) error {
	subject := p.Subject(lineID, tripID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Debug("nats publish", "subject", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

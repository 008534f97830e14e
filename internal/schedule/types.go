package schedule

import "time"

// Status is the state of a train relative to its timetable.
type Status string

const (
	Stopped Status = "stopped"
	Running Status = "running"
	Unknown Status = "unknown"
	Invalid Status = "invalid"
)

// ServiceType selects which timetable applies on a service date.
type ServiceType string

const (
	Weekday         ServiceType = "Weekday"
	SaturdayHoliday ServiceType = "SaturdayHoliday"
)

// StationStop is one stop of a train on a specific service day. Arrival and
// Departure are absolute; the zero time means the value is unknown.
type StationStop struct {
	StationID string
	Sequence  int
	Arrival   time.Time
	Departure time.Time
	// Resolved is false when the stop could not be mapped to a known station.
	Resolved bool
	Delay    time.Duration
}

// EffectiveDeparture falls back to the arrival when no departure is known.
func (s StationStop) EffectiveDeparture() time.Time {
	if !s.Departure.IsZero() {
		return s.Departure
	}
	return s.Arrival
}

// EffectiveArrival falls back to the departure when no arrival is known.
func (s StationStop) EffectiveArrival() time.Time {
	if !s.Arrival.IsZero() {
		return s.Arrival
	}
	return s.Departure
}

// HasTime reports whether at least one of arrival or departure is known.
func (s StationStop) HasTime() bool {
	return !s.Arrival.IsZero() || !s.Departure.IsZero()
}

// TrainSchedule is one trip on one service day.
type TrainSchedule struct {
	TripID      string
	TrainNumber string
	LineID      string
	Direction   string
	ServiceType ServiceType
	// Stops are ordered by Sequence.
	Stops         []StationStop
	FeedTimestamp time.Time
}

// StopTime is a timetable entry in seconds from the service day's midnight.
// Nil means the time is not published.
type StopTime struct {
	StationID    string
	ArrivalSec   *int
	DepartureSec *int
}

// TimetableTrain is a static timetable row.
type TimetableTrain struct {
	ID          string
	LineID      string
	Number      string
	ServiceType ServiceType
	Direction   string
	TrainType   string
	// Origin and Destination list the terminal station identifiers.
	Origin      []string
	Destination []string
	Stops       []StopTime
}

// VehicleStatus mirrors the realtime feed's current status values.
type VehicleStatus int

const (
	IncomingAt  VehicleStatus = 0
	StoppedAt   VehicleStatus = 1
	InTransitTo VehicleStatus = 2
)

// VehicleFix is a measured position reported for a trip.
type VehicleFix struct {
	TripID       string        `json:"trip_id"`
	Lat          float64       `json:"lat"`
	Lon          float64       `json:"lon"`
	StopSequence int           `json:"stop_sequence"`
	Status       VehicleStatus `json:"status"`
	Timestamp    int64         `json:"timestamp"`
}

// Seconds returns a pointer to v, for building StopTime literals.
func Seconds(v int) *int { return &v }

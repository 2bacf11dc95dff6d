// Package domain defines the core types shared across the zlogger daemons.
// These types represent the telemetry data model — not wire or storage
// specifics. JSON tags match the field names used on the bus, so a Position
// can be published as-is; storage column mapping lives in internal/postgres.
package domain

import (
	"errors"
	"time"
)

// ErrNotFound indicates a lookup missed (mapped from pgx.ErrNoRows in stores).
var ErrNotFound = errors.New("not found")

// Chalkline is a timing line on the virtual course. Each observer names and
// numbers its own lines independently; the shared registry row carries the
// canonical id assigned by the database.
type Chalkline struct {
	ID            int32      `json:"line"`
	Name          string     `json:"name"`
	Data          string     `json:"data"`
	Active        bool       `json:"active"`
	LastMonitored *time.Time `json:"lastmonitored,omitempty"`
}

// Position is a single line-crossing observation for a rider.
// Invariants: TimeMS is monotone per (RiderID, MonitorID) within a session;
// Meters, MWH and DurationMS are monotone non-decreasing during normal
// operation — a decrease signals a crash or client restart.
type Position struct {
	TimeMS     int64  `json:"msec"`
	RiderID    int64  `json:"riderid"`
	LineID     *int32 `json:"lineid"`
	Forward    bool   `json:"fwd"`
	Meters     int64  `json:"meters"`
	MWH        int64  `json:"mwh"`
	DurationMS int64  `json:"duration"`
	Elevation  int32  `json:"elevation"`
	// Speed is reported in thousandths of meters/hour.
	Speed     int32  `json:"speed"`
	HR        int16  `json:"hr"`
	MonitorID int32  `json:"monitorid"`
	LPUP      int32  `json:"lpup"`
	PUP       string `json:"pup"`
	Cadence   int16  `json:"cad"`
	GroupID   int32  `json:"grp"`
}

// Telemetry has the same shape as Position but carries the radial distance
// to the nearest observer instead of a line id. Telemetry never participates
// in chalkline mapping and is persisted to its own table.
type Telemetry struct {
	TimeMS     int64  `json:"msec"`
	RiderID    int64  `json:"riderid"`
	Rad        int32  `json:"rad"`
	Forward    bool   `json:"fwd"`
	Meters     int64  `json:"meters"`
	MWH        int64  `json:"mwh"`
	DurationMS int64  `json:"duration"`
	Elevation  int32  `json:"elevation"`
	Speed      int32  `json:"speed"`
	HR         int16  `json:"hr"`
	MonitorID  int32  `json:"monitorid"`
	LPUP       int32  `json:"lpup"`
	PUP        string `json:"pup"`
	Cadence    int16  `json:"cad"`
	GroupID    int32  `json:"grp"`
}

// ChatMessage is one chat event from an observer's chat log.
// Time is the event's own wall clock ("15:04:05"), not receive time —
// dedup uses it so replays are deterministic.
type ChatMessage struct {
	Time        string `json:"time"`
	RiderID     int64  `json:"riderid"`
	PartialName string `json:"partialName,omitempty"`
	Msg         string `json:"msg"`
}

// RiderProfile is the persisted rider record (name, weight, category).
// Weight is kept in grams, height in millimeters. PowerType is 0..3:
// unknown, zpower, smart trainer, power meter.
type RiderProfile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"fname"`
	LastName  string `json:"lname"`
	Cat       string `json:"cat"` // one of "ABCDWX", "" if unknown
	WeightG   int32  `json:"weight"`
	HeightMM  int32  `json:"height"`
	Male      bool   `json:"male"`
	PowerType int16  `json:"power"`
}

// Event is an upstream platform event synced into the events table.
type Event struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	ShortName     string    `json:"shortName"`
	RouteID       int64     `json:"routeId"`
	Laps          int32     `json:"laps"`
	DistanceM     float64   `json:"distanceInMeters"`
	EventStart    time.Time `json:"eventStart"`
	Sport         string    `json:"sport"`
	TotalEntrants int32     `json:"totalEntrantCount"`
	RetrievedAtMS int64     `json:"retrievalTime"`
}

// Subgroup is a start cohort of an upstream event. The retrieval scheduler
// fetches rider rosters per subgroup at start-plus-offsets.
type Subgroup struct {
	ID            int64     `json:"id"`
	EventID       int64     `json:"zwift_event_id"`
	EventName     string    `json:"-"`
	Name          string    `json:"name"`
	Label         int32     `json:"label"`
	Start         time.Time `json:"eventSubgroupStart"`
	TotalEntrants int32     `json:"totalEntrantCount"`
	RetrievedAtMS int64     `json:"retrievalTime"`
}

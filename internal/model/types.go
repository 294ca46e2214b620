package model

import "time"

// Core domain types for trip tracking and safety alerting.

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

type TripStatus string

const (
    TripPlanned   TripStatus = "PLANNED"
    TripActive    TripStatus = "ACTIVE"
    TripCompleted TripStatus = "COMPLETED"
    TripCancelled TripStatus = "CANCELLED"
)

var tripStatusRank = map[TripStatus]int{
    TripPlanned:   0,
    TripActive:    1,
    TripCompleted: 2,
    TripCancelled: 2,
}

// CanAdvanceTo reports whether a status transition moves forward.
// Transitions never go backwards and terminal states never change.
func (s TripStatus) CanAdvanceTo(next TripStatus) bool {
    from, ok := tripStatusRank[s]
    if !ok { return false }
    to, ok := tripStatusRank[next]
    if !ok { return false }
    if s == TripCompleted || s == TripCancelled { return false }
    return to > from
}

type Trip struct {
    ID                 string       `json:"id"`
    OwnerID            string       `json:"ownerId"`
    Source             GeoPoint     `json:"source"`
    Destination        GeoPoint     `json:"destination"`
    SourceAddress      string       `json:"sourceAddress,omitempty"`
    DestinationAddress string       `json:"destinationAddress,omitempty"`
    Polylines          [][]GeoPoint `json:"polylines,omitempty"`
    ActiveRoute        int          `json:"activeRoute"`
    Status             TripStatus   `json:"status"`
    StartedAt          *time.Time   `json:"startedAt,omitempty"`
    EndedAt            *time.Time   `json:"endedAt,omitempty"`
    DeviationCount     int          `json:"deviationCount"`
    StopCount          int          `json:"stopCount"`
    AlertCount         int          `json:"alertCount"`

    // Live fields, meaningful only while ACTIVE.
    LastPosition       *GeoPoint  `json:"lastPosition,omitempty"`
    LastPositionAt     *time.Time `json:"lastPositionAt,omitempty"`
    RouteProgressIdx   int        `json:"routeProgressIdx"`
    IsDeviated         bool       `json:"isDeviated"`
    HasJoinedRoute     bool       `json:"hasJoinedRoute"`
    DistanceFromRouteM float64    `json:"distanceFromRouteM"`
    EstDurationSec     int        `json:"estDurationSec,omitempty"`
    EstDistanceM       int        `json:"estDistanceM,omitempty"`
    LastNotifiedAt     *time.Time `json:"lastNotifiedAt,omitempty"`
}

// ActivePolyline returns the currently selected route polyline, or nil when
// the trip carries no routes or the selector is out of range.
func (t Trip) ActivePolyline() []GeoPoint {
    if t.ActiveRoute < 0 || t.ActiveRoute >= len(t.Polylines) { return nil }
    return t.Polylines[t.ActiveRoute]
}

type Ping struct {
    ID        string    `json:"id"`
    TripID    string    `json:"tripId"`
    UserID    string    `json:"userId"`
    Lat       float64   `json:"lat"`
    Lng       float64   `json:"lng"`
    AccuracyM float64   `json:"accuracyM,omitempty"`
    SpeedMps  float64   `json:"speedMps,omitempty"`
    Heading   float64   `json:"heading,omitempty"`
    AltitudeM float64   `json:"altitudeM,omitempty"`
    TS        time.Time `json:"ts"`
    Battery   *int      `json:"battery,omitempty"`
    IsMoving  bool      `json:"isMoving"`
}

type AlertType string

const (
    AlertDeviation    AlertType = "DEVIATION"
    AlertStop         AlertType = "STOP"
    AlertSOS          AlertType = "SOS"
    AlertTripComplete AlertType = "TRIP_COMPLETE"
)

func ValidAlertType(t AlertType) bool {
    switch t {
    case AlertDeviation, AlertStop, AlertSOS, AlertTripComplete:
        return true
    }
    return false
}

type Alert struct {
    ID             string    `json:"id"`
    TripID         string    `json:"tripId,omitempty"`
    UserID         string    `json:"userId"`
    Type           AlertType `json:"type"`
    Lat            float64   `json:"lat"`
    Lng            float64   `json:"lng"`
    TS             time.Time `json:"ts"`
    Description    string    `json:"description,omitempty"`
    IsSent         bool      `json:"isSent"`
    IsAcknowledged bool      `json:"isAcknowledged"`
    IsCancelled    bool      `json:"isCancelled"`
}

type User struct {
    ID      string `json:"id"`
    Name    string `json:"name"`
    Contact string `json:"contact,omitempty"` // delivery address for the notifier
}

// Membership links a user to a circle. The pair (GroupCode, UserID) is unique.
type Membership struct {
    GroupCode string `json:"groupCode"`
    UserID    string `json:"userId"`
}

// TrackerInfo is a snapshot row of one live tracker.
type TrackerInfo struct {
    TripID         string    `json:"tripId"`
    UserID         string    `json:"userId"`
    LastPingAt     time.Time `json:"lastPingAt"`
    LastNotifiedAt time.Time `json:"lastNotifiedAt"`
    SincePingMs    int64     `json:"sincePingMs"`
}

type TrackingStats struct {
    ActiveCount int           `json:"activeCount"`
    Trackers    []TrackerInfo `json:"trackers"`
    IntervalMs  int64         `json:"intervalMs"`
}

// PingResult reports what happened to one processed position report.
type PingResult struct {
    Saved      bool   `json:"saved"`
    Tracked    bool   `json:"tracked"`
    UpdateSent bool   `json:"updateSent"`
    Reason     string `json:"reason,omitempty"`
}

// Outcome is the per-recipient result of one fan-out delivery.
type Outcome struct {
    UserID  string `json:"userId"`
    Contact string `json:"contact,omitempty"`
    OK      bool   `json:"ok"`
    Err     string `json:"err,omitempty"`
}

// DispatchResult aggregates a multi-recipient fan-out.
type DispatchResult struct {
    Attempted int       `json:"attempted"`
    Succeeded int       `json:"succeeded"`
    Outcomes  []Outcome `json:"outcomes,omitempty"`
}

// DailySummary is the computed per-user daily digest plus delivery outcomes.
type DailySummary struct {
    UserID         string    `json:"userId"`
    Date           string    `json:"date"`
    TripCount      int       `json:"tripCount"`
    DeviationCount int       `json:"deviationCount"`
    SOSCount       int       `json:"sosCount"`
    LastTripTime   string    `json:"lastTripTime"`
    Outcomes       []Outcome `json:"outcomes,omitempty"`
    Skipped        bool      `json:"skipped,omitempty"`
    SkipReason     string    `json:"skipReason,omitempty"`
}

// BatchResult is the outcome of a generate-for-all-users run.
type BatchResult struct {
    Users     int            `json:"users"`
    Succeeded int            `json:"succeeded"`
    Summaries []DailySummary `json:"summaries,omitempty"`
}

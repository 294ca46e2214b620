package store

import (
    "context"
    "errors"
    "time"

    "safetrack/internal/model"
)

// Store is the persistence gateway plus the circle directory. Time ranges
// are inclusive on both ends; a zero time means that bound is open.
type Store interface {
    // Trips
    SaveTrip(ctx context.Context, t model.Trip) error
    GetTrip(ctx context.Context, id string) (model.Trip, error)
    ListTripsByUser(ctx context.Context, userID string, from, to time.Time) ([]model.Trip, error)
    // ListTripOwnersSince returns distinct owner ids of trips that started at
    // or after since. The window is intentionally open upward.
    ListTripOwnersSince(ctx context.Context, since time.Time) ([]string, error)

    // Pings (append-only)
    SavePing(ctx context.Context, p model.Ping) error
    ListPingsByTrip(ctx context.Context, tripID string, from, to time.Time) ([]model.Ping, error)
    PurgePingsBefore(ctx context.Context, cutoff time.Time) (int, error)

    // Alerts
    SaveAlert(ctx context.Context, a model.Alert) error
    GetAlert(ctx context.Context, id string) (model.Alert, error)
    ListAlertsByTrip(ctx context.Context, tripID string, from, to time.Time) ([]model.Alert, error)
    ListAlertsByUser(ctx context.Context, userID string, from, to time.Time) ([]model.Alert, error)

    // Users & circles
    SaveUser(ctx context.Context, u model.User) error
    GetUser(ctx context.Context, id string) (model.User, error)
    ListUsersByIDs(ctx context.Context, ids []string) ([]model.User, error)
    AddMembership(ctx context.Context, m model.Membership) error
    ListMembersByGroup(ctx context.Context, code string) ([]model.Membership, error)
    ListGroupsForUser(ctx context.Context, userID string) ([]string, error)
}

var ErrNotFound = errors.New("not found")

// Package track owns the live side of a trip: the registry of active
// trackers, the periodic-update throttle, and the ping ingestion pipeline.
package track

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/google/uuid"

    "safetrack/internal/geo"
    "safetrack/internal/metrics"
    "safetrack/internal/model"
    "safetrack/internal/notify"
    "safetrack/internal/store"
)

var ErrValidation = errors.New("invalid ping")

// Publisher pushes realtime events to a circle's live channels.
type Publisher interface {
    Publish(groupCode, eventType string, data any)
}

// Alerter raises safety alerts out of the pipeline.
type Alerter interface {
    RaiseDeviation(ctx context.Context, trip model.Trip, p model.Ping)
    RaiseStop(ctx context.Context, trip model.Trip, p model.Ping)
}

// Pipeline processes one position ping end to end: persist, evaluate the
// route, broadcast, and fan out a throttled periodic update.
type Pipeline struct {
    Store      store.Store
    Registry   *Registry
    Notifier   notify.Notifier
    Alerts     Alerter
    Broker     Publisher
    ThresholdM float64
    StopPings  int // consecutive non-moving pings before a STOP alert; 0 disables
}

func validatePing(p model.Ping) error {
    if p.TripID == "" { return fmt.Errorf("%w: tripId required", ErrValidation) }
    if p.UserID == "" { return fmt.Errorf("%w: userId required", ErrValidation) }
    if p.Lat < -90 || p.Lat > 90 { return fmt.Errorf("%w: lat out of range", ErrValidation) }
    if p.Lng < -180 || p.Lng > 180 { return fmt.Errorf("%w: lng out of range", ErrValidation) }
    return nil
}

// ProcessPing runs the full ingestion path. Notification failures never fail
// the ping; they are logged and reflected in the result only.
func (pl *Pipeline) ProcessPing(ctx context.Context, p model.Ping) (model.PingResult, error) {
    if err := validatePing(p); err != nil {
        metrics.PingsIngested.WithLabelValues("invalid").Inc()
        return model.PingResult{}, err
    }
    trip, err := pl.Store.GetTrip(ctx, p.TripID)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) { metrics.PingsIngested.WithLabelValues("not_found").Inc() }
        return model.PingResult{}, err
    }
    owner, err := pl.Store.GetUser(ctx, trip.OwnerID)
    if err != nil { return model.PingResult{}, err }

    if p.ID == "" { p.ID = uuid.NewString() }
    if p.TS.IsZero() { p.TS = time.Now().UTC() }
    if err := pl.Store.SavePing(ctx, p); err != nil {
        return model.PingResult{}, err
    }
    metrics.PingsIngested.WithLabelValues("saved").Inc()
    res := model.PingResult{Saved: true}

    pos := model.GeoPoint{Lat: p.Lat, Lng: p.Lng}
    trip.LastPosition = &pos
    ts := p.TS
    trip.LastPositionAt = &ts

    if trip.Status == model.TripPlanned && trip.Status.CanAdvanceTo(model.TripActive) {
        trip.Status = model.TripActive
        if trip.StartedAt == nil { trip.StartedAt = &ts }
    }

    pl.evaluateRoute(ctx, &trip, p)

    tracked := pl.Registry.IsTracked(trip.ID)
    res.Tracked = tracked

    if err := pl.Store.SaveTrip(ctx, trip); err != nil {
        return res, err
    }
    pl.broadcastPosition(ctx, trip, p)

    if !tracked {
        res.Reason = "not tracked"
        return res, nil
    }

    streak := pl.Registry.Touch(trip.ID, p.IsMoving)
    if pl.StopPings > 0 && streak >= pl.StopPings {
        pl.Registry.ResetStopStreak(trip.ID)
        trip.StopCount++
        if pl.Alerts != nil { pl.Alerts.RaiseStop(ctx, trip, p) }
        if err := pl.Store.SaveTrip(ctx, trip); err != nil {
            log.Printf("pipeline: save trip after stop alert: %v", err)
        }
    }

    if !pl.Registry.Due(trip.ID) {
        res.Reason = "interval not elapsed"
        return res, nil
    }
    members, err := pl.circleMembers(ctx, trip.OwnerID)
    if err != nil {
        log.Printf("pipeline: resolve circle for %s: %v", trip.OwnerID, err)
        res.Reason = "member lookup failed"
        return res, nil
    }
    if len(members) == 0 {
        // nobody to notify; leave the throttle untouched so a member added
        // later gets an update immediately
        res.Reason = "no members"
        return res, nil
    }
    if !pl.Registry.ClaimUpdate(trip.ID) {
        res.Reason = "interval not elapsed"
        return res, nil
    }

    update := notify.Update{
        TripID:   trip.ID,
        UserName: owner.Name,
        Lat:      p.Lat,
        Lng:      p.Lng,
        SpeedMps: p.SpeedMps,
        MapURL:   notify.MapURL(p.Lat, p.Lng),
        TS:       p.TS,
    }
    if trip.EstDurationSec > 0 {
        eta := trip.EstDurationSec
        update.ETASeconds = &eta
    }
    dr := notify.Fanout(ctx, members, func(ctx context.Context, u model.User) notify.Result {
        return pl.Notifier.SendPeriodicUpdate(ctx, u.Contact, update)
    })
    for _, o := range dr.Outcomes {
        if !o.OK { log.Printf("pipeline: periodic update to %s failed: %s", o.UserID, o.Err) }
    }
    res.UpdateSent = dr.Succeeded > 0

    now := time.Now().UTC()
    trip.LastNotifiedAt = &now
    if err := pl.Store.SaveTrip(ctx, trip); err != nil {
        log.Printf("pipeline: save trip after update: %v", err)
    }
    return res, nil
}

// evaluateRoute updates the trip's route-relative fields and raises a
// deviation alert on the off-route edge only.
func (pl *Pipeline) evaluateRoute(ctx context.Context, trip *model.Trip, p model.Ping) {
    route := trip.ActivePolyline()
    if len(route) == 0 { return }
    pos := model.GeoPoint{Lat: p.Lat, Lng: p.Lng}
    fix, err := geo.Locate(pos, route, trip.RouteProgressIdx, pl.ThresholdM)
    if err != nil { return }
    trip.DistanceFromRouteM = fix.DistanceM
    if fix.ProgressIdx > trip.RouteProgressIdx {
        trip.RouteProgressIdx = fix.ProgressIdx
    }
    if !fix.Deviated {
        trip.HasJoinedRoute = true
        trip.IsDeviated = false
        return
    }
    // Before the traveler has ever reached the route, distance from it is
    // expected and not a deviation.
    if !trip.HasJoinedRoute { return }
    if trip.IsDeviated { return } // still off route, already alerted
    trip.IsDeviated = true
    trip.DeviationCount++
    if pl.Alerts != nil { pl.Alerts.RaiseDeviation(ctx, *trip, p) }
}

func (pl *Pipeline) broadcastPosition(ctx context.Context, trip model.Trip, p model.Ping) {
    if pl.Broker == nil { return }
    groups, err := pl.Store.ListGroupsForUser(ctx, trip.OwnerID)
    if err != nil {
        log.Printf("pipeline: list groups for %s: %v", trip.OwnerID, err)
        return
    }
    payload := map[string]any{
        "tripId":    trip.ID,
        "userId":    trip.OwnerID,
        "lat":       p.Lat,
        "lng":       p.Lng,
        "speedMps":  p.SpeedMps,
        "heading":   p.Heading,
        "isMoving":  p.IsMoving,
        "deviated":  trip.IsDeviated,
        "ts":        p.TS,
    }
    for _, g := range groups {
        pl.Broker.Publish(g, "position", payload)
    }
}

// circleMembers resolves everyone sharing a circle with the owner, owner
// excluded, deduplicated across circles.
func (pl *Pipeline) circleMembers(ctx context.Context, ownerID string) ([]model.User, error) {
    groups, err := pl.Store.ListGroupsForUser(ctx, ownerID)
    if err != nil { return nil, err }
    seen := map[string]struct{}{}
    ids := []string{}
    for _, g := range groups {
        mems, err := pl.Store.ListMembersByGroup(ctx, g)
        if err != nil { return nil, err }
        for _, m := range mems {
            if m.UserID == ownerID { continue }
            if _, ok := seen[m.UserID]; ok { continue }
            seen[m.UserID] = struct{}{}
            ids = append(ids, m.UserID)
        }
    }
    if len(ids) == 0 { return nil, nil }
    return pl.Store.ListUsersByIDs(ctx, ids)
}

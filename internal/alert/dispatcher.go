// Package alert creates safety alerts and fans them out to the sender's
// circles. SOS broadcasts are never throttled.
package alert

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/google/uuid"

    "safetrack/internal/metrics"
    "safetrack/internal/model"
    "safetrack/internal/notify"
    "safetrack/internal/store"
)

var (
    ErrNoCircle         = errors.New("user belongs to no circle")
    ErrNoMembers        = errors.New("circle has no other members")
    ErrAlreadyAcked     = errors.New("alert already acknowledged")
    ErrAlreadyCancelled = errors.New("alert already cancelled")
)

// Publisher pushes alert events to a circle's live channels.
type Publisher interface {
    Publish(groupCode, eventType string, data any)
}

type Dispatcher struct {
    Store    store.Store
    Notifier notify.Notifier
    Broker   Publisher
}

// Create persists a caller-supplied alert. Missing id and timestamp are
// filled in.
func (d *Dispatcher) Create(ctx context.Context, a model.Alert) (model.Alert, error) {
    if !model.ValidAlertType(a.Type) {
        return model.Alert{}, fmt.Errorf("unknown alert type %q", a.Type)
    }
    if a.UserID == "" {
        return model.Alert{}, errors.New("userId required")
    }
    if a.ID == "" { a.ID = uuid.NewString() }
    if a.TS.IsZero() { a.TS = time.Now().UTC() }
    if err := d.Store.SaveAlert(ctx, a); err != nil {
        return model.Alert{}, err
    }
    metrics.AlertsCreated.WithLabelValues(string(a.Type)).Inc()
    return a, nil
}

// Acknowledge marks an alert as seen. Acknowledging twice is idempotent;
// acknowledging a cancelled alert fails.
func (d *Dispatcher) Acknowledge(ctx context.Context, id string) (model.Alert, error) {
    a, err := d.Store.GetAlert(ctx, id)
    if err != nil { return model.Alert{}, err }
    if a.IsCancelled { return model.Alert{}, ErrAlreadyCancelled }
    if a.IsAcknowledged { return a, nil }
    a.IsAcknowledged = true
    if err := d.Store.SaveAlert(ctx, a); err != nil { return model.Alert{}, err }
    return a, nil
}

// Cancel retracts an alert, typically a false-alarm SOS.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (model.Alert, error) {
    a, err := d.Store.GetAlert(ctx, id)
    if err != nil { return model.Alert{}, err }
    if a.IsAcknowledged { return model.Alert{}, ErrAlreadyAcked }
    if a.IsCancelled { return a, nil }
    a.IsCancelled = true
    if err := d.Store.SaveAlert(ctx, a); err != nil { return model.Alert{}, err }
    d.publishToCircles(ctx, a.UserID, "alert_cancelled", a)
    return a, nil
}

func (d *Dispatcher) TripAlerts(ctx context.Context, tripID string, from, to time.Time) ([]model.Alert, error) {
    return d.Store.ListAlertsByTrip(ctx, tripID, from, to)
}

func (d *Dispatcher) UserAlerts(ctx context.Context, userID string, from, to time.Time) ([]model.Alert, error) {
    return d.Store.ListAlertsByUser(ctx, userID, from, to)
}

// SendSOS records the sender's position, persists the SOS, and broadcasts
// to every circle member immediately. The position ping survives even when
// the broadcast cannot go out.
func (d *Dispatcher) SendSOS(ctx context.Context, userID, tripID string, lat, lng float64, desc string) (model.Alert, model.DispatchResult, error) {
    sender, err := d.Store.GetUser(ctx, userID)
    if err != nil { return model.Alert{}, model.DispatchResult{}, err }

    now := time.Now().UTC()
    ping := model.Ping{
        ID:       uuid.NewString(),
        TripID:   tripID,
        UserID:   userID,
        Lat:      lat,
        Lng:      lng,
        TS:       now,
        IsMoving: false,
    }
    // recorded even without an active trip
    if err := d.Store.SavePing(ctx, ping); err != nil {
        return model.Alert{}, model.DispatchResult{}, err
    }

    groups, err := d.Store.ListGroupsForUser(ctx, userID)
    if err != nil { return model.Alert{}, model.DispatchResult{}, err }
    if len(groups) == 0 {
        return model.Alert{}, model.DispatchResult{}, ErrNoCircle
    }

    a := model.Alert{
        ID:          uuid.NewString(),
        TripID:      tripID,
        UserID:      userID,
        Type:        model.AlertSOS,
        Lat:         lat,
        Lng:         lng,
        TS:          now,
        Description: desc,
    }
    if err := d.Store.SaveAlert(ctx, a); err != nil {
        return model.Alert{}, model.DispatchResult{}, err
    }
    metrics.AlertsCreated.WithLabelValues(string(model.AlertSOS)).Inc()

    members, err := d.circleMembers(ctx, groups, userID)
    if err != nil { return a, model.DispatchResult{}, err }
    if len(members) == 0 {
        return a, model.DispatchResult{}, ErrNoMembers
    }

    text := fmt.Sprintf("🚨 EMERGENCY: %s needs help! Location: %s Contact: %s", sender.Name, notify.MapURL(lat, lng), sender.Contact)
    if desc != "" { text += " " + desc }
    text += " [" + now.Format(time.RFC3339) + "]"
    dr := notify.Fanout(ctx, members, func(ctx context.Context, u model.User) notify.Result {
        return d.Notifier.Send(ctx, u.Contact, text)
    })

    a.IsSent = dr.Succeeded > 0
    if err := d.Store.SaveAlert(ctx, a); err != nil {
        log.Printf("alert: persist sos sent flag: %v", err)
    }
    d.publishToCircles(ctx, userID, "alert", a)
    return a, dr, nil
}

// RaiseDeviation persists a route-deviation alert and notifies the
// owner's circles. Delivery failures are logged only.
func (d *Dispatcher) RaiseDeviation(ctx context.Context, trip model.Trip, p model.Ping) {
    d.raise(ctx, trip, p, model.AlertDeviation,
        func(name string) string {
            return fmt.Sprintf("⚠️ %s has gone off the planned route. Location: %s", name, notify.MapURL(p.Lat, p.Lng))
        })
}

// RaiseStop persists a prolonged-stop alert and notifies the owner's
// circles.
func (d *Dispatcher) RaiseStop(ctx context.Context, trip model.Trip, p model.Ping) {
    d.raise(ctx, trip, p, model.AlertStop,
        func(name string) string {
            return fmt.Sprintf("⚠️ %s has stopped moving mid-trip. Location: %s", name, notify.MapURL(p.Lat, p.Lng))
        })
}

func (d *Dispatcher) raise(ctx context.Context, trip model.Trip, p model.Ping, typ model.AlertType, msg func(name string) string) {
    a := model.Alert{
        ID:     uuid.NewString(),
        TripID: trip.ID,
        UserID: trip.OwnerID,
        Type:   typ,
        Lat:    p.Lat,
        Lng:    p.Lng,
        TS:     time.Now().UTC(),
    }
    if err := d.Store.SaveAlert(ctx, a); err != nil {
        log.Printf("alert: save %s for trip %s: %v", typ, trip.ID, err)
        return
    }
    metrics.AlertsCreated.WithLabelValues(string(typ)).Inc()

    groups, err := d.Store.ListGroupsForUser(ctx, trip.OwnerID)
    if err != nil {
        log.Printf("alert: list groups for %s: %v", trip.OwnerID, err)
        return
    }
    owner, err := d.Store.GetUser(ctx, trip.OwnerID)
    if err != nil {
        log.Printf("alert: load owner %s: %v", trip.OwnerID, err)
        return
    }
    members, err := d.circleMembers(ctx, groups, trip.OwnerID)
    if err != nil || len(members) == 0 { return }

    text := msg(owner.Name)
    dr := notify.Fanout(ctx, members, func(ctx context.Context, u model.User) notify.Result {
        return d.Notifier.Send(ctx, u.Contact, text)
    })
    for _, o := range dr.Outcomes {
        if !o.OK { log.Printf("alert: %s notify %s failed: %s", typ, o.UserID, o.Err) }
    }
    a.IsSent = dr.Succeeded > 0
    if err := d.Store.SaveAlert(ctx, a); err != nil {
        log.Printf("alert: persist %s sent flag: %v", typ, err)
    }
    d.publishToCircles(ctx, trip.OwnerID, "alert", a)
}

func (d *Dispatcher) circleMembers(ctx context.Context, groups []string, exclude string) ([]model.User, error) {
    seen := map[string]struct{}{}
    ids := []string{}
    for _, g := range groups {
        mems, err := d.Store.ListMembersByGroup(ctx, g)
        if err != nil { return nil, err }
        for _, m := range mems {
            if m.UserID == exclude { continue }
            if _, ok := seen[m.UserID]; ok { continue }
            seen[m.UserID] = struct{}{}
            ids = append(ids, m.UserID)
        }
    }
    if len(ids) == 0 { return nil, nil }
    return d.Store.ListUsersByIDs(ctx, ids)
}

func (d *Dispatcher) publishToCircles(ctx context.Context, userID, eventType string, data any) {
    if d.Broker == nil { return }
    groups, err := d.Store.ListGroupsForUser(ctx, userID)
    if err != nil { return }
    for _, g := range groups {
        d.Broker.Publish(g, eventType, data)
    }
}

package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "safetrack/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu     sync.Mutex
    trips  map[string]model.Trip
    pings  map[string][]model.Ping // tripId -> pings, insertion order
    alerts map[string]model.Alert
    alertOrder []string            // ids in insertion order
    users  map[string]model.User
    groups map[string][]string     // groupCode -> user ids
    byUser map[string][]string     // userId -> group codes
}

func NewMemory() *Memory {
    return &Memory{
        trips:  map[string]model.Trip{},
        pings:  map[string][]model.Ping{},
        alerts: map[string]model.Alert{},
        users:  map[string]model.User{},
        groups: map[string][]string{},
        byUser: map[string][]string{},
    }
}

func inWindow(ts, from, to time.Time) bool {
    if !from.IsZero() && ts.Before(from) { return false }
    if !to.IsZero() && ts.After(to) { return false }
    return true
}

func (m *Memory) SaveTrip(ctx context.Context, t model.Trip) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.trips[t.ID] = t
    return nil
}

func (m *Memory) GetTrip(ctx context.Context, id string) (model.Trip, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    t, ok := m.trips[id]
    if !ok { return model.Trip{}, ErrNotFound }
    return t, nil
}

func (m *Memory) ListTripsByUser(ctx context.Context, userID string, from, to time.Time) ([]model.Trip, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Trip{}
    for _, t := range m.trips {
        if t.OwnerID != userID || t.StartedAt == nil { continue }
        if inWindow(*t.StartedAt, from, to) { out = append(out, t) }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
    return out, nil
}

func (m *Memory) ListTripOwnersSince(ctx context.Context, since time.Time) ([]string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    seen := map[string]struct{}{}
    out := []string{}
    for _, t := range m.trips {
        if t.StartedAt == nil || t.StartedAt.Before(since) { continue }
        if _, ok := seen[t.OwnerID]; ok { continue }
        seen[t.OwnerID] = struct{}{}
        out = append(out, t.OwnerID)
    }
    sort.Strings(out)
    return out, nil
}

func (m *Memory) SavePing(ctx context.Context, p model.Ping) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.pings[p.TripID] = append(m.pings[p.TripID], p)
    return nil
}

func (m *Memory) ListPingsByTrip(ctx context.Context, tripID string, from, to time.Time) ([]model.Ping, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Ping{}
    for _, p := range m.pings[tripID] {
        if inWindow(p.TS, from, to) { out = append(out, p) }
    }
    return out, nil
}

func (m *Memory) PurgePingsBefore(ctx context.Context, cutoff time.Time) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    purged := 0
    for tid, arr := range m.pings {
        kept := arr[:0]
        for _, p := range arr {
            if p.TS.Before(cutoff) { purged++; continue }
            kept = append(kept, p)
        }
        if len(kept) == 0 { delete(m.pings, tid); continue }
        m.pings[tid] = kept
    }
    return purged, nil
}

func (m *Memory) SaveAlert(ctx context.Context, a model.Alert) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.alerts[a.ID]; !ok { m.alertOrder = append(m.alertOrder, a.ID) }
    m.alerts[a.ID] = a
    return nil
}

func (m *Memory) GetAlert(ctx context.Context, id string) (model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a, ok := m.alerts[id]
    if !ok { return model.Alert{}, ErrNotFound }
    return a, nil
}

func (m *Memory) listAlerts(match func(model.Alert) bool, from, to time.Time) []model.Alert {
    out := []model.Alert{}
    for _, id := range m.alertOrder {
        a := m.alerts[id]
        if !match(a) { continue }
        if inWindow(a.TS, from, to) { out = append(out, a) }
    }
    // newest first
    sort.SliceStable(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
    return out
}

func (m *Memory) ListAlertsByTrip(ctx context.Context, tripID string, from, to time.Time) ([]model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.listAlerts(func(a model.Alert) bool { return a.TripID == tripID }, from, to), nil
}

func (m *Memory) ListAlertsByUser(ctx context.Context, userID string, from, to time.Time) ([]model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.listAlerts(func(a model.Alert) bool { return a.UserID == userID }, from, to), nil
}

func (m *Memory) SaveUser(ctx context.Context, u model.User) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.users[u.ID] = u
    return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[id]
    if !ok { return model.User{}, ErrNotFound }
    return u, nil
}

func (m *Memory) ListUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.User{}
    for _, id := range ids {
        if u, ok := m.users[id]; ok { out = append(out, u) }
    }
    return out, nil
}

func (m *Memory) AddMembership(ctx context.Context, mem model.Membership) error {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, uid := range m.groups[mem.GroupCode] {
        if uid == mem.UserID { return nil } // (code, user) pair is unique
    }
    m.groups[mem.GroupCode] = append(m.groups[mem.GroupCode], mem.UserID)
    m.byUser[mem.UserID] = append(m.byUser[mem.UserID], mem.GroupCode)
    return nil
}

func (m *Memory) ListMembersByGroup(ctx context.Context, code string) ([]model.Membership, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Membership{}
    for _, uid := range m.groups[code] {
        out = append(out, model.Membership{GroupCode: code, UserID: uid})
    }
    return out, nil
}

func (m *Memory) ListGroupsForUser(ctx context.Context, userID string) ([]string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]string(nil), m.byUser[userID]...), nil
}

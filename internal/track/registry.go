package track

import (
    "sync"
    "time"

    "safetrack/internal/model"
)

// Tracker is the in-memory live state for one actively tracked trip.
type Tracker struct {
    TripID         string
    UserID         string
    StartedAt      time.Time
    LastPingAt     time.Time
    LastNotifiedAt time.Time
    StopStreak     int // consecutive non-moving pings
}

// Registry holds the set of actively tracked trips. All state is in memory;
// a restart simply drops live tracking until trips re-start it.
type Registry struct {
    mu       sync.Mutex
    trackers map[string]*Tracker
    interval time.Duration
    now      func() time.Time
}

func NewRegistry(interval time.Duration) *Registry {
    if interval <= 0 { interval = DefaultPeriodicInterval }
    return &Registry{trackers: map[string]*Tracker{}, interval: interval, now: time.Now}
}

func (r *Registry) Interval() time.Duration { return r.interval }

// Start begins tracking a trip. Starting an already-tracked trip tears the
// old entry down and replaces it, so stale state never leaks across a
// restart of the same trip. lastNotifiedAt is seeded with now, so the first
// periodic update is not due until a full interval after Start.
func (r *Registry) Start(tripID, userID string) {
    r.mu.Lock(); defer r.mu.Unlock()
    delete(r.trackers, tripID)
    now := r.now()
    r.trackers[tripID] = &Tracker{TripID: tripID, UserID: userID, StartedAt: now, LastPingAt: now, LastNotifiedAt: now}
}

// Stop removes a trip from tracking and reports whether it was tracked.
func (r *Registry) Stop(tripID string) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    _, ok := r.trackers[tripID]
    delete(r.trackers, tripID)
    return ok
}

func (r *Registry) IsTracked(tripID string) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    _, ok := r.trackers[tripID]
    return ok
}

// Touch records a ping arrival and updates the stop streak. It returns the
// new streak length, or -1 when the trip is not tracked.
func (r *Registry) Touch(tripID string, isMoving bool) int {
    r.mu.Lock(); defer r.mu.Unlock()
    t, ok := r.trackers[tripID]
    if !ok { return -1 }
    t.LastPingAt = r.now()
    if isMoving {
        t.StopStreak = 0
    } else {
        t.StopStreak++
    }
    return t.StopStreak
}

// ResetStopStreak clears the streak after a stop alert fires so the same
// standstill is not reported again every ping.
func (r *Registry) ResetStopStreak(tripID string) {
    r.mu.Lock(); defer r.mu.Unlock()
    if t, ok := r.trackers[tripID]; ok { t.StopStreak = 0 }
}

// Due reports whether a periodic update is due for the trip without
// claiming it.
func (r *Registry) Due(tripID string) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    t, ok := r.trackers[tripID]
    if !ok { return false }
    return ShouldNotify(t.LastNotifiedAt, r.now(), r.interval)
}

// ClaimUpdate atomically re-checks the throttle and advances
// lastNotifiedAt. Concurrent pings for the same trip race here and exactly
// one wins the window.
func (r *Registry) ClaimUpdate(tripID string) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    t, ok := r.trackers[tripID]
    if !ok { return false }
    now := r.now()
    if !ShouldNotify(t.LastNotifiedAt, now, r.interval) { return false }
    t.LastNotifiedAt = now
    return true
}

// Stats snapshots the registry for the operator endpoint.
func (r *Registry) Stats() model.TrackingStats {
    r.mu.Lock(); defer r.mu.Unlock()
    now := r.now()
    s := model.TrackingStats{ActiveCount: len(r.trackers), IntervalMs: r.interval.Milliseconds(), Trackers: []model.TrackerInfo{}}
    for _, t := range r.trackers {
        s.Trackers = append(s.Trackers, model.TrackerInfo{
            TripID:         t.TripID,
            UserID:         t.UserID,
            LastPingAt:     t.LastPingAt,
            LastNotifiedAt: t.LastNotifiedAt,
            SincePingMs:    now.Sub(t.LastPingAt).Milliseconds(),
        })
    }
    return s
}

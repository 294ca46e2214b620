package track

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "safetrack/internal/model"
    "safetrack/internal/notify"
    "safetrack/internal/store"
)

type fakeNotifier struct {
    mu      sync.Mutex
    updates []notify.Update
    fail    bool
}

func (f *fakeNotifier) Send(ctx context.Context, contact, text string) notify.Result {
    return notify.Result{OK: !f.fail}
}
func (f *fakeNotifier) SendPeriodicUpdate(ctx context.Context, contact string, u notify.Update) notify.Result {
    f.mu.Lock(); defer f.mu.Unlock()
    f.updates = append(f.updates, u)
    if f.fail { return notify.Result{Err: "down"} }
    return notify.Result{OK: true}
}
func (f *fakeNotifier) SendSummary(ctx context.Context, contact string, s notify.Summary) notify.Result {
    return notify.Result{OK: !f.fail}
}

func (f *fakeNotifier) count() int {
    f.mu.Lock(); defer f.mu.Unlock()
    return len(f.updates)
}

type fakeAlerter struct {
    mu         sync.Mutex
    deviations int
    stops      int
}

func (f *fakeAlerter) RaiseDeviation(ctx context.Context, trip model.Trip, p model.Ping) {
    f.mu.Lock(); defer f.mu.Unlock()
    f.deviations++
}
func (f *fakeAlerter) RaiseStop(ctx context.Context, trip model.Trip, p model.Ping) {
    f.mu.Lock(); defer f.mu.Unlock()
    f.stops++
}

type fakeBroker struct {
    mu     sync.Mutex
    events []string
}

func (f *fakeBroker) Publish(group, eventType string, data any) {
    f.mu.Lock(); defer f.mu.Unlock()
    f.events = append(f.events, group+"/"+eventType)
}

func testPipeline(t *testing.T) (*Pipeline, *store.Memory, *fakeNotifier, *fakeAlerter, *fakeBroker) {
    t.Helper()
    s := store.NewMemory()
    ctx := context.Background()
    if err := s.SaveUser(ctx, model.User{ID: "owner", Name: "Alice", Contact: "alice"}); err != nil { t.Fatal(err) }
    if err := s.SaveUser(ctx, model.User{ID: "m1", Name: "Bob", Contact: "bob"}); err != nil { t.Fatal(err) }
    if err := s.AddMembership(ctx, model.Membership{GroupCode: "fam", UserID: "owner"}); err != nil { t.Fatal(err) }
    if err := s.AddMembership(ctx, model.Membership{GroupCode: "fam", UserID: "m1"}); err != nil { t.Fatal(err) }
    n := &fakeNotifier{}
    a := &fakeAlerter{}
    b := &fakeBroker{}
    pl := &Pipeline{
        Store:      s,
        Registry:   NewRegistry(5 * time.Minute),
        Notifier:   n,
        Alerts:     a,
        Broker:     b,
        ThresholdM: 50,
        StopPings:  3,
    }
    return pl, s, n, a, b
}

func routeTrip() model.Trip {
    return model.Trip{
        ID:      "trip1",
        OwnerID: "owner",
        Status:  model.TripPlanned,
        Polylines: [][]model.GeoPoint{{
            {Lat: 12.9700, Lng: 77.6000},
            {Lat: 12.9710, Lng: 77.6000},
            {Lat: 12.9720, Lng: 77.6000},
            {Lat: 12.9730, Lng: 77.6000},
        }},
    }
}

func TestProcessPingValidation(t *testing.T) {
    pl, _, _, _, _ := testPipeline(t)
    _, err := pl.ProcessPing(context.Background(), model.Ping{TripID: "trip1", UserID: "owner", Lat: 91})
    if !errors.Is(err, ErrValidation) {
        t.Fatalf("expected ErrValidation, got %v", err)
    }
    _, err = pl.ProcessPing(context.Background(), model.Ping{UserID: "owner", Lat: 1, Lng: 1})
    if !errors.Is(err, ErrValidation) {
        t.Fatalf("missing tripId should be ErrValidation, got %v", err)
    }
}

func TestProcessPingUnknownTrip(t *testing.T) {
    pl, _, _, _, _ := testPipeline(t)
    _, err := pl.ProcessPing(context.Background(), model.Ping{TripID: "nope", UserID: "owner", Lat: 1, Lng: 1})
    if !errors.Is(err, store.ErrNotFound) {
        t.Fatalf("expected ErrNotFound, got %v", err)
    }
}

func TestProcessPingSavesAndPromotes(t *testing.T) {
    pl, s, _, _, b := testPipeline(t)
    ctx := context.Background()
    if err := s.SaveTrip(ctx, routeTrip()); err != nil { t.Fatal(err) }

    res, err := pl.ProcessPing(ctx, model.Ping{TripID: "trip1", UserID: "owner", Lat: 12.9700, Lng: 77.6000, IsMoving: true})
    if err != nil { t.Fatal(err) }
    if !res.Saved || res.Tracked {
        t.Fatalf("result = %+v", res)
    }
    trip, _ := s.GetTrip(ctx, "trip1")
    if trip.Status != model.TripActive {
        t.Fatalf("first ping should promote PLANNED to ACTIVE, got %s", trip.Status)
    }
    if trip.StartedAt == nil || trip.LastPosition == nil {
        t.Fatalf("live fields not set: %+v", trip)
    }
    pings, _ := s.ListPingsByTrip(ctx, "trip1", time.Time{}, time.Time{})
    if len(pings) != 1 || pings[0].ID == "" {
        t.Fatalf("ping not persisted with generated id: %+v", pings)
    }
    b.mu.Lock()
    defer b.mu.Unlock()
    if len(b.events) != 1 || b.events[0] != "fam/position" {
        t.Fatalf("broadcast events = %v", b.events)
    }
}

func TestProcessPingThrottle(t *testing.T) {
    pl, s, n, _, _ := testPipeline(t)
    ctx := context.Background()
    if err := s.SaveTrip(ctx, routeTrip()); err != nil { t.Fatal(err) }

    now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
    pl.Registry.now = func() time.Time { return now }
    pl.Registry.Start("trip1", "owner")

    ping := model.Ping{TripID: "trip1", UserID: "owner", Lat: 12.9700, Lng: 77.6000, IsMoving: true}
    res, err := pl.ProcessPing(ctx, ping)
    if err != nil { t.Fatal(err) }
    if res.UpdateSent || res.Reason != "interval not elapsed" {
        t.Fatalf("ping at start time must not notify: %+v", res)
    }

    now = now.Add(5*time.Minute - time.Millisecond)
    res, err = pl.ProcessPing(ctx, ping)
    if err != nil { t.Fatal(err) }
    if res.UpdateSent || res.Reason != "interval not elapsed" {
        t.Fatalf("inside window: %+v", res)
    }
    if n.count() != 0 {
        t.Fatalf("updates = %d, want 0 before the interval elapses", n.count())
    }

    now = now.Add(time.Millisecond)
    res, err = pl.ProcessPing(ctx, ping)
    if err != nil { t.Fatal(err) }
    if !res.UpdateSent {
        t.Fatalf("at exactly the interval the update is due: %+v", res)
    }
    if n.count() != 1 {
        t.Fatalf("updates = %d, want 1", n.count())
    }
    trip, _ := s.GetTrip(ctx, "trip1")
    if trip.LastNotifiedAt == nil {
        t.Fatalf("trip.lastNotifiedAt not recorded")
    }
}

func TestProcessPingNoMembersLeavesThrottle(t *testing.T) {
    pl, s, n, _, _ := testPipeline(t)
    ctx := context.Background()
    trip := routeTrip()
    trip.ID = "solo"
    trip.OwnerID = "loner"
    if err := s.SaveUser(ctx, model.User{ID: "loner", Name: "Solo"}); err != nil { t.Fatal(err) }
    if err := s.SaveTrip(ctx, trip); err != nil { t.Fatal(err) }
    now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
    pl.Registry.now = func() time.Time { return now }
    pl.Registry.Start("solo", "loner")
    now = now.Add(5 * time.Minute)

    res, err := pl.ProcessPing(ctx, model.Ping{TripID: "solo", UserID: "loner", Lat: 12.9700, Lng: 77.6000, IsMoving: true})
    if err != nil { t.Fatal(err) }
    if res.UpdateSent || res.Reason != "no members" {
        t.Fatalf("result = %+v", res)
    }
    if n.count() != 0 {
        t.Fatalf("no update should have been attempted")
    }
    // throttle was not claimed, so the next ping is still eligible
    if !pl.Registry.Due("solo") {
        t.Fatalf("throttle must stay open when nobody was notified")
    }
}

func TestDeviationEdgeTriggered(t *testing.T) {
    pl, s, _, a, _ := testPipeline(t)
    ctx := context.Background()
    if err := s.SaveTrip(ctx, routeTrip()); err != nil { t.Fatal(err) }
    pl.Registry.Start("trip1", "owner")

    on := model.Ping{TripID: "trip1", UserID: "owner", Lat: 12.9705, Lng: 77.6000, IsMoving: true}
    off := model.Ping{TripID: "trip1", UserID: "owner", Lat: 12.9705, Lng: 77.6010, IsMoving: true} // ~108m east

    for _, p := range []model.Ping{on, off, off, off} {
        if _, err := pl.ProcessPing(ctx, p); err != nil { t.Fatal(err) }
    }
    if a.deviations != 1 {
        t.Fatalf("deviations = %d, want 1 (edge-triggered)", a.deviations)
    }
    trip, _ := s.GetTrip(ctx, "trip1")
    if !trip.IsDeviated || trip.DeviationCount != 1 {
        t.Fatalf("trip = deviated:%v count:%d", trip.IsDeviated, trip.DeviationCount)
    }

    // rejoin, then leave again: a second alert fires
    for _, p := range []model.Ping{on, off} {
        if _, err := pl.ProcessPing(ctx, p); err != nil { t.Fatal(err) }
    }
    if a.deviations != 2 {
        t.Fatalf("deviations = %d, want 2 after rejoin", a.deviations)
    }
}

func TestNoDeviationBeforeJoiningRoute(t *testing.T) {
    pl, s, _, a, _ := testPipeline(t)
    ctx := context.Background()
    if err := s.SaveTrip(ctx, routeTrip()); err != nil { t.Fatal(err) }

    // far from the route, never joined it
    far := model.Ping{TripID: "trip1", UserID: "owner", Lat: 12.9800, Lng: 77.6100, IsMoving: true}
    for i := 0; i < 3; i++ {
        if _, err := pl.ProcessPing(ctx, far); err != nil { t.Fatal(err) }
    }
    if a.deviations != 0 {
        t.Fatalf("pre-join distance must not alert, got %d", a.deviations)
    }
}

func TestProgressNeverDecreases(t *testing.T) {
    pl, s, _, _, _ := testPipeline(t)
    ctx := context.Background()
    if err := s.SaveTrip(ctx, routeTrip()); err != nil { t.Fatal(err) }

    ahead := model.Ping{TripID: "trip1", UserID: "owner", Lat: 12.9725, Lng: 77.6000, IsMoving: true}
    behind := model.Ping{TripID: "trip1", UserID: "owner", Lat: 12.9702, Lng: 77.6000, IsMoving: true}
    if _, err := pl.ProcessPing(ctx, ahead); err != nil { t.Fatal(err) }
    trip, _ := s.GetTrip(ctx, "trip1")
    progress := trip.RouteProgressIdx
    if progress < 2 {
        t.Fatalf("progress = %d, want >= 2", progress)
    }
    if _, err := pl.ProcessPing(ctx, behind); err != nil { t.Fatal(err) }
    trip, _ = s.GetTrip(ctx, "trip1")
    if trip.RouteProgressIdx < progress {
        t.Fatalf("progress went backwards: %d -> %d", progress, trip.RouteProgressIdx)
    }
}

func TestStopAlertAfterStreak(t *testing.T) {
    pl, s, _, a, _ := testPipeline(t)
    ctx := context.Background()
    if err := s.SaveTrip(ctx, routeTrip()); err != nil { t.Fatal(err) }
    pl.Registry.Start("trip1", "owner")

    still := model.Ping{TripID: "trip1", UserID: "owner", Lat: 12.9705, Lng: 77.6000, IsMoving: false}
    for i := 0; i < 3; i++ {
        if _, err := pl.ProcessPing(ctx, still); err != nil { t.Fatal(err) }
    }
    if a.stops != 1 {
        t.Fatalf("stops = %d, want 1 after threshold pings", a.stops)
    }
    // streak reset: two more still pings are not enough for another alert
    for i := 0; i < 2; i++ {
        if _, err := pl.ProcessPing(ctx, still); err != nil { t.Fatal(err) }
    }
    if a.stops != 1 {
        t.Fatalf("stops = %d, streak should have reset", a.stops)
    }
}

package alert

import (
    "context"
    "errors"
    "strings"
    "sync"
    "testing"
    "time"

    "safetrack/internal/model"
    "safetrack/internal/notify"
    "safetrack/internal/store"
)

type fakeNotifier struct {
    mu    sync.Mutex
    sent  []string // contact|text
    fail  map[string]bool
}

func (f *fakeNotifier) Send(ctx context.Context, contact, text string) notify.Result {
    f.mu.Lock(); defer f.mu.Unlock()
    f.sent = append(f.sent, contact+"|"+text)
    if f.fail[contact] { return notify.Result{Err: "unreachable"} }
    return notify.Result{OK: true}
}
func (f *fakeNotifier) SendPeriodicUpdate(ctx context.Context, contact string, u notify.Update) notify.Result {
    return notify.Result{OK: true}
}
func (f *fakeNotifier) SendSummary(ctx context.Context, contact string, s notify.Summary) notify.Result {
    return notify.Result{OK: true}
}

type fakeBroker struct {
    mu     sync.Mutex
    events []string
}

func (f *fakeBroker) Publish(group, eventType string, data any) {
    f.mu.Lock(); defer f.mu.Unlock()
    f.events = append(f.events, group+"/"+eventType)
}

func testDispatcher(t *testing.T) (*Dispatcher, *store.Memory, *fakeNotifier, *fakeBroker) {
    t.Helper()
    s := store.NewMemory()
    ctx := context.Background()
    for _, u := range []model.User{
        {ID: "sender", Name: "Alice", Contact: "alice"},
        {ID: "m1", Name: "Bob", Contact: "bob"},
        {ID: "m2", Name: "Cara", Contact: "cara"},
    } {
        if err := s.SaveUser(ctx, u); err != nil { t.Fatal(err) }
    }
    for _, uid := range []string{"sender", "m1", "m2"} {
        if err := s.AddMembership(ctx, model.Membership{GroupCode: "fam", UserID: uid}); err != nil { t.Fatal(err) }
    }
    n := &fakeNotifier{fail: map[string]bool{}}
    b := &fakeBroker{}
    return &Dispatcher{Store: s, Notifier: n, Broker: b}, s, n, b
}

func TestSendSOSBroadcasts(t *testing.T) {
    d, s, n, b := testDispatcher(t)
    ctx := context.Background()

    a, dr, err := d.SendSOS(ctx, "sender", "trip1", 12.97, 77.59, "flat tire")
    if err != nil { t.Fatal(err) }
    if a.Type != model.AlertSOS || !a.IsSent {
        t.Fatalf("alert = %+v", a)
    }
    if dr.Attempted != 2 || dr.Succeeded != 2 {
        t.Fatalf("dispatch = %+v", dr)
    }
    n.mu.Lock()
    for _, s := range n.sent {
        if strings.HasPrefix(s, "alice|") {
            t.Fatalf("sender must not receive their own SOS")
        }
        if !strings.Contains(s, "EMERGENCY") || !strings.Contains(s, "maps.google.com") || !strings.Contains(s, "flat tire") {
            t.Fatalf("message = %q", s)
        }
        if !strings.Contains(s, "Contact: alice") {
            t.Fatalf("message must carry the sender's contact: %q", s)
        }
        if !strings.Contains(s, a.TS.Format(time.RFC3339)) {
            t.Fatalf("message must carry the timestamp: %q", s)
        }
    }
    n.mu.Unlock()

    // position ping persisted even before broadcast outcome was known
    pings, _ := s.ListPingsByTrip(ctx, "trip1", time.Time{}, time.Time{})
    if len(pings) != 1 || pings[0].IsMoving {
        t.Fatalf("pings = %+v", pings)
    }
    b.mu.Lock()
    defer b.mu.Unlock()
    if len(b.events) != 1 || b.events[0] != "fam/alert" {
        t.Fatalf("events = %v", b.events)
    }
}

func TestSendSOSNoCircle(t *testing.T) {
    d, s, _, _ := testDispatcher(t)
    ctx := context.Background()
    if err := s.SaveUser(ctx, model.User{ID: "loner", Name: "Solo"}); err != nil { t.Fatal(err) }

    _, _, err := d.SendSOS(ctx, "loner", "trip9", 1, 2, "")
    if !errors.Is(err, ErrNoCircle) {
        t.Fatalf("expected ErrNoCircle, got %v", err)
    }
    // the ping still landed
    pings, _ := s.ListPingsByTrip(ctx, "trip9", time.Time{}, time.Time{})
    if len(pings) != 1 {
        t.Fatalf("sos ping should survive a failed broadcast, got %d", len(pings))
    }
}

func TestSendSOSNoMembers(t *testing.T) {
    d, s, _, _ := testDispatcher(t)
    ctx := context.Background()
    if err := s.SaveUser(ctx, model.User{ID: "only", Name: "Only"}); err != nil { t.Fatal(err) }
    if err := s.AddMembership(ctx, model.Membership{GroupCode: "empty", UserID: "only"}); err != nil { t.Fatal(err) }

    a, _, err := d.SendSOS(ctx, "only", "", 1, 2, "")
    if !errors.Is(err, ErrNoMembers) {
        t.Fatalf("expected ErrNoMembers, got %v", err)
    }
    // alert persisted but unsent
    got, gerr := d.Store.GetAlert(ctx, a.ID)
    if gerr != nil || got.IsSent {
        t.Fatalf("alert = %+v err=%v", got, gerr)
    }
}

func TestSendSOSWithoutTripRecordsPosition(t *testing.T) {
    d, s, _, _ := testDispatcher(t)
    ctx := context.Background()

    if _, _, err := d.SendSOS(ctx, "sender", "", 12.97, 77.59, ""); err != nil { t.Fatal(err) }
    pings, err := s.ListPingsByTrip(ctx, "", time.Time{}, time.Time{})
    if err != nil { t.Fatal(err) }
    if len(pings) != 1 || pings[0].IsMoving || pings[0].Lat != 12.97 {
        t.Fatalf("position must be recorded without an active trip, pings = %+v", pings)
    }
}

func TestSendSOSNeverThrottled(t *testing.T) {
    d, _, n, _ := testDispatcher(t)
    ctx := context.Background()

    _, dr1, err := d.SendSOS(ctx, "sender", "trip1", 1, 2, "")
    if err != nil { t.Fatal(err) }
    time.Sleep(time.Millisecond)
    _, dr2, err := d.SendSOS(ctx, "sender", "trip1", 1, 2, "")
    if err != nil { t.Fatal(err) }

    if dr1.Attempted != 2 || dr2.Attempted != 2 {
        t.Fatalf("back-to-back broadcasts must both go out in full: %+v %+v", dr1, dr2)
    }
    n.mu.Lock()
    defer n.mu.Unlock()
    if len(n.sent) != 4 {
        t.Fatalf("sent = %d, want 4", len(n.sent))
    }
}

func TestSendSOSPartialFailure(t *testing.T) {
    d, _, n, _ := testDispatcher(t)
    n.fail["bob"] = true

    a, dr, err := d.SendSOS(context.Background(), "sender", "", 1, 2, "")
    if err != nil { t.Fatal(err) }
    if dr.Attempted != 2 || dr.Succeeded != 1 {
        t.Fatalf("dispatch = %+v", dr)
    }
    if !a.IsSent {
        t.Fatalf("one success is enough to mark the alert sent")
    }
}

func TestAcknowledgeIdempotent(t *testing.T) {
    d, _, _, _ := testDispatcher(t)
    ctx := context.Background()
    a, err := d.Create(ctx, model.Alert{UserID: "sender", Type: model.AlertDeviation, TripID: "t1"})
    if err != nil { t.Fatal(err) }

    first, err := d.Acknowledge(ctx, a.ID)
    if err != nil || !first.IsAcknowledged { t.Fatalf("ack: %+v %v", first, err) }
    second, err := d.Acknowledge(ctx, a.ID)
    if err != nil || !second.IsAcknowledged { t.Fatalf("second ack must be a no-op: %v", err) }

    if _, err := d.Cancel(ctx, a.ID); !errors.Is(err, ErrAlreadyAcked) {
        t.Fatalf("cancel after ack: %v", err)
    }
}

func TestCancelThenAcknowledge(t *testing.T) {
    d, _, _, _ := testDispatcher(t)
    ctx := context.Background()
    a, err := d.Create(ctx, model.Alert{UserID: "sender", Type: model.AlertSOS})
    if err != nil { t.Fatal(err) }

    if _, err := d.Cancel(ctx, a.ID); err != nil { t.Fatal(err) }
    if _, err := d.Cancel(ctx, a.ID); err != nil { t.Fatalf("second cancel must be a no-op: %v", err) }
    if _, err := d.Acknowledge(ctx, a.ID); !errors.Is(err, ErrAlreadyCancelled) {
        t.Fatalf("ack after cancel: %v", err)
    }
}

func TestCreateRejectsUnknownType(t *testing.T) {
    d, _, _, _ := testDispatcher(t)
    if _, err := d.Create(context.Background(), model.Alert{UserID: "sender", Type: "WEIRD"}); err == nil {
        t.Fatalf("unknown type must be rejected")
    }
}

func TestRaiseDeviationNotifiesCircle(t *testing.T) {
    d, s, n, _ := testDispatcher(t)
    ctx := context.Background()
    trip := model.Trip{ID: "t1", OwnerID: "sender", Status: model.TripActive}
    if err := s.SaveTrip(ctx, trip); err != nil { t.Fatal(err) }

    d.RaiseDeviation(ctx, trip, model.Ping{Lat: 12.97, Lng: 77.59})
    n.mu.Lock()
    if len(n.sent) != 2 {
        t.Fatalf("sent = %v", n.sent)
    }
    if !strings.Contains(n.sent[0], "off the planned route") {
        t.Fatalf("message = %q", n.sent[0])
    }
    n.mu.Unlock()

    alerts, _ := d.TripAlerts(ctx, "t1", time.Time{}, time.Time{})
    if len(alerts) != 1 || alerts[0].Type != model.AlertDeviation || !alerts[0].IsSent {
        t.Fatalf("alerts = %+v", alerts)
    }
}

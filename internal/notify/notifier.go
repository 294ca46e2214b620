// Package notify delivers messages to circle members. Delivery failures are
// data, not errors: every send returns a Result and the caller decides what
// to do with the misses.
package notify

import (
    "context"
    "fmt"
    "log"
    "sync"
    "time"

    "safetrack/internal/model"
)

// Result is the outcome of a single delivery attempt.
type Result struct {
    OK  bool
    Err string
}

// Update is a periodic location notification for one trip.
type Update struct {
    TripID     string    `json:"tripId"`
    UserName   string    `json:"userName"`
    Lat        float64   `json:"lat"`
    Lng        float64   `json:"lng"`
    SpeedMps   float64   `json:"speedMps,omitempty"`
    MapURL     string    `json:"mapUrl"`
    ETASeconds *int      `json:"etaSeconds,omitempty"`
    TS         time.Time `json:"ts"`
}

// Summary is a daily digest notification.
type Summary struct {
    UserName       string `json:"userName"`
    Date           string `json:"date"`
    TripCount      int    `json:"tripCount"`
    DeviationCount int    `json:"deviationCount"`
    SOSCount       int    `json:"sosCount"`
    LastTripTime   string `json:"lastTripTime"`
}

// Notifier sends messages to a single contact address.
type Notifier interface {
    Send(ctx context.Context, contact, text string) Result
    SendPeriodicUpdate(ctx context.Context, contact string, u Update) Result
    SendSummary(ctx context.Context, contact string, s Summary) Result
}

// MapURL formats a shareable maps link for a position.
func MapURL(lat, lng float64) string {
    return fmt.Sprintf("https://maps.google.com/?q=%f,%f", lat, lng)
}

// Fanout delivers to every recipient concurrently and collects per-recipient
// outcomes. Recipients without a contact address are counted as failures.
func Fanout(ctx context.Context, users []model.User, send func(ctx context.Context, u model.User) Result) model.DispatchResult {
    res := model.DispatchResult{Attempted: len(users), Outcomes: make([]model.Outcome, len(users))}
    var wg sync.WaitGroup
    for i, u := range users {
        wg.Add(1)
        go func(i int, u model.User) {
            defer wg.Done()
            out := model.Outcome{UserID: u.ID, Contact: u.Contact}
            if u.Contact == "" {
                out.Err = "no contact"
            } else {
                r := send(ctx, u)
                out.OK = r.OK
                out.Err = r.Err
            }
            res.Outcomes[i] = out
        }(i, u)
    }
    wg.Wait()
    for _, o := range res.Outcomes {
        if o.OK { res.Succeeded++ }
    }
    return res
}

// LogNotifier writes deliveries to the process log. Used when no gateway
// is configured, and in tests.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, contact, text string) Result {
    log.Printf("notify send contact=%s text=%q", contact, text)
    return Result{OK: true}
}

func (LogNotifier) SendPeriodicUpdate(ctx context.Context, contact string, u Update) Result {
    log.Printf("notify update contact=%s trip=%s pos=%.5f,%.5f", contact, u.TripID, u.Lat, u.Lng)
    return Result{OK: true}
}

func (LogNotifier) SendSummary(ctx context.Context, contact string, s Summary) Result {
    log.Printf("notify summary contact=%s date=%s trips=%d", contact, s.Date, s.TripCount)
    return Result{OK: true}
}

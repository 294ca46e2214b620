package track

import "time"

// DefaultPeriodicInterval is the minimum gap between periodic circle
// updates for one trip.
const DefaultPeriodicInterval = 5 * time.Minute

// ShouldNotify reports whether a periodic update is due: the full interval
// must have elapsed since lastNotifiedAt. Start seeds lastNotifiedAt with
// the start time, so the first update fires one interval after tracking
// begins. An elapsed time exactly equal to the interval is due.
func ShouldNotify(lastNotifiedAt, now time.Time, interval time.Duration) bool {
    if interval <= 0 { interval = DefaultPeriodicInterval }
    return now.Sub(lastNotifiedAt) >= interval
}

package track

import (
    "testing"
    "time"
)

func TestShouldNotifyBoundaries(t *testing.T) {
    base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
    interval := 5 * time.Minute

    if ShouldNotify(base, base, interval) {
        t.Fatalf("0ms elapsed must be throttled")
    }
    if ShouldNotify(base, base.Add(interval-time.Millisecond), interval) {
        t.Fatalf("299999ms elapsed must be throttled")
    }
    if !ShouldNotify(base, base.Add(interval), interval) {
        t.Fatalf("exactly 300000ms elapsed must be due")
    }
}

func TestRegistryStartSeedsThrottle(t *testing.T) {
    now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
    r := NewRegistry(5 * time.Minute)
    r.now = func() time.Time { return now }
    r.Start("t1", "u1")

    if r.Due("t1") {
        t.Fatalf("no update is due right after start")
    }
    now = now.Add(5*time.Minute - time.Millisecond)
    if r.Due("t1") {
        t.Fatalf("no update is due 299999ms after start")
    }
    now = now.Add(time.Millisecond)
    if !r.Due("t1") {
        t.Fatalf("update is due one full interval after start")
    }
}

func TestRegistryStartStop(t *testing.T) {
    r := NewRegistry(time.Minute)
    r.Start("t1", "u1")
    if !r.IsTracked("t1") {
        t.Fatalf("t1 should be tracked")
    }
    if !r.Stop("t1") {
        t.Fatalf("stop of tracked trip should report true")
    }
    if r.Stop("t1") {
        t.Fatalf("stop of untracked trip should report false")
    }
}

func TestRegistryDoubleStartResetsState(t *testing.T) {
    r := NewRegistry(time.Minute)
    r.Start("t1", "u1")
    r.Touch("t1", false)
    r.Touch("t1", false)
    r.Start("t1", "u1")
    if got := r.Touch("t1", false); got != 1 {
        t.Fatalf("streak after restart = %d, want 1", got)
    }
}

func TestRegistryClaimUpdateRace(t *testing.T) {
    now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
    r := NewRegistry(5 * time.Minute)
    r.now = func() time.Time { return now }
    r.Start("t1", "u1")

    if r.ClaimUpdate("t1") {
        t.Fatalf("claim right after start must lose, the window opens one interval later")
    }
    now = now.Add(5 * time.Minute)
    if !r.ClaimUpdate("t1") {
        t.Fatalf("claim after the window should win")
    }
    if r.ClaimUpdate("t1") {
        t.Fatalf("second claim in the same window must lose")
    }
    now = now.Add(5 * time.Minute)
    if !r.ClaimUpdate("t1") {
        t.Fatalf("claim after the next window should win")
    }
    if r.ClaimUpdate("missing") {
        t.Fatalf("claim for untracked trip must fail")
    }
}

func TestRegistryStopStreak(t *testing.T) {
    r := NewRegistry(time.Minute)
    r.Start("t1", "u1")
    r.Touch("t1", false)
    r.Touch("t1", false)
    if got := r.Touch("t1", false); got != 3 {
        t.Fatalf("streak = %d, want 3", got)
    }
    if got := r.Touch("t1", true); got != 0 {
        t.Fatalf("moving ping should clear streak, got %d", got)
    }
    if got := r.Touch("missing", true); got != -1 {
        t.Fatalf("untracked touch = %d, want -1", got)
    }
}

func TestRegistryStats(t *testing.T) {
    r := NewRegistry(5 * time.Minute)
    r.Start("t1", "u1")
    r.Start("t2", "u2")
    s := r.Stats()
    if s.ActiveCount != 2 || len(s.Trackers) != 2 {
        t.Fatalf("stats = %+v", s)
    }
    if s.IntervalMs != (5 * time.Minute).Milliseconds() {
        t.Fatalf("intervalMs = %d", s.IntervalMs)
    }
}

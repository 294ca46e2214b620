// Package summary builds the end-of-day digest for each traveler and
// delivers it to their circles.
package summary

import (
    "context"
    "log"
    "time"

    "safetrack/internal/model"
    "safetrack/internal/notify"
    "safetrack/internal/store"
)

type Generator struct {
    Store    store.Store
    Notifier notify.Notifier
    Loc      *time.Location
}

func NewGenerator(s store.Store, n notify.Notifier, loc *time.Location) *Generator {
    if loc == nil { loc = time.Local }
    return &Generator{Store: s, Notifier: n, Loc: loc}
}

func (g *Generator) dayWindow(date time.Time) (time.Time, time.Time) {
    d := date.In(g.Loc)
    start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, g.Loc)
    end := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, g.Loc)
    return start, end
}

// ForUser computes one user's digest for the given calendar day and sends
// it to every circle member. Deliveries run one at a time; a digest is not
// urgent enough to fan out concurrently.
func (g *Generator) ForUser(ctx context.Context, userID string, date time.Time) (model.DailySummary, error) {
    start, end := g.dayWindow(date)
    out := model.DailySummary{UserID: userID, Date: start.Format("2006-01-02"), LastTripTime: "None today"}

    user, err := g.Store.GetUser(ctx, userID)
    if err != nil { return out, err }

    trips, err := g.Store.ListTripsByUser(ctx, userID, start, end)
    if err != nil { return out, err }
    alerts, err := g.Store.ListAlertsByUser(ctx, userID, start, end)
    if err != nil { return out, err }

    out.TripCount = len(trips)
    for _, t := range trips {
        // end time when the trip finished, start time otherwise
        ts := t.StartedAt
        if t.EndedAt != nil { ts = t.EndedAt }
        if ts != nil {
            out.LastTripTime = ts.In(g.Loc).Format("3:04 PM")
        }
    }
    for _, a := range alerts {
        switch a.Type {
        case model.AlertDeviation:
            out.DeviationCount++
        case model.AlertSOS:
            out.SOSCount++
        }
    }

    members, err := g.circleMembers(ctx, userID)
    if err != nil { return out, err }
    if len(members) == 0 {
        out.Skipped = true
        out.SkipReason = "no circle members"
        return out, nil
    }

    msg := notify.Summary{
        UserName:       user.Name,
        Date:           out.Date,
        TripCount:      out.TripCount,
        DeviationCount: out.DeviationCount,
        SOSCount:       out.SOSCount,
        LastTripTime:   out.LastTripTime,
    }
    for _, m := range members {
        o := model.Outcome{UserID: m.ID, Contact: m.Contact}
        if m.Contact == "" {
            o.Err = "no contact"
        } else {
            r := g.Notifier.SendSummary(ctx, m.Contact, msg)
            o.OK = r.OK
            o.Err = r.Err
        }
        out.Outcomes = append(out.Outcomes, o)
    }
    return out, nil
}

// ForAll runs the digest for every user who started a trip today. One
// user's failure never stops the batch.
func (g *Generator) ForAll(ctx context.Context, date time.Time) (model.BatchResult, error) {
    start, _ := g.dayWindow(date)
    owners, err := g.Store.ListTripOwnersSince(ctx, start)
    if err != nil { return model.BatchResult{}, err }

    res := model.BatchResult{Users: len(owners)}
    for _, uid := range owners {
        s, err := g.ForUser(ctx, uid, date)
        if err != nil {
            log.Printf("summary: user %s: %v", uid, err)
            continue
        }
        res.Succeeded++
        res.Summaries = append(res.Summaries, s)
    }
    return res, nil
}

func (g *Generator) circleMembers(ctx context.Context, userID string) ([]model.User, error) {
    groups, err := g.Store.ListGroupsForUser(ctx, userID)
    if err != nil { return nil, err }
    seen := map[string]struct{}{}
    ids := []string{}
    for _, grp := range groups {
        mems, err := g.Store.ListMembersByGroup(ctx, grp)
        if err != nil { return nil, err }
        for _, m := range mems {
            if m.UserID == userID { continue }
            if _, ok := seen[m.UserID]; ok { continue }
            seen[m.UserID] = struct{}{}
            ids = append(ids, m.UserID)
        }
    }
    if len(ids) == 0 { return nil, nil }
    return g.Store.ListUsersByIDs(ctx, ids)
}

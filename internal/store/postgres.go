package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "time"

    _ "github.com/jackc/pgx/v5/stdlib"

    "safetrack/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    contact TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS memberships (
    group_code TEXT NOT NULL,
    user_id TEXT NOT NULL,
    PRIMARY KEY (group_code, user_id)
);
CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships (user_id);
CREATE TABLE IF NOT EXISTS trips (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    status TEXT NOT NULL,
    doc JSONB NOT NULL,
    started_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_trips_owner_started ON trips (owner_id, started_at);
CREATE TABLE IF NOT EXISTS pings (
    id TEXT PRIMARY KEY,
    trip_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pings_trip_ts ON pings (trip_id, ts);
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    trip_id TEXT,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_trip_ts ON alerts (trip_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_user_ts ON alerts (user_id, ts DESC);
`

// Migrate creates the schema when missing (dev helper).
func (p *Postgres) Migrate(ctx context.Context) error {
    _, err := p.db.ExecContext(ctx, schema)
    return err
}

func toJSON(v any) []byte {
    b, _ := json.Marshal(v)
    return b
}

func (p *Postgres) SaveTrip(ctx context.Context, t model.Trip) error {
    var started any
    if t.StartedAt != nil { started = *t.StartedAt }
    _, err := p.db.ExecContext(ctx, `INSERT INTO trips (id, owner_id, status, doc, started_at) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO UPDATE SET owner_id=$2, status=$3, doc=$4, started_at=$5`,
        t.ID, t.OwnerID, string(t.Status), toJSON(t), started)
    return err
}

func (p *Postgres) GetTrip(ctx context.Context, id string) (model.Trip, error) {
    var doc []byte
    err := p.db.QueryRowContext(ctx, `SELECT doc FROM trips WHERE id=$1`, id).Scan(&doc)
    if errors.Is(err, sql.ErrNoRows) { return model.Trip{}, ErrNotFound }
    if err != nil { return model.Trip{}, err }
    var t model.Trip
    if err := json.Unmarshal(doc, &t); err != nil { return model.Trip{}, err }
    return t, nil
}

func (p *Postgres) ListTripsByUser(ctx context.Context, userID string, from, to time.Time) ([]model.Trip, error) {
    q := `SELECT doc FROM trips WHERE owner_id=$1 AND started_at IS NOT NULL`
    args := []any{userID}
    if !from.IsZero() { args = append(args, from); q += ` AND started_at >= $2` }
    if !to.IsZero() {
        args = append(args, to)
        if from.IsZero() { q += ` AND started_at <= $2` } else { q += ` AND started_at <= $3` }
    }
    q += ` ORDER BY started_at`
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Trip{}
    for rows.Next() {
        var doc []byte
        if err := rows.Scan(&doc); err != nil { return nil, err }
        var t model.Trip
        if err := json.Unmarshal(doc, &t); err != nil { return nil, err }
        out = append(out, t)
    }
    return out, rows.Err()
}

func (p *Postgres) ListTripOwnersSince(ctx context.Context, since time.Time) ([]string, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM trips WHERE started_at >= $1 ORDER BY owner_id`, since)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []string{}
    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil { return nil, err }
        out = append(out, id)
    }
    return out, rows.Err()
}

func (p *Postgres) SavePing(ctx context.Context, pg model.Ping) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO pings (id, trip_id, user_id, ts, doc) VALUES ($1,$2,$3,$4,$5)`,
        pg.ID, pg.TripID, pg.UserID, pg.TS, toJSON(pg))
    return err
}

func (p *Postgres) ListPingsByTrip(ctx context.Context, tripID string, from, to time.Time) ([]model.Ping, error) {
    q := `SELECT doc FROM pings WHERE trip_id=$1`
    args := []any{tripID}
    if !from.IsZero() { args = append(args, from); q += ` AND ts >= $2` }
    if !to.IsZero() {
        args = append(args, to)
        if from.IsZero() { q += ` AND ts <= $2` } else { q += ` AND ts <= $3` }
    }
    q += ` ORDER BY ts`
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Ping{}
    for rows.Next() {
        var doc []byte
        if err := rows.Scan(&doc); err != nil { return nil, err }
        var pg model.Ping
        if err := json.Unmarshal(doc, &pg); err != nil { return nil, err }
        out = append(out, pg)
    }
    return out, rows.Err()
}

func (p *Postgres) PurgePingsBefore(ctx context.Context, cutoff time.Time) (int, error) {
    res, err := p.db.ExecContext(ctx, `DELETE FROM pings WHERE ts < $1`, cutoff)
    if err != nil { return 0, err }
    n, _ := res.RowsAffected()
    return int(n), nil
}

func (p *Postgres) SaveAlert(ctx context.Context, a model.Alert) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO alerts (id, trip_id, user_id, type, ts, doc) VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO UPDATE SET doc=$6`,
        a.ID, nullIfEmpty(a.TripID), a.UserID, string(a.Type), a.TS, toJSON(a))
    return err
}

func (p *Postgres) GetAlert(ctx context.Context, id string) (model.Alert, error) {
    var doc []byte
    err := p.db.QueryRowContext(ctx, `SELECT doc FROM alerts WHERE id=$1`, id).Scan(&doc)
    if errors.Is(err, sql.ErrNoRows) { return model.Alert{}, ErrNotFound }
    if err != nil { return model.Alert{}, err }
    var a model.Alert
    if err := json.Unmarshal(doc, &a); err != nil { return model.Alert{}, err }
    return a, nil
}

func (p *Postgres) listAlerts(ctx context.Context, col, key string, from, to time.Time) ([]model.Alert, error) {
    q := `SELECT doc FROM alerts WHERE ` + col + `=$1`
    args := []any{key}
    if !from.IsZero() { args = append(args, from); q += ` AND ts >= $2` }
    if !to.IsZero() {
        args = append(args, to)
        if from.IsZero() { q += ` AND ts <= $2` } else { q += ` AND ts <= $3` }
    }
    q += ` ORDER BY ts DESC`
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Alert{}
    for rows.Next() {
        var doc []byte
        if err := rows.Scan(&doc); err != nil { return nil, err }
        var a model.Alert
        if err := json.Unmarshal(doc, &a); err != nil { return nil, err }
        out = append(out, a)
    }
    return out, rows.Err()
}

func (p *Postgres) ListAlertsByTrip(ctx context.Context, tripID string, from, to time.Time) ([]model.Alert, error) {
    return p.listAlerts(ctx, "trip_id", tripID, from, to)
}

func (p *Postgres) ListAlertsByUser(ctx context.Context, userID string, from, to time.Time) ([]model.Alert, error) {
    return p.listAlerts(ctx, "user_id", userID, from, to)
}

func (p *Postgres) SaveUser(ctx context.Context, u model.User) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO users (id, name, contact) VALUES ($1,$2,$3)
        ON CONFLICT (id) DO UPDATE SET name=$2, contact=$3`, u.ID, u.Name, u.Contact)
    return err
}

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
    var u model.User
    err := p.db.QueryRowContext(ctx, `SELECT id, name, contact FROM users WHERE id=$1`, id).Scan(&u.ID, &u.Name, &u.Contact)
    if errors.Is(err, sql.ErrNoRows) { return model.User{}, ErrNotFound }
    if err != nil { return model.User{}, err }
    return u, nil
}

func (p *Postgres) ListUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
    out := []model.User{}
    for _, id := range ids {
        u, err := p.GetUser(ctx, id)
        if errors.Is(err, ErrNotFound) { continue }
        if err != nil { return nil, err }
        out = append(out, u)
    }
    return out, nil
}

func (p *Postgres) AddMembership(ctx context.Context, m model.Membership) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO memberships (group_code, user_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
        m.GroupCode, m.UserID)
    return err
}

func (p *Postgres) ListMembersByGroup(ctx context.Context, code string) ([]model.Membership, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT group_code, user_id FROM memberships WHERE group_code=$1 ORDER BY user_id`, code)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Membership{}
    for rows.Next() {
        var m model.Membership
        if err := rows.Scan(&m.GroupCode, &m.UserID); err != nil { return nil, err }
        out = append(out, m)
    }
    return out, rows.Err()
}

func (p *Postgres) ListGroupsForUser(ctx context.Context, userID string) ([]string, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT group_code FROM memberships WHERE user_id=$1 ORDER BY group_code`, userID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []string{}
    for rows.Next() {
        var code string
        if err := rows.Scan(&code); err != nil { return nil, err }
        out = append(out, code)
    }
    return out, rows.Err()
}

func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}

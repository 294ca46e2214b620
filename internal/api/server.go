package api

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "time"

    "safetrack/internal/alert"
    "safetrack/internal/auth"
    "safetrack/internal/config"
    "safetrack/internal/metrics"
    "safetrack/internal/notify"
    "safetrack/internal/store"
    "safetrack/internal/summary"
    "safetrack/internal/track"
)

type Server struct {
    Cfg       *config.Config
    Store     store.Store
    Auth      *auth.Verifier
    Broker    EventBroker
    Registry  *track.Registry
    Pipeline  *track.Pipeline
    Alerts    *alert.Dispatcher
    Summaries *summary.Generator
    Locations *LocationCache
}

// NewServer wires the full service. With no database.url the in-memory
// store is used; with no redis.url events stay instance-local.
func NewServer(cfg *config.Config) (*Server, error) {
    var st store.Store
    if cfg.Database.URL == "" {
        st = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.Database.URL)
        if err != nil {
            return nil, err
        }
        if err := sp.Migrate(context.Background()); err != nil {
            log.Printf("server: migrate: %v", err)
        }
        st = sp
    }

    var broker EventBroker
    if cfg.Redis.URL != "" {
        if rb, err := NewRedisBroker(cfg.Redis.URL); err == nil { broker = rb } else {
            log.Printf("server: redis broker unavailable, falling back to in-memory: %v", err)
            broker = NewBroker()
        }
    } else {
        broker = NewBroker()
    }

    var notifier notify.Notifier
    if cfg.Notifier.GatewayURL != "" {
        notifier = notify.NewHTTPNotifier(cfg.Notifier.GatewayURL, cfg.Notifier.Secret,
            time.Duration(cfg.Notifier.TimeoutSec)*time.Second, cfg.Notifier.RatePerSec, cfg.Notifier.Burst)
    } else {
        notifier = notify.LogNotifier{}
    }

    s := &Server{
        Cfg:       cfg,
        Store:     st,
        Auth:      auth.NewVerifierFromEnv(),
        Broker:    broker,
        Locations: NewLocationCache(),
    }
    pub := &publisher{s: s}
    s.Registry = track.NewRegistry(cfg.PeriodicInterval())
    s.Alerts = &alert.Dispatcher{Store: st, Notifier: notifier, Broker: pub}
    s.Pipeline = &track.Pipeline{
        Store:      st,
        Registry:   s.Registry,
        Notifier:   notifier,
        Alerts:     s.Alerts,
        Broker:     pub,
        ThresholdM: cfg.Tracking.DeviationThresholdM,
        StopPings:  cfg.Tracking.StopPingThreshold,
    }
    s.Summaries = summary.NewGenerator(st, notifier, cfg.SummaryLocation())
    return s, nil
}

// publisher adapts the event broker to the narrow Publish interface the
// domain packages expect, and keeps the latest-location cache warm.
type publisher struct {
    s *Server
}

func (p *publisher) Publish(groupCode, eventType string, data any) {
    payload := toMap(data)
    if eventType == "position" {
        lat, _ := payload["lat"].(float64)
        lng, _ := payload["lng"].(float64)
        tripID, _ := payload["tripId"].(string)
        userID, _ := payload["userId"].(string)
        ts := fmt.Sprint(payload["ts"])
        p.s.Locations.Upsert(groupCode, tripID, userID, lat, lng, ts)
    }
    metrics.LiveEvents.WithLabelValues(eventType).Inc()
    p.s.Broker.Publish(groupCode, Event{Type: eventType, Data: payload})
}

func toMap(data any) map[string]any {
    if m, ok := data.(map[string]any); ok { return m }
    b, err := json.Marshal(data)
    if err != nil { return map[string]any{} }
    m := map[string]any{}
    if err := json.Unmarshal(b, &m); err != nil { return map[string]any{} }
    return m
}

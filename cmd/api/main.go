package main

import (
    "bufio"
    "context"
    "log"
    "net"
    "net/http"
    "os"
    "strconv"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "safetrack/internal/api"
    "safetrack/internal/config"
    "safetrack/internal/metrics"
)

func main() {
    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }
    metrics.RegisterDefault()

    mux := http.NewServeMux()

    // Ingestion
    mux.HandleFunc("/v1/pings", srvDeps.PingsHandler)

    // Trips: GET, /track/start, /track/stop, /alerts
    mux.HandleFunc("/v1/trips/", srvDeps.TripsHandler)
    mux.HandleFunc("/v1/tracking/stats", srvDeps.TrackingStatsHandler)

    // Alerts & SOS
    mux.HandleFunc("/v1/sos", srvDeps.SOSHandler)
    mux.HandleFunc("/v1/alerts", srvDeps.AlertsHandler)
    mux.HandleFunc("/v1/alerts/", srvDeps.AlertByIDHandler)

    // Daily summaries
    mux.HandleFunc("/v1/summaries/", srvDeps.SummariesHandler)

    // Live: SSE per circle, WebSocket multiplexer
    mux.HandleFunc("/v1/groups/", srvDeps.GroupsHandler)
    mux.HandleFunc("/v1/live/ws", srvDeps.LiveWSHandler)

    // Health & ops
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.HandleFunc("/debugz", srvDeps.DebugJSON)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    srv := &http.Server{
        Addr:              cfg.Server.Addr,
        Handler:           logMiddleware(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    if cfg.Tracking.PingRetentionDays > 0 {
        go retentionSweeper(srvDeps, cfg.Tracking.PingRetentionDays)
    }

    log.Printf("API listening on %s", cfg.Server.Addr)
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

// retentionSweeper purges pings older than the configured horizon once an
// hour. Purely a storage bound; tracking state never depends on old pings.
func retentionSweeper(s *api.Server, days int) {
    ticker := time.NewTicker(time.Hour)
    defer ticker.Stop()
    for range ticker.C {
        ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
        cutoff := time.Now().AddDate(0, 0, -days)
        n, err := s.Store.PurgePingsBefore(ctx, cutoff)
        cancel()
        if err != nil {
            log.Printf("retention: purge failed: %v", err)
            continue
        }
        if n > 0 {
            log.Printf("retention: purged %d pings older than %s", n, cutoff.Format(time.RFC3339))
        }
    }
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        code := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, code).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, code).Observe(dur.Seconds())
        log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
    })
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// Hijack keeps the WebSocket upgrade working through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    if h, ok := r.ResponseWriter.(http.Hijacker); ok { return h.Hijack() }
    return nil, nil, http.ErrNotSupported
}

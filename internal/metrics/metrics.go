package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // PingsIngested counts accepted position pings by outcome
    PingsIngested = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "pings_ingested_total", Help: "Position pings processed by outcome."},
        []string{"outcome"},
    )
    // AlertsCreated counts alerts raised by type
    AlertsCreated = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "alerts_created_total", Help: "Alerts raised by type."},
        []string{"type"},
    )
    // NotificationDeliveries counts notification outcomes by kind and status
    NotificationDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "notification_deliveries_total", Help: "Notification deliveries by kind and status."},
        []string{"kind", "status"},
    )
    // NotificationLatency tracks gateway delivery latencies in milliseconds
    NotificationLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "notification_delivery_latency_ms", Help: "Notification delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"kind", "status"},
    )
    // LiveEvents counts realtime events published by type
    LiveEvents = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "live_events_total", Help: "Realtime events published by type."},
        []string{"type"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(PingsIngested)
        Registry.MustRegister(AlertsCreated)
        Registry.MustRegister(NotificationDeliveries)
        Registry.MustRegister(NotificationLatency)
        Registry.MustRegister(LiveEvents)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

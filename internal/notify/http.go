package notify

import (
    "bytes"
    "context"
    "crypto/hmac"
    "crypto/sha256"
    "encoding/json"
    "fmt"
    "net/http"
    "time"

    "golang.org/x/time/rate"

    "safetrack/internal/metrics"
)

// HTTPNotifier posts JSON envelopes to a delivery gateway. Requests are
// signed with HMAC-SHA256 over the raw body and paced by a token bucket so
// a large fan-out cannot flood the gateway.
type HTTPNotifier struct {
    URL     string
    Secret  string
    HTTP    *http.Client
    Limiter *rate.Limiter
}

func NewHTTPNotifier(url, secret string, timeout time.Duration, perSec float64, burst int) *HTTPNotifier {
    return &HTTPNotifier{
        URL:     url,
        Secret:  secret,
        HTTP:    &http.Client{Timeout: timeout},
        Limiter: rate.NewLimiter(rate.Limit(perSec), burst),
    }
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers
func SignHMAC(secret string, body []byte) string {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write(body)
    return fmt.Sprintf("%x", mac.Sum(nil))
}

type envelope struct {
    Kind    string `json:"kind"`
    Contact string `json:"contact"`
    Text    string `json:"text,omitempty"`
    Update  *Update  `json:"update,omitempty"`
    Summary *Summary `json:"summary,omitempty"`
}

func (n *HTTPNotifier) Send(ctx context.Context, contact, text string) Result {
    return n.post(ctx, envelope{Kind: "message", Contact: contact, Text: text})
}

func (n *HTTPNotifier) SendPeriodicUpdate(ctx context.Context, contact string, u Update) Result {
    return n.post(ctx, envelope{Kind: "update", Contact: contact, Update: &u})
}

func (n *HTTPNotifier) SendSummary(ctx context.Context, contact string, s Summary) Result {
    return n.post(ctx, envelope{Kind: "summary", Contact: contact, Summary: &s})
}

func (n *HTTPNotifier) post(ctx context.Context, e envelope) Result {
    if err := n.Limiter.Wait(ctx); err != nil {
        return Result{Err: err.Error()}
    }
    payload, err := json.Marshal(e)
    if err != nil { return Result{Err: err.Error()} }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
    if err != nil { return Result{Err: err.Error()} }
    req.Header.Set("Content-Type", "application/json")
    if n.Secret != "" {
        req.Header.Set("X-Signature", SignHMAC(n.Secret, payload))
        req.Header.Set("X-Kind", e.Kind)
    }
    start := time.Now()
    resp, err := n.HTTP.Do(req)
    latency := float64(time.Since(start).Milliseconds())
    if err != nil {
        metrics.NotificationDeliveries.WithLabelValues(e.Kind, "error").Inc()
        metrics.NotificationLatency.WithLabelValues(e.Kind, "error").Observe(latency)
        return Result{Err: err.Error()}
    }
    defer resp.Body.Close()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        metrics.NotificationDeliveries.WithLabelValues(e.Kind, "failed").Inc()
        metrics.NotificationLatency.WithLabelValues(e.Kind, "failed").Observe(latency)
        return Result{Err: fmt.Sprintf("gateway status %d", resp.StatusCode)}
    }
    metrics.NotificationDeliveries.WithLabelValues(e.Kind, "ok").Inc()
    metrics.NotificationLatency.WithLabelValues(e.Kind, "ok").Observe(latency)
    return Result{OK: true}
}

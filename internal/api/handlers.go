package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "safetrack/internal/alert"
    "safetrack/internal/buildinfo"
    "safetrack/internal/model"
    "safetrack/internal/store"
    "safetrack/internal/track"
)

var ErrBadStatus = errors.New("trip is not trackable")

// PingsHandler handles POST /v1/pings, the position ingestion endpoint.
func (s *Server) PingsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req pingRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    pr := s.getPrincipal(r)
    if req.UserID == "" { req.UserID = pr.UserID }
    if err := req.validate(); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid ping", err.Error(), r.URL.Path)
        return
    }
    res, err := s.Pipeline.ProcessPing(r.Context(), req.toPing())
    if err != nil {
        switch {
        case errors.Is(err, track.ErrValidation):
            writeProblem(w, http.StatusBadRequest, "Invalid ping", err.Error(), r.URL.Path)
        case errors.Is(err, store.ErrNotFound):
            writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
        default:
            writeProblem(w, http.StatusInternalServerError, "Ping failed", err.Error(), r.URL.Path)
        }
        return
    }
    writeJSON(w, http.StatusOK, res)
}

// TripsHandler handles /v1/trips/{id} and /v1/trips/{id}/track/{start|stop}.
func (s *Server) TripsHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/trips/")
    parts := strings.Split(rest, "/")
    if parts[0] == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    id := parts[0]

    if len(parts) == 1 {
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        trip, err := s.Store.GetTrip(r.Context(), id)
        if err != nil {
            if errors.Is(err, store.ErrNotFound) {
                writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
                return
            }
            writeProblem(w, http.StatusInternalServerError, "Load failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, trip)
        return
    }

    if len(parts) == 2 && parts[1] == "alerts" {
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        alerts, err := s.Alerts.TripAlerts(r.Context(), id, time.Time{}, time.Time{})
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
        return
    }

    if len(parts) == 3 && parts[1] == "track" {
        if r.Method != http.MethodPost {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        switch parts[2] {
        case "start":
            trip, err := s.Store.GetTrip(r.Context(), id)
            if err != nil {
                if errors.Is(err, store.ErrNotFound) {
                    writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
                    return
                }
                writeProblem(w, http.StatusInternalServerError, "Load failed", err.Error(), r.URL.Path)
                return
            }
            if trip.Status == model.TripCompleted || trip.Status == model.TripCancelled {
                writeProblem(w, http.StatusConflict, "Conflict", ErrBadStatus.Error(), r.URL.Path)
                return
            }
            s.Registry.Start(trip.ID, trip.OwnerID)
            writeJSON(w, http.StatusOK, map[string]any{"tripId": trip.ID, "tracking": true})
        case "stop":
            existed := s.Registry.Stop(id)
            writeJSON(w, http.StatusOK, map[string]any{"tripId": id, "tracking": false, "wasTracked": existed})
        default:
            writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        }
        return
    }
    writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
}

// TrackingStatsHandler handles GET /v1/tracking/stats.
func (s *Server) TrackingStatsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    writeJSON(w, http.StatusOK, s.Registry.Stats())
}

// SOSHandler handles POST /v1/sos.
func (s *Server) SOSHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req sosRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := req.validate(); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid SOS", err.Error(), r.URL.Path)
        return
    }
    pr := s.getPrincipal(r)
    if pr.UserID == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid SOS", "caller identity required", r.URL.Path)
        return
    }
    a, dr, err := s.Alerts.SendSOS(r.Context(), pr.UserID, req.TripID, *req.Lat, *req.Lng, req.Description)
    if err != nil {
        switch {
        case errors.Is(err, store.ErrNotFound):
            writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
        case errors.Is(err, alert.ErrNoCircle), errors.Is(err, alert.ErrNoMembers):
            writeProblem(w, http.StatusConflict, "SOS not delivered", err.Error(), r.URL.Path)
        default:
            writeProblem(w, http.StatusInternalServerError, "SOS failed", err.Error(), r.URL.Path)
        }
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"alert": a, "dispatch": dr})
}

// AlertsHandler handles POST /v1/alerts and GET /v1/alerts?tripId=|userId=.
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var a model.Alert
        if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if a.UserID == "" { a.UserID = s.getPrincipal(r).UserID }
        created, err := s.Alerts.Create(r.Context(), a)
        if err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid alert", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, created)
    case http.MethodGet:
        q := r.URL.Query()
        var (
            alerts []model.Alert
            err    error
        )
        switch {
        case q.Get("tripId") != "":
            alerts, err = s.Alerts.TripAlerts(r.Context(), q.Get("tripId"), time.Time{}, time.Time{})
        case q.Get("userId") != "":
            alerts, err = s.Alerts.UserAlerts(r.Context(), q.Get("userId"), time.Time{}, time.Time{})
        default:
            writeProblem(w, http.StatusBadRequest, "Invalid query", "tripId or userId required", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// AlertByIDHandler handles /v1/alerts/{id} and /v1/alerts/{id}/{ack|cancel}.
func (s *Server) AlertByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/alerts/")
    parts := strings.Split(rest, "/")
    if parts[0] == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    id := parts[0]

    if len(parts) == 1 {
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        a, err := s.Store.GetAlert(r.Context(), id)
        if err != nil {
            if errors.Is(err, store.ErrNotFound) {
                writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
                return
            }
            writeProblem(w, http.StatusInternalServerError, "Load failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, a)
        return
    }

    if len(parts) == 2 && r.Method == http.MethodPost {
        var (
            a   model.Alert
            err error
        )
        switch parts[1] {
        case "ack":
            a, err = s.Alerts.Acknowledge(r.Context(), id)
        case "cancel":
            a, err = s.Alerts.Cancel(r.Context(), id)
        default:
            writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
            return
        }
        if err != nil {
            switch {
            case errors.Is(err, store.ErrNotFound):
                writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
            case errors.Is(err, alert.ErrAlreadyAcked), errors.Is(err, alert.ErrAlreadyCancelled):
                writeProblem(w, http.StatusConflict, "Conflict", err.Error(), r.URL.Path)
            default:
                writeProblem(w, http.StatusInternalServerError, "Update failed", err.Error(), r.URL.Path)
            }
            return
        }
        writeJSON(w, http.StatusOK, a)
        return
    }
    writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
}

// SummariesHandler handles POST /v1/summaries/run and POST /v1/summaries/{userId}.
func (s *Server) SummariesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/summaries/")
    if rest == "" || strings.Contains(rest, "/") {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    if rest == "run" {
        res, err := s.Summaries.ForAll(r.Context(), time.Now())
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Summary batch failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, res)
        return
    }
    out, err := s.Summaries.ForUser(r.Context(), rest, time.Now())
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Summary failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, out)
}

// GroupsHandler handles /v1/groups/{code}/events/stream (SSE) and
// /v1/groups/{code}/locations.
func (s *Server) GroupsHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/groups/")
    parts := strings.Split(rest, "/")
    if parts[0] == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    code := parts[0]

    if len(parts) == 2 && parts[1] == "locations" {
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"locations": s.Locations.ListByGroup(code)})
        return
    }

    if len(parts) == 3 && parts[1] == "events" && parts[2] == "stream" {
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        flusher, ok := w.(http.Flusher)
        if !ok {
            writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
            return
        }
        w.Header().Set("Content-Type", "text/event-stream")
        w.Header().Set("Cache-Control", "no-cache")
        w.Header().Set("Connection", "keep-alive")
        ch := s.Broker.Subscribe(code)
        defer s.Broker.Unsubscribe(code, ch)
        // initial heartbeat
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"group\":\"%s\",\"ts\":\"%s\"}\n\n", code, time.Now().Format(time.RFC3339))
        flusher.Flush()
        done := r.Context().Done()
        for {
            select {
            case <-done:
                return
            case evt := <-ch:
                b, _ := json.Marshal(evt.Data)
                fmt.Fprintf(w, "event: %s\n", evt.Type)
                fmt.Fprintf(w, "data: %s\n\n", string(b))
                flusher.Flush()
            case <-time.After(15 * time.Second):
                fmt.Fprintf(w, "event: heartbeat\n")
                fmt.Fprintf(w, "data: {\"group\":\"%s\",\"ts\":\"%s\"}\n\n", code, time.Now().Format(time.RFC3339))
                flusher.Flush()
            }
        }
    }
    writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
}

// HealthHandler handles GET /healthz.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

type pinger interface {
    Ping(ctx context.Context) error
}

// ReadyHandler handles GET /readyz; checks the database when one is wired.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    if p, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
        defer cancel()
        if err := p.Ping(ctx); err != nil {
            writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
            return
        }
    }
    writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

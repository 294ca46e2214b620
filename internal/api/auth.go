// Package api implements HTTP handlers and helpers for the SafeTrack service.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
	UserID string
	Role   string // admin, guardian, traveler
	Group  string
}

// getPrincipal extracts the caller identity from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{UserID: pr.UserID, Role: pr.Role, Group: pr.Group}
        }
    }
    userID := r.Header.Get("X-User-Id")
    role := r.Header.Get("X-Role")
    group := r.Header.Get("X-Group")
    if role == "" {
        role = "traveler"
    }
    return Principal{UserID: userID, Role: role, Group: group}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

package api

import (
	"sync"
)

// LatestLocation holds the latest known position for a traveler in a circle.
type LatestLocation struct {
	Group  string  `json:"groupCode"`
	TripID string  `json:"tripId"`
	UserID string  `json:"userId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	TS     string  `json:"ts"`
}

// LocationCache stores latest traveler positions per circle/user.
type LocationCache struct {
	mu sync.Mutex
	// key: groupCode|userId
	m map[string]LatestLocation
}

// NewLocationCache constructs a LocationCache.
func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]LatestLocation{}} }

func (c *LocationCache) key(group, userID string) string {
	return group + "|" + userID
}

// Upsert stores or updates the latest position for a traveler.
func (c *LocationCache) Upsert(group, tripID, userID string, lat, lng float64, ts string) {
	if group == "" || userID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(group, userID)
	c.m[k] = LatestLocation{Group: group, TripID: tripID, UserID: userID, Lat: lat, Lng: lng, TS: ts}
}

// ListByGroup returns the latest positions for travelers in a circle.
func (c *LocationCache) ListByGroup(group string) []LatestLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []LatestLocation{}
	prefix := group + "|"
	for k, v := range c.m {
		// simple prefix match
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, v)
		}
	}
	return out
}

// Package geo holds the pure geometry used by live tracking: great-circle
// distance and point-to-route deviation checks.
package geo

import (
    "errors"
    "math"

    "safetrack/internal/model"
)

var ErrEmptyRoute = errors.New("route has no points")

const earthRadiusM = 6371000.0

// DistanceM returns the haversine distance between two points in meters.
func DistanceM(a, b model.GeoPoint) float64 {
    lat1 := a.Lat * math.Pi / 180
    lat2 := b.Lat * math.Pi / 180
    dLat := (b.Lat - a.Lat) * math.Pi / 180
    dLng := (b.Lng - a.Lng) * math.Pi / 180
    h := math.Sin(dLat/2)*math.Sin(dLat/2) +
        math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
    return 2 * earthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Fix is the result of locating a position against a route.
type Fix struct {
    ProgressIdx int     // index of the nearest segment at or past fromIdx
    DistanceM   float64 // meters from the route at that segment
    Deviated    bool
}

// Locate finds the nearest route segment at or after fromIdx and reports
// whether the position is farther than thresholdM from it. The scan never
// looks behind fromIdx, so progress along the route is monotonic even when
// the route crosses itself.
func Locate(pos model.GeoPoint, route []model.GeoPoint, fromIdx int, thresholdM float64) (Fix, error) {
    if len(route) == 0 { return Fix{}, ErrEmptyRoute }
    if fromIdx < 0 { fromIdx = 0 }
    if fromIdx >= len(route) { fromIdx = len(route) - 1 }
    if len(route) == 1 {
        d := DistanceM(pos, route[0])
        return Fix{ProgressIdx: 0, DistanceM: d, Deviated: d > thresholdM}, nil
    }
    best := math.MaxFloat64
    bestIdx := fromIdx
    for i := fromIdx; i < len(route)-1; i++ {
        d := pointToSegmentM(pos, route[i], route[i+1])
        if d < best {
            best = d
            bestIdx = i
        }
    }
    if fromIdx == len(route)-1 {
        // already at the final vertex; compare against it directly
        best = DistanceM(pos, route[fromIdx])
        bestIdx = fromIdx
    }
    return Fix{ProgressIdx: bestIdx, DistanceM: best, Deviated: best > thresholdM}, nil
}

// pointToSegmentM projects p onto segment ab on a local equirectangular
// plane. Good to well under a meter at route-segment scale, which is all
// the deviation check needs.
func pointToSegmentM(p, a, b model.GeoPoint) float64 {
    latRef := (a.Lat + b.Lat) / 2 * math.Pi / 180
    scale := math.Cos(latRef)

    px := p.Lng * scale
    py := p.Lat
    ax := a.Lng * scale
    ay := a.Lat
    bx := b.Lng * scale
    by := b.Lat

    dx := bx - ax
    dy := by - ay
    if dx == 0 && dy == 0 { return DistanceM(p, a) }

    t := ((px-ax)*dx + (py-ay)*dy) / (dx*dx + dy*dy)
    if t < 0 { t = 0 }
    if t > 1 { t = 1 }

    proj := model.GeoPoint{
        Lat: a.Lat + t*(b.Lat-a.Lat),
        Lng: a.Lng + t*(b.Lng-a.Lng),
    }
    return DistanceM(p, proj)
}

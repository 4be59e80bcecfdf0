// Package geo provides great-circle distance helpers for radius searches.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// PointFrom builds a point from nullable coordinates. ok is false when either
// coordinate is missing or out of range.
func PointFrom(lat, lon *float64) (Point, bool) {
	if lat == nil || lon == nil {
		return Point{}, false
	}
	p := Point{Lat: *lat, Lon: *lon}
	return p, p.Valid()
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the Haversine distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h just outside [0, 1] for antipodal pairs.
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Box is a latitude/longitude rectangle.
type Box struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// BoundingBox returns a rectangle enclosing every point within radiusKm of
// center. It over-approximates the circle, so callers still filter with
// Distance. Near the poles the longitude span covers the whole globe.
func BoundingBox(center Point, radiusKm float64) Box {
	if radiusKm < 0 {
		radiusKm = 0
	}
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi

	box := Box{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
		MinLon: -180,
		MaxLon: 180,
	}

	cosLat := math.Cos(toRadians(center.Lat))
	if cosLat < 1e-9 || box.MinLat == -90 || box.MaxLat == 90 {
		return box
	}
	ratio := math.Sin(radiusKm/EarthRadiusKm) / cosLat
	if ratio >= 1 {
		return box
	}
	dLon := math.Asin(ratio) * 180 / math.Pi
	box.MinLon = center.Lon - dLon
	box.MaxLon = center.Lon + dLon
	// Boxes crossing the antimeridian are widened to the full range.
	if box.MinLon < -180 || box.MaxLon > 180 {
		box.MinLon, box.MaxLon = -180, 180
	}
	return box
}

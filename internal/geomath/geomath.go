// Package geomath implements the small amount of planar/spherical geometry
// the pipeline needs: polygon area, representative points, and containment
// tests on WGS84 coordinates.
package geomath

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/twpayne/go-geom"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

const earthRadiusKm = 6371.0088

// AreaKm2 returns the spherical area of a Polygon or MultiPolygon in km².
// Holes are subtracted. Unsupported geometry types yield 0.
func AreaKm2(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonAreaKm2(t)
	case *geom.MultiPolygon:
		var sum float64
		for i := 0; i < t.NumPolygons(); i++ {
			sum += polygonAreaKm2(t.Polygon(i))
		}
		return sum
	default:
		return 0
	}
}

func polygonAreaKm2(p *geom.Polygon) float64 {
	if p.NumLinearRings() == 0 {
		return 0
	}
	area := ringAreaKm2(p.LinearRing(0))
	for i := 1; i < p.NumLinearRings(); i++ {
		area -= ringAreaKm2(p.LinearRing(i))
	}
	if area < 0 {
		return 0
	}
	return area
}

func ringAreaKm2(r *geom.LinearRing) float64 {
	coords := r.FlatCoords()
	stride := r.Stride()
	n := len(coords) / stride
	if n < 3 {
		return 0
	}
	pts := make([]s2.Point, 0, n)
	for i := 0; i < n; i++ {
		lon, lat := coords[i*stride], coords[i*stride+1]
		pts = append(pts, s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon)))
	}
	// Drop the closing vertex if the ring repeats it.
	if len(pts) > 1 && pts[0].ApproxEqual(pts[len(pts)-1]) {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return 0
	}
	loop := s2.LoopFromPoints(pts)
	loop.Normalize()
	return loop.Area() * earthRadiusKm * earthRadiusKm
}

// Centroid returns a representative point for the geometry: the area-weighted
// centroid of the outer ring(s) for polygons, the point itself for points.
func Centroid(g geom.T) model.LonLat {
	switch t := g.(type) {
	case *geom.Point:
		c := t.Coords()
		return model.LonLat{Lon: c[0], Lat: c[1]}
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return model.LonLat{}
		}
		lon, lat, _ := ringCentroid(t.LinearRing(0))
		return model.LonLat{Lon: lon, Lat: lat}
	case *geom.MultiPolygon:
		var sumLon, sumLat, sumW float64
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if p.NumLinearRings() == 0 {
				continue
			}
			lon, lat, w := ringCentroid(p.LinearRing(0))
			sumLon += lon * w
			sumLat += lat * w
			sumW += w
		}
		if sumW == 0 {
			return model.LonLat{}
		}
		return model.LonLat{Lon: sumLon / sumW, Lat: sumLat / sumW}
	default:
		return model.LonLat{}
	}
}

// ringCentroid computes the planar centroid of a ring via the shoelace
// formula, returning (lon, lat, |area|). Planar math is fine here: the result
// is only used as a representative point, never as a measurement.
func ringCentroid(r *geom.LinearRing) (float64, float64, float64) {
	coords := r.FlatCoords()
	stride := r.Stride()
	n := len(coords) / stride
	if n < 3 {
		if n > 0 {
			return coords[0], coords[1], 0
		}
		return 0, 0, 0
	}
	var a, cx, cy float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x0, y0 := coords[i*stride], coords[i*stride+1]
		x1, y1 := coords[j*stride], coords[j*stride+1]
		cross := x0*y1 - x1*y0
		a += cross
		cx += (x0 + x1) * cross
		cy += (y0 + y1) * cross
	}
	if a == 0 {
		// Degenerate ring: fall back to the vertex mean.
		var sx, sy float64
		for i := 0; i < n; i++ {
			sx += coords[i*stride]
			sy += coords[i*stride+1]
		}
		return sx / float64(n), sy / float64(n), 0
	}
	a /= 2
	return cx / (6 * a), cy / (6 * a), math.Abs(a)
}

// Contains reports whether the WGS84 point lies inside the Polygon or
// MultiPolygon, using even-odd ray crossing so holes are excluded.
func Contains(g geom.T, p model.LonLat) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, p)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func polygonContains(poly *geom.Polygon, p model.LonLat) bool {
	if poly.NumLinearRings() == 0 {
		return false
	}
	if !ringContains(poly.LinearRing(0), p) {
		return false
	}
	for i := 1; i < poly.NumLinearRings(); i++ {
		if ringContains(poly.LinearRing(i), p) {
			return false
		}
	}
	return true
}

func ringContains(r *geom.LinearRing, p model.LonLat) bool {
	coords := r.FlatCoords()
	stride := r.Stride()
	n := len(coords) / stride
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := coords[i*stride], coords[i*stride+1]
		xj, yj := coords[j*stride], coords[j*stride+1]
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lon < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b model.LonLat) float64 {
	la := s2.LatLngFromDegrees(a.Lat, a.Lon)
	lb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return la.Distance(lb).Radians() * earthRadiusKm
}

// BBox is a lat/lon bounding box (south, west, north, east).
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Bounds returns the bounding box of a geometry's coordinates.
func Bounds(g geom.T) BBox {
	b := g.Bounds()
	return BBox{South: b.Min(1), West: b.Min(0), North: b.Max(1), East: b.Max(0)}
}

package geom

import (
	"errors"

	gogeom "github.com/twpayne/go-geom"
)

var ErrEmptyGeometry = errors.New("empty geometry")

// TypeName returns the OGC geometry type name, e.g. "Polygon".
func TypeName(g gogeom.T) string {
	switch g.(type) {
	case *gogeom.Point:
		return "Point"
	case *gogeom.LineString:
		return "LineString"
	case *gogeom.LinearRing:
		return "LinearRing"
	case *gogeom.Polygon:
		return "Polygon"
	case *gogeom.MultiPoint:
		return "MultiPoint"
	case *gogeom.MultiLineString:
		return "MultiLineString"
	case *gogeom.MultiPolygon:
		return "MultiPolygon"
	case *gogeom.GeometryCollection:
		return "GeometryCollection"
	default:
		return "Unknown"
	}
}

// Area returns the planar area. Puntal and lineal geometries have zero area.
func Area(g gogeom.T) float64 {
	switch t := g.(type) {
	case *gogeom.Polygon:
		return t.Area()
	case *gogeom.MultiPolygon:
		return t.Area()
	case *gogeom.GeometryCollection:
		var total float64
		for _, child := range t.Geoms() {
			total += Area(child)
		}
		return total
	default:
		return 0
	}
}

// IsEmpty reports whether g has no coordinates. A collection is empty when
// all of its members are.
func IsEmpty(g gogeom.T) bool {
	switch t := g.(type) {
	case *gogeom.GeometryCollection:
		for _, child := range t.Geoms() {
			if !IsEmpty(child) {
				return false
			}
		}
		return true
	default:
		return len(g.FlatCoords()) == 0
	}
}

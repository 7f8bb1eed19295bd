package geo

import (
	"math"

	"github.com/woozymasta/mapnote/internal/editor"

	orbgeo "github.com/paulmach/orb/geo"
)

// LineLength returns the geodesic length of the line through vertices in meters.
func LineLength(vertices []editor.AnnotatedPoint) float64 {
	ls := LineString(vertices)
	if ls == nil {
		return 0
	}
	return orbgeo.Length(ls)
}

// PolygonArea returns the area enclosed by vertices in square meters.
// The result is positive regardless of winding order.
func PolygonArea(vertices []editor.AnnotatedPoint) float64 {
	poly := Polygon(vertices)
	if poly == nil {
		return 0
	}
	return math.Abs(orbgeo.Area(poly))
}

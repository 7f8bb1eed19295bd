// Package geo converts editor annotations into GeoJSON geometries.
package geo

import (
	"github.com/woozymasta/mapnote/internal/editor"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Point returns the [lng, lat] position of p.
func Point(p editor.AnnotatedPoint) orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// LineString joins vertices in order. Fewer than two vertices give nil.
func LineString(vertices []editor.AnnotatedPoint) orb.LineString {
	if len(vertices) < 2 {
		return nil
	}

	ls := make(orb.LineString, 0, len(vertices))
	for _, v := range vertices {
		ls = append(ls, Point(v))
	}
	return ls
}

// Polygon builds a closed single-ring polygon. Fewer than three vertices give nil.
func Polygon(vertices []editor.AnnotatedPoint) orb.Polygon {
	if len(vertices) < 3 {
		return nil
	}

	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, Point(v))
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// PointFeature describes one annotated entry.
func PointFeature(c editor.Collection, index int, p editor.AnnotatedPoint) *geojson.Feature {
	f := geojson.NewFeature(Point(p))
	f.ID = p.ID.String()
	f.Properties["collection"] = c.String()
	f.Properties["index"] = index
	f.Properties["district"] = p.District
	f.Properties["label"] = editor.Label(c, index, p)
	return f
}

// PointsCollection exports points as a feature collection.
func PointsCollection(points []editor.AnnotatedPoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, p := range points {
		fc.Append(PointFeature(editor.Points, i, p))
	}
	return fc
}

// FeatureCollection exports every collection of s: each entry as a point,
// the line vertices as a LineString and the polygon vertices as a closed Polygon.
func FeatureCollection(s editor.Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, c := range editor.Collections() {
		for i, p := range s.Collection(c) {
			fc.Append(PointFeature(c, i, p))
		}
	}

	if ls := LineString(s.LineVertices); ls != nil {
		f := geojson.NewFeature(ls)
		f.Properties["collection"] = editor.LineVertices.String()
		f.Properties["districts"] = districts(s.LineVertices)
		f.Properties["length_m"] = LineLength(s.LineVertices)
		fc.Append(f)
	}

	if poly := Polygon(s.PolygonVertices); poly != nil {
		f := geojson.NewFeature(poly)
		f.Properties["collection"] = editor.PolygonVertices.String()
		f.Properties["districts"] = districts(s.PolygonVertices)
		f.Properties["area_m2"] = PolygonArea(s.PolygonVertices)
		fc.Append(f)
	}

	return fc
}

// districts lists the distinct districts in first-seen order.
func districts(ps []editor.AnnotatedPoint) []string {
	seen := make(map[string]bool, len(ps))
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if !seen[p.District] {
			seen[p.District] = true
			out = append(out, p.District)
		}
	}
	return out
}

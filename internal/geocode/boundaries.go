package geocode

import (
	"context"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"
)

type district struct {
	name     string
	geometry orb.Geometry
}

// Boundaries resolves districts offline from polygons indexed in an R-tree.
type Boundaries struct {
	districts []district
	tree      rtree.RTreeG[int]
}

// LoadBoundaries reads district polygons from a GeoJSON feature collection.
// Features that are not polygons or lack the name property are skipped.
func LoadBoundaries(path, nameProperty string) (*Boundaries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return NewBoundaries(fc, nameProperty), nil
}

// NewBoundaries indexes the polygon features of fc.
func NewBoundaries(fc *geojson.FeatureCollection, nameProperty string) *Boundaries {
	b := &Boundaries{}

	for _, f := range fc.Features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}

		name := f.Properties.MustString(nameProperty, "")
		if name == "" {
			continue
		}

		bound := f.Geometry.Bound()
		b.tree.Insert(
			[2]float64{bound.Min.Lon(), bound.Min.Lat()},
			[2]float64{bound.Max.Lon(), bound.Max.Lat()},
			len(b.districts),
		)
		b.districts = append(b.districts, district{name: name, geometry: f.Geometry})
	}

	return b
}

// Len returns the number of indexed districts.
func (b *Boundaries) Len() int { return len(b.districts) }

// Name implements Geocoder.
func (b *Boundaries) Name() string { return "boundaries" }

// Reverse implements Geocoder. Overlapping districts resolve to the one
// listed first in the source file.
func (b *Boundaries) Reverse(_ context.Context, lat, lng float64) (Address, error) {
	pt := orb.Point{lng, lat}

	match := -1
	b.tree.Search([2]float64{lng, lat}, [2]float64{lng, lat}, func(_, _ [2]float64, idx int) bool {
		if match >= 0 && idx > match {
			return true
		}
		if contains(b.districts[idx].geometry, pt) {
			match = idx
		}
		return true
	})

	if match < 0 {
		return Address{}, ErrNoDistrict
	}
	return Address{District: b.districts[match].name}, nil
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	}
	return false
}

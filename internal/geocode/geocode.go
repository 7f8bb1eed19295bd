// Package geocode resolves map coordinates into administrative districts.
//
// Providers implement Geocoder and are combined with Chain and Cached. The
// editor only sees Resolver, which never fails: any lookup error becomes the
// configured unknown label.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/mapnote/internal/metrics"
)

// ErrNoDistrict is returned when a provider has no district for a location.
var ErrNoDistrict = errors.New("no district at location")

// Address is the result of a reverse lookup.
type Address struct {
	District    string `json:"district"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Geocoder resolves a coordinate into an address.
type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, lat, lng float64) (Address, error)
}

// Chain tries geocoders in order; the first one returning a district wins.
type Chain []Geocoder

// Name implements Geocoder.
func (c Chain) Name() string { return "chain" }

// Reverse implements Geocoder.
func (c Chain) Reverse(ctx context.Context, lat, lng float64) (Address, error) {
	if len(c) == 0 {
		return Address{}, ErrNoDistrict
	}

	var errs []error
	for _, g := range c {
		addr, err := reverse(ctx, g, lat, lng)
		if err == nil && addr.District != "" {
			return addr, nil
		}
		if err == nil {
			err = ErrNoDistrict
		}
		errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))

		if ctx.Err() != nil {
			break
		}
	}

	return Address{}, errors.Join(errs...)
}

// reverse calls one provider and records its metrics.
func reverse(ctx context.Context, g Geocoder, lat, lng float64) (Address, error) {
	start := time.Now()
	metrics.GeocodeRequestsTotal.WithLabelValues(g.Name()).Inc()

	addr, err := g.Reverse(ctx, lat, lng)
	metrics.GeocodeDurationMs.WithLabelValues(g.Name()).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.GeocodeFailTotal.WithLabelValues(g.Name()).Inc()
	}

	return addr, err
}

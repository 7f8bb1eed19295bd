package geocode

import (
	"context"
	"fmt"

	"github.com/woozymasta/mapnote/internal/config"
	"github.com/woozymasta/mapnote/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Resolver maps coordinates to a district name, falling back to an unknown
// label on any failure.
type Resolver struct {
	geocoder Geocoder
	unknown  string
	log      zerolog.Logger
}

// NewResolver wraps g. An empty unknown uses config.DefaultUnknownDistrict.
func NewResolver(g Geocoder, unknown string, logger zerolog.Logger) *Resolver {
	if unknown == "" {
		unknown = config.DefaultUnknownDistrict
	}
	return &Resolver{geocoder: g, unknown: unknown, log: logger}
}

// Unknown returns the fallback label.
func (r *Resolver) Unknown() string { return r.unknown }

// Lookup returns the full address; errors are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, lat, lng float64) (Address, error) {
	return r.geocoder.Reverse(ctx, lat, lng)
}

// District implements editor.Resolver.
func (r *Resolver) District(ctx context.Context, lat, lng float64) (name string) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Float64("lat", lat).Float64("lng", lng).Msg("Reverse geocoding panicked")
			metrics.UnknownDistrictsTotal.Inc()
			name = r.unknown
		}
	}()

	addr, err := r.geocoder.Reverse(ctx, lat, lng)
	if err != nil || addr.District == "" {
		r.log.Warn().
			Err(err).
			Str("provider", r.geocoder.Name()).
			Float64("lat", lat).
			Float64("lng", lng).
			Msg("District lookup failed, using fallback")
		metrics.UnknownDistrictsTotal.Inc()
		return r.unknown
	}

	return addr.District
}

// New builds the resolver described by cfg. A nil rdb selects the in-process cache.
func New(cfg config.Geocoder, rdb *redis.Client, logger zerolog.Logger) (*Resolver, error) {
	chain := make(Chain, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case "nominatim":
			chain = append(chain, NewNominatim(cfg.Nominatim))

		case "boundaries":
			if cfg.Boundaries.File == "" {
				return nil, fmt.Errorf("geocoder boundaries: no file configured")
			}
			b, err := LoadBoundaries(cfg.Boundaries.File, cfg.Boundaries.NameProperty)
			if err != nil {
				return nil, fmt.Errorf("geocoder boundaries: %w", err)
			}
			logger.Info().Str("file", cfg.Boundaries.File).Int("districts", b.Len()).Msg("District boundaries loaded")
			chain = append(chain, b)

		default:
			return nil, fmt.Errorf("unknown geocoder provider %q", name)
		}
	}

	var g Geocoder = chain
	if !cfg.Cache.Disabled {
		var cache Cache
		if rdb != nil {
			cache = NewRedisCache(rdb, cfg.Cache.TTL)
		} else {
			cache = NewLRU(cfg.Cache.Size, cfg.Cache.TTL)
		}
		g = &Cached{Geocoder: g, Cache: cache, Precision: cfg.Cache.Precision}
	}

	return NewResolver(g, cfg.Unknown, logger), nil
}

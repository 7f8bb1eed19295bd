package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/woozymasta/mapnote/internal/config"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

type stubGeocoder struct {
	name   string
	addr   Address
	err    error
	calls  int
	panics bool
}

func (s *stubGeocoder) Name() string { return s.name }

func (s *stubGeocoder) Reverse(context.Context, float64, float64) (Address, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.addr, s.err
}

func TestChain(t *testing.T) {
	failing := &stubGeocoder{name: "a", err: errors.New("network down")}
	empty := &stubGeocoder{name: "b"}
	ok := &stubGeocoder{name: "c", addr: Address{District: "Gianyar"}}
	never := &stubGeocoder{name: "d", addr: Address{District: "Tabanan"}}

	addr, err := Chain{failing, empty, ok, never}.Reverse(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Reverse() error = %v", err)
	}
	if addr.District != "Gianyar" {
		t.Errorf("District = %q, want Gianyar", addr.District)
	}
	if never.calls != 0 {
		t.Error("providers after the first match must not be called")
	}
}

func TestChainAllFail(t *testing.T) {
	_, err := Chain{&stubGeocoder{name: "a", err: errors.New("x")}, &stubGeocoder{name: "b"}}.Reverse(context.Background(), 0, 0)
	if err == nil {
		t.Fatal("Reverse() error = nil")
	}
	if !errors.Is(err, ErrNoDistrict) {
		t.Errorf("error %v should wrap ErrNoDistrict for the empty provider", err)
	}

	if _, err := (Chain{}).Reverse(context.Background(), 0, 0); !errors.Is(err, ErrNoDistrict) {
		t.Errorf("empty chain error = %v, want ErrNoDistrict", err)
	}
}

func TestCachedStoresOnlySuccess(t *testing.T) {
	g := &stubGeocoder{name: "s", err: errors.New("timeout")}
	c := &Cached{Geocoder: g, Cache: NewLRU(10, time.Minute), Precision: 3}

	if _, err := c.Reverse(context.Background(), 1.00001, 2); err == nil {
		t.Fatal("expected error")
	}

	g.err = nil
	g.addr = Address{District: "Badung"}
	for range 2 {
		addr, err := c.Reverse(context.Background(), 1.00002, 2)
		if err != nil || addr.District != "Badung" {
			t.Fatalf("Reverse() = %+v, %v", addr, err)
		}
	}

	if g.calls != 2 {
		t.Errorf("calls = %d, want 2 (failure retried, success cached)", g.calls)
	}
}

func TestCacheKey(t *testing.T) {
	if got := CacheKey(-8.409512, 115.18894, 3); got != "revgeo:-8.410:115.189" {
		t.Errorf("CacheKey() = %q", got)
	}
}

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Minute)

	c.Set(ctx, "a", Address{District: "A"})
	c.Set(ctx, "b", Address{District: "B"})
	c.Get(ctx, "a")
	c.Set(ctx, "c", Address{District: "C"})

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("least recently used entry should be evicted")
	}
	if a, ok := c.Get(ctx, "a"); !ok || a.District != "A" {
		t.Errorf("Get(a) = %+v, %v", a, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestLRUExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Millisecond)

	c.Set(ctx, "a", Address{District: "A"})
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want expired entry dropped", c.Len())
	}
}

func square(minLng, minLat, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minLng, minLat},
		{minLng + size, minLat},
		{minLng + size, minLat + size},
		{minLng, minLat + size},
		{minLng, minLat},
	}}
}

func TestBoundaries(t *testing.T) {
	fc := geojson.NewFeatureCollection()

	badung := geojson.NewFeature(square(115.1, -8.8, 0.2))
	badung.Properties["name"] = "Badung"
	fc.Append(badung)

	gianyar := geojson.NewFeature(orb.MultiPolygon{square(115.3, -8.6, 0.1), square(115.5, -8.6, 0.1)})
	gianyar.Properties["name"] = "Gianyar"
	fc.Append(gianyar)

	// overlaps Badung, listed later
	overlap := geojson.NewFeature(square(115.15, -8.75, 0.1))
	overlap.Properties["name"] = "Overlap"
	fc.Append(overlap)

	unnamed := geojson.NewFeature(square(0, 0, 1))
	fc.Append(unnamed)

	fc.Append(geojson.NewFeature(orb.Point{115.2, -8.7}))

	b := NewBoundaries(fc, "name")
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}

	tests := []struct {
		lat, lng float64
		want     string
	}{
		{-8.7, 115.2, "Badung"},
		{-8.55, 115.55, "Gianyar"},
		{-8.55, 115.35, "Gianyar"},
		{-8.55, 115.45, ""},
		{0.5, 0.5, ""},
	}

	for _, tt := range tests {
		addr, err := b.Reverse(context.Background(), tt.lat, tt.lng)
		if tt.want == "" {
			if !errors.Is(err, ErrNoDistrict) {
				t.Errorf("Reverse(%v, %v) error = %v, want ErrNoDistrict", tt.lat, tt.lng, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Reverse(%v, %v) error = %v", tt.lat, tt.lng, err)
			continue
		}
		if addr.District != tt.want {
			t.Errorf("Reverse(%v, %v) = %q, want %q", tt.lat, tt.lng, addr.District, tt.want)
		}
	}
}

func TestResolverFallback(t *testing.T) {
	tests := []struct {
		name string
		g    *stubGeocoder
		want string
	}{
		{"success", &stubGeocoder{name: "s", addr: Address{District: "Badung"}}, "Badung"},
		{"error", &stubGeocoder{name: "s", err: errors.New("network")}, "unknown"},
		{"empty district", &stubGeocoder{name: "s"}, "unknown"},
		{"panic", &stubGeocoder{name: "s", panics: true}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.g, "", zerolog.Nop())
			if got := r.District(context.Background(), -8.4, 115.18); got != tt.want {
				t.Errorf("District() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolverCustomUnknown(t *testing.T) {
	r := NewResolver(&stubGeocoder{name: "s", err: errors.New("x")}, "Tidak diketahui", zerolog.Nop())
	if got := r.District(context.Background(), 0, 0); got != "Tidak diketahui" {
		t.Errorf("District() = %q", got)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	cfg := config.Default().Geocoder
	cfg.Providers = []string{"google"}

	if _, err := New(cfg, nil, zerolog.Nop()); err == nil {
		t.Error("New() error = nil for an unknown provider")
	}

	cfg.Providers = []string{"boundaries"}
	if _, err := New(cfg, nil, zerolog.Nop()); err == nil {
		t.Error("New() error = nil for boundaries without a file")
	}
}

func TestBatchKeepsOrder(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	badung := geojson.NewFeature(square(115.1, -8.8, 0.2))
	badung.Properties["name"] = "Badung"
	fc.Append(badung)
	gianyar := geojson.NewFeature(square(115.3, -8.6, 0.1))
	gianyar.Properties["name"] = "Gianyar"
	fc.Append(gianyar)

	r := NewResolver(NewBoundaries(fc, "name"), "", zerolog.Nop())

	coords := []Coord{
		{Lat: -8.7, Lng: 115.2},
		{Lat: -8.55, Lng: 115.35},
		{Lat: 0, Lng: 0},
		{Lat: -8.65, Lng: 115.15},
	}
	want := []string{"Badung", "Gianyar", "unknown", "Badung"}

	for _, workers := range []int{0, 1, 3, 10} {
		got := r.Batch(context.Background(), coords, workers)
		if len(got) != len(coords) {
			t.Fatalf("workers=%d: len = %d, want %d", workers, len(got), len(coords))
		}
		for i := range got {
			if got[i].Coord != coords[i] || got[i].District != want[i] {
				t.Errorf("workers=%d: [%d] = %+v, want %v %q", workers, i, got[i], coords[i], want[i])
			}
		}
	}
}

func TestBatchCancelled(t *testing.T) {
	g := &stubGeocoder{name: "s", addr: Address{District: "Badung"}}
	r := NewResolver(g, "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := r.Batch(ctx, []Coord{{1, 1}, {2, 2}}, 1)
	for _, res := range got {
		if res.District != "unknown" {
			t.Errorf("District = %q, want unknown after cancel", res.District)
		}
	}
	if g.calls != 0 {
		t.Errorf("calls = %d, want none after cancel", g.calls)
	}
}

// Package metrics declares the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapnote_clicks_total",
		Help: "Map clicks committed to a collection, by editing mode",
	}, []string{"mode"})
	DragsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapnote_drags_total",
		Help: "Marker drag-ends by outcome (applied, stale, superseded)",
	}, []string{"result"})
	GeocodeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapnote_geocode_requests_total",
		Help: "Reverse geocoding requests by provider",
	}, []string{"provider"})
	GeocodeFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapnote_geocode_fail_total",
		Help: "Failed reverse geocoding requests by provider",
	}, []string{"provider"})
	GeocodeDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapnote_geocode_duration_ms",
		Help:    "Reverse geocoding duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"provider"})
	GeocodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapnote_geocode_cache_hits_total",
		Help: "Reverse geocoding cache hits",
	})
	GeocodeCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapnote_geocode_cache_misses_total",
		Help: "Reverse geocoding cache misses",
	})
	UnknownDistrictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapnote_unknown_districts_total",
		Help: "Lookups that fell back to the unknown district label",
	})
	SavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapnote_saves_total",
		Help: "Annotation saves by driver and result",
	}, []string{"driver", "result"})
	AuthRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapnote_auth_requests_total",
		Help: "Authentication requests by operation and result",
	}, []string{"op", "result"})
	Workspaces = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapnote_workspaces",
		Help: "Open editor workspaces",
	})
	SocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapnote_socket_connections",
		Help: "Connected map widget websockets",
	})
)

func init() {
	prometheus.MustRegister(ClicksTotal)
	prometheus.MustRegister(DragsTotal)
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(GeocodeFailTotal)
	prometheus.MustRegister(GeocodeDurationMs)
	prometheus.MustRegister(GeocodeCacheHitsTotal)
	prometheus.MustRegister(GeocodeCacheMissesTotal)
	prometheus.MustRegister(UnknownDistrictsTotal)
	prometheus.MustRegister(SavesTotal)
	prometheus.MustRegister(AuthRequestsTotal)
	prometheus.MustRegister(Workspaces)
	prometheus.MustRegister(SocketConnections)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }

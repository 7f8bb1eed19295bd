// Package config handles configuration loading and shared data structures.
package config

import (
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used when the configuration leaves a field empty.
const (
	DefaultUnknownDistrict = "unknown"
	DefaultNominatimURL    = "https://nominatim.openstreetmap.org"
	DefaultDistrictPath    = "address.county"
	DefaultUserAgent       = "mapnote/1.0 (+https://github.com/woozymasta/mapnote)"
	DefaultAuthURL         = "http://localhost:1126/api"
	DefaultAttribution     = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`
)

// Config represents the root configuration file structure.
type Config struct {
	View     View     `yaml:"view" json:"view"`
	Layers   []Layer  `yaml:"layers" json:"layers"`
	Geocoder Geocoder `yaml:"geocoder" json:"-"`
	Auth     Auth     `yaml:"auth" json:"-"`
	Save     Save     `yaml:"save" json:"-"`
	Redis    Redis    `yaml:"redis" json:"-"`

	// idle workspaces are dropped after this period
	SessionTTL time.Duration `yaml:"session_ttl,omitempty" json:"-"`
}

// View is the initial map position shown to the widget.
type View struct {
	Lat  float64 `yaml:"lat" json:"lat"`
	Lng  float64 `yaml:"lng" json:"lng"`
	Zoom int     `yaml:"zoom,omitempty" json:"zoom"`
}

// Layer is a selectable tile layer of the map widget.
type Layer struct {
	Index       *int   `yaml:"index,omitempty" json:"-"`
	Name        string `yaml:"name" json:"name"`
	URL         string `yaml:"url" json:"url"`
	Attribution string `yaml:"attribution,omitempty" json:"attribution,omitempty"`
}

// Geocoder configures reverse geocoding.
type Geocoder struct {
	// providers are tried in order: nominatim, boundaries
	Providers  []string   `yaml:"providers,omitempty"`
	Unknown    string     `yaml:"unknown,omitempty"`
	Nominatim  Nominatim  `yaml:"nominatim"`
	Boundaries Boundaries `yaml:"boundaries"`
	Cache      Cache      `yaml:"cache"`
}

// Nominatim configures the online reverse geocoding service.
type Nominatim struct {
	URL          string        `yaml:"url,omitempty"`
	UserAgent    string        `yaml:"user_agent,omitempty"`
	DistrictPath string        `yaml:"district_path,omitempty"`
	Language     string        `yaml:"language,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MinInterval  time.Duration `yaml:"min_interval,omitempty"`
}

// Boundaries configures the offline district polygons source.
type Boundaries struct {
	File         string `yaml:"file,omitempty"`
	NameProperty string `yaml:"name_property,omitempty"`
}

// Cache configures the lookup cache; Redis is used when configured.
type Cache struct {
	Size      int           `yaml:"size,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
	Precision int           `yaml:"precision,omitempty"`
	Disabled  bool          `yaml:"disabled,omitempty"`
}

// Auth configures the external authentication service.
type Auth struct {
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Save configures where saved annotations go.
type Save struct {
	// log, file or postgres
	Driver      string `yaml:"driver,omitempty"`
	Dir         string `yaml:"dir,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// Redis holds the optional Redis connection.
type Redis struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Load reads and parses the YAML configuration file from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Normalize()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills empty fields with defaults and sorts layers by index, then name.
func (c *Config) Normalize() {
	if c.View.Lat == 0 && c.View.Lng == 0 {
		c.View.Lat, c.View.Lng = -8.4095, 115.1889
	}
	if c.View.Zoom <= 0 {
		c.View.Zoom = 10
	}

	if len(c.Layers) == 0 {
		c.Layers = DefaultLayers()
	}
	for i := range c.Layers {
		if c.Layers[i].Attribution == "" {
			c.Layers[i].Attribution = DefaultAttribution
		}
	}
	sort.SliceStable(c.Layers, func(i, j int) bool {
		idxI, idxJ := 999999, 999999
		if c.Layers[i].Index != nil {
			idxI = *c.Layers[i].Index
		}
		if c.Layers[j].Index != nil {
			idxJ = *c.Layers[j].Index
		}
		if idxI != idxJ {
			return idxI < idxJ
		}

		return c.Layers[i].Name < c.Layers[j].Name
	})

	g := &c.Geocoder
	if len(g.Providers) == 0 {
		g.Providers = []string{"nominatim"}
	}
	if g.Unknown == "" {
		g.Unknown = DefaultUnknownDistrict
	}
	if g.Nominatim.URL == "" {
		g.Nominatim.URL = DefaultNominatimURL
	}
	if g.Nominatim.UserAgent == "" {
		g.Nominatim.UserAgent = DefaultUserAgent
	}
	if g.Nominatim.DistrictPath == "" {
		g.Nominatim.DistrictPath = DefaultDistrictPath
	}
	if g.Nominatim.Timeout <= 0 {
		g.Nominatim.Timeout = 10 * time.Second
	}
	if g.Nominatim.MinInterval < 0 {
		g.Nominatim.MinInterval = 0
	}
	if g.Boundaries.NameProperty == "" {
		g.Boundaries.NameProperty = "name"
	}
	if g.Cache.Size <= 0 {
		g.Cache.Size = 4096
	}
	if g.Cache.TTL <= 0 {
		g.Cache.TTL = time.Hour
	}
	if g.Cache.Precision <= 0 {
		g.Cache.Precision = 5
	}

	if c.Auth.URL == "" {
		c.Auth.URL = DefaultAuthURL
	}
	if c.Auth.Timeout <= 0 {
		c.Auth.Timeout = 10 * time.Second
	}

	if c.Save.Driver == "" {
		c.Save.Driver = "log"
	}
	if c.Save.Dir == "" {
		c.Save.Dir = "annotations"
	}

	if c.SessionTTL <= 0 {
		c.SessionTTL = 12 * time.Hour
	}
}

// DefaultLayers returns the built-in tile layer catalogue.
func DefaultLayers() []Layer {
	idx := func(i int) *int { return &i }

	return []Layer{
		{Index: idx(0), Name: "Default", URL: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"},
		{Index: idx(1), Name: "Topo Map", URL: "https://{s}.tile.opentopomap.org/{z}/{x}/{y}.png"},
		{Index: idx(2), Name: "Humanitarian", URL: "https://{s}.tile.openstreetmap.fr/hot/{z}/{x}/{y}.png"},
		{Index: idx(3), Name: "Satellite", URL: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}"},
	}
}

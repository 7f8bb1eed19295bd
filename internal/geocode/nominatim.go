package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/woozymasta/mapnote/internal/config"

	"github.com/tidwall/gjson"
)

const maxResponseSize = 1 << 20

// Nominatim reverse geocodes through an OpenStreetMap Nominatim server.
type Nominatim struct {
	client       *http.Client
	baseURL      string
	userAgent    string
	districtPath string
	language     string
	minInterval  time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewNominatim creates a client from normalized configuration.
func NewNominatim(cfg config.Nominatim) *Nominatim {
	return &Nominatim{
		client:       &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		userAgent:    cfg.UserAgent,
		districtPath: cfg.DistrictPath,
		language:     cfg.Language,
		minInterval:  cfg.MinInterval,
	}
}

// Name implements Geocoder.
func (n *Nominatim) Name() string { return "nominatim" }

// Reverse implements Geocoder.
func (n *Nominatim) Reverse(ctx context.Context, lat, lng float64) (Address, error) {
	if err := n.wait(ctx); err != nil {
		return Address{}, err
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	if n.language != "" {
		q.Set("accept-language", n.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Address{}, err
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Address{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Address{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Address{}, err
	}
	if !gjson.ValidBytes(body) {
		return Address{}, fmt.Errorf("malformed response body")
	}

	res := gjson.ParseBytes(body)
	if msg := res.Get("error"); msg.Exists() {
		return Address{}, fmt.Errorf("%w: %s", ErrNoDistrict, msg.String())
	}

	return Address{
		District:    res.Get(n.districtPath).String(),
		State:       res.Get("address.state").String(),
		Country:     res.Get("address.country").String(),
		DisplayName: res.Get("display_name").String(),
	}, nil
}

// wait reserves the next request slot, keeping minInterval between requests.
func (n *Nominatim) wait(ctx context.Context) error {
	if n.minInterval <= 0 {
		return nil
	}

	n.mu.Lock()
	now := time.Now()
	slot := n.next
	if slot.Before(now) {
		slot = now
	}
	n.next = slot.Add(n.minInterval)
	n.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

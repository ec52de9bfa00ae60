package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
)

// HTTPGeoLocator queries an ip-api compatible JSON endpoint.
// baseURL receives the address appended as a path segment.
type HTTPGeoLocator struct {
	client  *http.Client
	baseURL string
}

// NewHTTPGeoLocator creates a locator with a client-level timeout as a backstop
// to the per-call context deadline
func NewHTTPGeoLocator(baseURL string, timeout time.Duration) *HTTPGeoLocator {
	return &HTTPGeoLocator{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type geoLookupResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Lookup resolves ipAddress. Private and loopback addresses are unknown, not errors.
func (g *HTTPGeoLocator) Lookup(ctx context.Context, ipAddress string) (*models.GeoLocation, error) {
	addr, err := netip.ParseAddr(ipAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid address %q", models.ErrLookupFailed, ipAddress)
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+addr.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrLookupFailed, resp.StatusCode)
	}

	var body geoLookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", models.ErrLookupFailed, err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("%w: %s", models.ErrLookupFailed, body.Message)
	}

	return &models.GeoLocation{
		Country:   body.Country,
		City:      body.City,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}, nil
}

// Package weather captures the weather snapshot stored with a new marker:
// current conditions from OpenWeatherMap and a short reverse-geocoded
// location title.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/geodiary/mapcore/internal/model/core"
)

// UnknownLocation is used when reverse geocoding finds no usable field.
const UnknownLocation = "Unknown location"

// titleFields is the priority order of address fields used for the title.
var titleFields = []string{
	"building",
	"road",
	"neighbourhood",
	"suburb",
	"isolated_dwelling",
	"village",
	"hamlet",
	"municipality",
	"county",
	"country",
}

// Client fetches weather and location data.
type Client struct {
	baseURL    string
	apiKey     string
	geocodeURL string
	geocodeKey string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a new weather client.
func New(baseURL, apiKey, geocodeURL, geocodeKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		geocodeURL: strings.TrimRight(geocodeURL, "/"),
		geocodeKey: geocodeKey,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type currentWeather struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Icon        string `json:"icon"`
		Description string `json:"description"`
	} `json:"weather"`
	Sys struct {
		Country string `json:"country"`
	} `json:"sys"`
}

// Snapshot returns the weather at pos. dt is the capture time, not the
// observation time reported by the provider.
func (c *Client) Snapshot(ctx context.Context, pos core.Position) (*core.WeatherSnapshot, error) {
	q := coords(pos)
	q.Set("appid", c.apiKey)

	var cw currentWeather
	if err := c.getJSON(ctx, c.baseURL+"/weather?"+q.Encode(), &cw); err != nil {
		return nil, fmt.Errorf("failed to fetch weather: %w", err)
	}

	location, err := c.LocationTitle(ctx, pos)
	if err != nil {
		return nil, err
	}

	snap := &core.WeatherSnapshot{
		Temp:     cw.Main.Temp,
		Dt:       c.now().Unix(),
		Location: location,
		Country:  cw.Sys.Country,
	}
	if len(cw.Weather) > 0 {
		snap.Icon = cw.Weather[0].Icon
		snap.Description = cw.Weather[0].Description
	}
	return snap, nil
}

// LocationTitle returns the first two present address fields in priority
// order, joined by ", ".
func (c *Client) LocationTitle(ctx context.Context, pos core.Position) (string, error) {
	q := coords(pos)
	q.Set("api_key", c.geocodeKey)

	var out struct {
		Address map[string]string `json:"address"`
	}
	if err := c.getJSON(ctx, c.geocodeURL+"/reverse?"+q.Encode(), &out); err != nil {
		return "", fmt.Errorf("failed to fetch location data: %w", err)
	}
	return Title(out.Address), nil
}

// Title builds a location title from a reverse geocoding address.
func Title(address map[string]string) string {
	var parts []string
	for _, field := range titleFields {
		v, ok := address[field]
		if !ok {
			continue
		}
		parts = append(parts, v)
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return UnknownLocation
	}
	return strings.Join(parts, ", ")
}

func coords(pos core.Position) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(pos.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(pos.Lng, 'f', -1, 64))
	return q
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

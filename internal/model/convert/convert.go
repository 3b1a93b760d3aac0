// Package convert translates between wire/cache records and core models
package convert

import (
	"github.com/geodiary/mapcore/internal/model"
	"github.com/geodiary/mapcore/internal/model/core"
)

// WeatherToCore converts a wire weather record to a core snapshot.
func WeatherToCore(w *model.WeatherInfo) *core.WeatherSnapshot {
	if w == nil {
		return nil
	}
	return &core.WeatherSnapshot{
		Temp:        w.Temp,
		Dt:          w.Dt,
		Location:    w.Location,
		Icon:        w.Icon,
		Country:     w.Country,
		Description: w.Description,
	}
}

// WeatherToWire converts a core snapshot to the wire weather record.
func WeatherToWire(w *core.WeatherSnapshot) *model.WeatherInfo {
	if w == nil {
		return nil
	}
	return &model.WeatherInfo{
		Temp:        w.Temp,
		Dt:          w.Dt,
		Location:    w.Location,
		Icon:        w.Icon,
		Country:     w.Country,
		Description: w.Description,
	}
}

// CachedToCore builds a local-draft marker from a cache record.
// The cached id is ignored: cached markers are never persisted.
func CachedToCore(c model.CachedMarker) *core.Marker {
	m := core.NewMarker(0, core.Position{Lat: c.Latitude, Lng: c.Longitude})
	m.Title = c.Title
	m.Description = c.Description
	m.Category = c.Category
	m.Weather = WeatherToCore(c.WeatherInfo)
	return m
}

// CoreToCached simplifies a marker for the local cache.
func CoreToCached(m *core.Marker) model.CachedMarker {
	pos := m.Position()
	return model.CachedMarker{
		Latitude:    pos.Lat,
		Longitude:   pos.Lng,
		Title:       m.Title,
		Description: m.Description,
		Category:    m.Category,
		WeatherInfo: WeatherToWire(m.Weather),
		ID:          0,
	}
}

// CoreToRequest builds the POST /markers/user body used when migrating a
// local marker: every simplified field but the id.
func CoreToRequest(m *core.Marker) model.NewMarkerRequest {
	pos := m.Position()
	return model.NewMarkerRequest{
		Latitude:    pos.Lat,
		Longitude:   pos.Lng,
		Title:       m.Title,
		Description: m.Description,
		Category:    m.Category,
		WeatherInfo: WeatherToWire(m.Weather),
	}
}

// RemoteToCore hydrates a persisted marker from the backend.
func RemoteToCore(r model.RemoteMarker) *core.Marker {
	m := core.NewMarker(r.ID, core.Position{Lat: r.Latitude, Lng: r.Longitude})
	m.Title = r.Title
	m.Description = r.Description
	m.Category = r.Category
	if r.IsPublic != nil {
		m.Public = *r.IsPublic
	}
	for _, img := range r.Images {
		m.ImageURLs = append(m.ImageURLs, img.URL)
	}
	m.Weather = WeatherToCore(r.WeatherInfo)
	if r.User != nil {
		m.Owner = &core.Owner{
			Name:      r.User.Name,
			Email:     r.User.Email,
			AvatarURL: r.User.ProfileImageURL,
		}
	}
	return m
}

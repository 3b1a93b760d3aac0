// Package creation turns map gestures into new markers: conflict detection,
// the creation throttle and the long-press gesture.
package creation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geodiary/mapcore/internal/geo"
	"github.com/geodiary/mapcore/internal/model"
	"github.com/geodiary/mapcore/internal/model/convert"
	"github.com/geodiary/mapcore/internal/model/core"
	"github.com/geodiary/mapcore/internal/notify"
	"github.com/geodiary/mapcore/internal/registry"
	"github.com/geodiary/mapcore/internal/telemetry"
)

const (
	DefaultThrottle  = 2000 * time.Millisecond
	DefaultLongPress = 300 * time.Millisecond
)

// Backend persists a new marker and returns its server id.
type Backend interface {
	CreateMarker(ctx context.Context, req model.NewMarkerRequest) (int64, error)
}

// WeatherProvider captures the weather at a position.
type WeatherProvider interface {
	Snapshot(ctx context.Context, pos core.Position) (*core.WeatherSnapshot, error)
}

// Selector opens the edit session of a marker.
type Selector interface {
	Select(m *core.Marker) error
}

// Locator reports the device position.
type Locator interface {
	CurrentPosition(ctx context.Context) (core.Position, bool)
}

// Config holds the gesture timings.
type Config struct {
	Throttle  time.Duration
	LongPress time.Duration
}

// Dependencies holds all collaborators of the Controller.
type Dependencies struct {
	Registry *registry.Registry
	Backend  Backend
	Weather  WeatherProvider // optional
	Selector Selector
	Locator  Locator // optional
	Notifier notify.Notifier
	Recorder telemetry.Recorder
	Log      *slog.Logger
}

// Controller creates markers.
type Controller struct {
	deps Dependencies
	cfg  Config
	now  func() time.Time

	mu          sync.Mutex
	lastCreated time.Time

	press pressState
}

// New creates a Controller. Zero config durations fall back to the defaults.
func New(deps Dependencies, cfg Config) *Controller {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.LongPress <= 0 {
		cfg.LongPress = DefaultLongPress
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.Nop
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	c := &Controller{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
	}
	c.press = pressState{
		delay:        cfg.LongPress,
		afterFunc:    realAfterFunc,
		pointerOnMap: true,
		out:          make(chan core.Position, 1),
	}
	return c
}

// Create places a marker at pos. On conflict the occupant is selected and
// returned together with core.ErrConflict.
func (c *Controller) Create(ctx context.Context, pos core.Position, auth core.Auth) (*core.Marker, error) {
	if !geo.Valid(pos) {
		return nil, geo.ErrInvalidCoordinates
	}

	if existing, ok := c.deps.Registry.At(pos); ok {
		c.selectMarker(existing)
		c.deps.Notifier.Notify(notify.Info, core.ErrConflict.Error())
		return existing, core.ErrConflict
	}

	now := c.now()
	c.mu.Lock()
	throttled := !c.lastCreated.IsZero() && now.Sub(c.lastCreated) < c.cfg.Throttle
	c.mu.Unlock()
	if throttled {
		c.deps.Notifier.Notify(notify.Warning, core.ErrRateLimited.Error())
		c.deps.Recorder.Record(ctx, telemetry.MarkerRejected, nil, map[string]any{"reason": "throttle"})
		return nil, core.ErrRateLimited
	}

	weather := c.captureWeather(ctx, pos)

	var m *core.Marker
	if auth.Authenticated() {
		id, err := c.deps.Backend.CreateMarker(ctx, model.NewMarkerRequest{
			Latitude:    pos.Lat,
			Longitude:   pos.Lng,
			WeatherInfo: convert.WeatherToWire(weather),
		})
		if err != nil {
			c.deps.Log.Error("Failed to create marker", "lat", pos.Lat, "lng", pos.Lng, "error", err)
			c.deps.Notifier.Notify(notify.Error, "Failed to create marker")
			if !errors.Is(err, core.ErrNetwork) {
				err = fmt.Errorf("%w: %v", core.ErrNetwork, err)
			}
			return nil, err
		}
		m = core.NewMarker(id, pos)
		if auth.User != nil {
			owner := *auth.User
			m.Owner = &owner
		}
	} else {
		m = core.NewMarker(0, pos)
	}
	m.Weather = weather

	c.deps.Registry.Add(m)
	c.mu.Lock()
	c.lastCreated = now
	c.mu.Unlock()

	c.deps.Log.Info("Marker created", "id", m.ID(), "state", m.State().String())
	c.deps.Recorder.Record(ctx, telemetry.MarkerCreated, m, map[string]any{"weather": weather != nil})
	c.deps.Notifier.Notify(notify.Success, "Marker created")
	c.selectMarker(m)
	return m, nil
}

// CreateAtCurrentPosition places a marker at the device position.
func (c *Controller) CreateAtCurrentPosition(ctx context.Context, auth core.Auth) (*core.Marker, error) {
	if c.deps.Locator == nil {
		c.deps.Notifier.Notify(notify.Warning, core.ErrNoPosition.Error())
		return nil, core.ErrNoPosition
	}
	pos, ok := c.deps.Locator.CurrentPosition(ctx)
	if !ok {
		c.deps.Notifier.Notify(notify.Warning, core.ErrNoPosition.Error())
		return nil, core.ErrNoPosition
	}
	return c.Create(ctx, pos, auth)
}

// captureWeather returns nil when the provider is missing or fails.
func (c *Controller) captureWeather(ctx context.Context, pos core.Position) *core.WeatherSnapshot {
	if c.deps.Weather == nil {
		return nil
	}
	w, err := c.deps.Weather.Snapshot(ctx, pos)
	if err != nil {
		c.deps.Log.Warn("Weather unavailable for new marker", "error", err)
		return nil
	}
	return w
}

func (c *Controller) selectMarker(m *core.Marker) {
	if c.deps.Selector == nil {
		return
	}
	if err := c.deps.Selector.Select(m); err != nil {
		c.deps.Log.Warn("Could not select marker", "id", m.ID(), "error", err)
	}
}

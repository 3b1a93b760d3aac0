// Package mapview runs the map's interaction loop: gestures and UI commands
// arrive as dispatcher events and are applied one at a time to the marker
// registry, the edit session and the backend.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/geodiary/mapcore/internal/api"
	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/creation"
	"github.com/geodiary/mapcore/internal/dispatcher"
	"github.com/geodiary/mapcore/internal/imaging"
	"github.com/geodiary/mapcore/internal/layer"
	"github.com/geodiary/mapcore/internal/model"
	"github.com/geodiary/mapcore/internal/model/convert"
	"github.com/geodiary/mapcore/internal/model/core"
	"github.com/geodiary/mapcore/internal/notify"
	"github.com/geodiary/mapcore/internal/projector"
	"github.com/geodiary/mapcore/internal/reconcile"
	"github.com/geodiary/mapcore/internal/registry"
	"github.com/geodiary/mapcore/internal/session"
	"github.com/geodiary/mapcore/internal/telemetry"
)

var (
	// ErrInvalidToken is returned by SignIn when the backend rejects the token.
	ErrInvalidToken = errors.New("session expired, please sign in again")
	// ErrUnauthorizedEmail is returned by SignIn when the account is refused.
	ErrUnauthorizedEmail = errors.New("unauthorized email, please request access from the administrator")
)

const (
	eventBuffer = 64

	// tokenRetries is how many more times a refused token is checked before
	// sign-in gives up.
	tokenRetries = 4
)

// API is the backend surface the view needs.
type API interface {
	creation.Backend
	session.Backend
	reconcile.Backend
	SetToken(token string)
	ValidateToken(ctx context.Context) (bool, error)
}

// Cache is the anonymous marker cache.
type Cache interface {
	Load(ctx context.Context) ([]model.CachedMarker, error)
	Save(ctx context.Context, markers []model.CachedMarker) error
	Clear(ctx context.Context) error
}

// Prompter answers every confirmation the view can ask for.
type Prompter interface {
	session.Prompter
	reconcile.Prompter
}

// Dependencies holds all collaborators of the View.
type Dependencies struct {
	API        API
	Cache      Cache
	Prompter   Prompter
	Weather    creation.WeatherProvider // optional
	Locator    creation.Locator         // optional, defaults to a FixedLocator
	Compressor imaging.Compressor       // optional, defaults to imaging.NewJPEG
	Recorder   telemetry.Recorder
	Dispatcher *dispatcher.Dispatcher
	Log        *slog.Logger

	Creation config.CreationConfig
	Fetch    config.FetchConfig
}

type request struct {
	event dispatcher.Event
	reply chan result
}

type result struct {
	value any
	err   error
}

// View owns the marker state of one map.
type View struct {
	deps Dependencies

	Layer     *layer.Memory
	Registry  *registry.Registry
	Projector *projector.Projector
	Creation  *creation.Controller
	Session   *session.Session
	Engine    *reconcile.Engine
	Notes     *notify.Queue

	locator *FixedLocator
	events  chan request

	mu   sync.RWMutex
	auth core.Auth
	ctx  context.Context

	cacheDirty atomic.Bool
}

// New wires the components of a view and registers its handlers on
// deps.Dispatcher.
func New(deps Dependencies) (*View, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("mapview: dispatcher is required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.Nop
	}
	if deps.Compressor == nil {
		deps.Compressor = imaging.NewJPEG()
	}

	v := &View{
		deps:   deps,
		Layer:  layer.NewMemory(),
		Notes:  notify.NewQueue(),
		events: make(chan request, eventBuffer),
		ctx:    context.Background(),
	}
	v.locator = &FixedLocator{}
	locator := deps.Locator
	if locator == nil {
		locator = v.locator
	}

	v.Registry = registry.New(v.Layer)
	v.Projector = projector.New(v.Layer)
	v.Registry.Subscribe(v.Projector.OnChange)
	v.Registry.Subscribe(func(registry.Change) { v.cacheDirty.Store(true) })

	v.Session = session.New(session.Dependencies{
		Registry:   v.Registry,
		Backend:    deps.API,
		Prompter:   deps.Prompter,
		Icons:      v.Projector,
		Compressor: deps.Compressor,
		Notifier:   v.Notes,
		Recorder:   deps.Recorder,
		Log:        deps.Log.With("component", "session"),
		Changed:    func(*core.Marker) { v.cacheDirty.Store(true) },
	})

	v.Creation = creation.New(creation.Dependencies{
		Registry: v.Registry,
		Backend:  deps.API,
		Weather:  deps.Weather,
		Selector: v.Session,
		Locator:  locator,
		Notifier: v.Notes,
		Recorder: deps.Recorder,
		Log:      deps.Log.With("component", "creation"),
	}, creation.Config{
		Throttle:  deps.Creation.Throttle,
		LongPress: deps.Creation.LongPress,
	})

	engine, err := reconcile.New(reconcile.Dependencies{
		Registry: v.Registry,
		Backend:  deps.API,
		Cache:    deps.Cache,
		Prompter: deps.Prompter,
		Notifier: v.Notes,
		Recorder: deps.Recorder,
		Log:      deps.Log.With("component", "reconcile"),
	}, reconcile.FetchPolicy{
		InitialTimeout: deps.Fetch.InitialTimeout,
		Factor:         deps.Fetch.Factor,
		MaxAttempts:    deps.Fetch.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("creating reconcile engine: %w", err)
	}
	v.Engine = engine

	v.RegisterHandlers(deps.Dispatcher)
	return v, nil
}

// Auth returns the viewer's authentication state.
func (v *View) Auth() core.Auth {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.auth
}

// LogAttrs reports the view state for log enrichment.
func (v *View) LogAttrs() []slog.Attr {
	auth := v.Auth()
	return []slog.Attr{
		slog.Bool("authenticated", auth.Authenticated()),
		slog.Int("markers", v.Registry.Len()),
	}
}

func (v *View) loopContext() context.Context {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ctx
}

// Start loads the initial markers: the server's when a token is given, the
// local cache otherwise or when the token is refused.
func (v *View) Start(ctx context.Context, auth core.Auth) error {
	if auth.Authenticated() {
		if err := v.SignIn(ctx, auth); err == nil {
			return nil
		}
	}
	return v.loadLocal(ctx)
}

// Run drains posted events and completed long presses until ctx ends.
// Every state change of the view happens on this goroutine.
func (v *View) Run(ctx context.Context) error {
	v.mu.Lock()
	v.ctx = ctx
	v.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-v.events:
			value, err := v.handle(ctx, req.event)
			if req.reply != nil {
				req.reply <- result{value: value, err: err}
			}
		case pos := <-v.Creation.LongPresses():
			p := pos
			_, _ = v.handle(ctx, dispatcher.Event{Command: CmdLongPress, Position: &p})
		}
	}
}

// Post queues an event for the loop without waiting for it.
func (v *View) Post(ctx context.Context, e dispatcher.Event) error {
	select {
	case v.events <- request{event: e}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do queues an event and waits for the loop to handle it.
func (v *View) Do(ctx context.Context, e dispatcher.Event) (any, error) {
	reply := make(chan result, 1)
	select {
	case v.events <- request{event: e, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *View) handle(ctx context.Context, e dispatcher.Event) (any, error) {
	value, err := v.deps.Dispatcher.Dispatch(e)
	if err != nil {
		v.deps.Log.Debug("Event failed", "command", e.Command, "error", err)
	}
	v.persist(ctx)
	return value, err
}

// SignIn validates the token, reconciles local and server markers and
// switches the view to the authenticated state. An open edit session is
// closed first. On failure the previous state is kept.
func (v *View) SignIn(ctx context.Context, auth core.Auth) error {
	prev := v.Auth()
	v.leaveSession(ctx, prev)
	// a local save has to reach the cache before it is offered for migration
	v.persist(ctx)

	v.deps.API.SetToken(auth.Token)
	if err := v.validateToken(ctx); err != nil {
		v.deps.API.SetToken(prev.Token)
		v.deps.Log.Warn("Sign-in rejected", "error", err)
		if errors.Is(err, ErrUnauthorizedEmail) {
			v.Notes.Notify(notify.Error, "Unauthorized email. Please request access from the administrator.")
		} else {
			v.Notes.Notify(notify.Warning, ErrInvalidToken.Error())
		}
		return err
	}

	v.Projector.SetViewer(auth)
	res, err := v.Engine.Run(ctx, auth)
	switch {
	case errors.Is(err, reconcile.ErrAlreadyReconciled):
	case err != nil:
		v.deps.API.SetToken(prev.Token)
		v.Projector.SetViewer(prev)
		v.deps.Log.Error("Reconciliation failed", "error", err)
		v.Notes.Notify(notify.Error, "Failed to retrieve markers. Please try refreshing the page.")
		return err
	default:
		v.deps.Log.Info("Signed in", "migrated", res.Migrated, "server", res.Server)
	}

	v.mu.Lock()
	v.auth = auth
	v.mu.Unlock()
	v.Projector.Render(v.Registry.Markers())
	v.cacheDirty.Store(false)
	return nil
}

// validateToken checks the installed token, asking again up to tokenRetries
// times. A refused account is final.
func (v *View) validateToken(ctx context.Context) error {
	var (
		ok  bool
		err error
	)
	for attempt := 0; attempt <= tokenRetries; attempt++ {
		ok, err = v.deps.API.ValidateToken(ctx)
		switch {
		case ok && err == nil:
			return nil
		case errors.Is(err, api.ErrUnauthorizedEmail):
			return fmt.Errorf("%w: %v", ErrUnauthorizedEmail, err)
		case ctx.Err() != nil:
			return ctx.Err()
		}
		v.deps.Log.Debug("Token check failed", "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return ErrInvalidToken
}

// SignOut closes any open edit session, drops the token and shows the local
// markers again.
func (v *View) SignOut(ctx context.Context) error {
	v.leaveSession(ctx, v.Auth())
	v.deps.API.SetToken("")
	v.mu.Lock()
	v.auth = core.Auth{}
	v.mu.Unlock()
	v.Projector.SetViewer(core.Auth{})
	v.Engine.Reset()
	v.deps.Log.Info("Signed out")
	return v.loadLocal(ctx)
}

// leaveSession closes the edit session before an auth transition. Unsaved
// changes go through the save confirmation; whatever could not be saved is
// dropped, since the transition cannot wait for another attempt.
func (v *View) leaveSession(ctx context.Context, auth core.Auth) {
	if err := v.Session.Close(ctx, auth); err != nil {
		v.deps.Log.Warn("Dropping unsaved marker changes", "error", err)
		v.Session.Discard()
	}
}

func (v *View) loadLocal(ctx context.Context) error {
	cached, err := v.deps.Cache.Load(ctx)
	if err != nil {
		v.deps.Log.Error("Failed to read local markers", "error", err)
		cached = nil
	}
	markers := make([]*core.Marker, 0, len(cached))
	for _, c := range cached {
		markers = append(markers, convert.CachedToCore(c))
	}
	v.Registry.Replace(markers)
	v.Projector.Render(v.Registry.Markers())
	v.cacheDirty.Store(false)
	return nil
}

// persist writes the registry to the local cache while anonymous. An empty
// registry clears the cache.
func (v *View) persist(ctx context.Context) {
	if !v.cacheDirty.Swap(false) || v.Auth().Authenticated() {
		return
	}
	markers := v.Registry.Markers()
	var err error
	if len(markers) == 0 {
		err = v.deps.Cache.Clear(ctx)
	} else {
		cached := make([]model.CachedMarker, 0, len(markers))
		for _, m := range markers {
			cached = append(cached, convert.CoreToCached(m))
		}
		err = v.deps.Cache.Save(ctx, cached)
	}
	if err != nil {
		v.deps.Log.Error("Failed to save local markers", "error", err)
	}
}

// Package reconcile merges the markers created before sign-in with the
// server's markers once the user authenticates.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/geodiary/mapcore/internal/api"
	"github.com/geodiary/mapcore/internal/model"
	"github.com/geodiary/mapcore/internal/model/convert"
	"github.com/geodiary/mapcore/internal/model/core"
	"github.com/geodiary/mapcore/internal/notify"
	"github.com/geodiary/mapcore/internal/registry"
	"github.com/geodiary/mapcore/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/geodiary/mapcore/internal/reconcile"

// migrationConcurrency bounds the parallel POSTs of a migration.
const migrationConcurrency = 4

// ErrAlreadyReconciled is returned when Run is called twice for one token.
var ErrAlreadyReconciled = errors.New("already reconciled for this session")

// Backend creates and lists markers.
type Backend interface {
	Lister
	CreateMarker(ctx context.Context, req model.NewMarkerRequest) (int64, error)
}

// Cache is the local marker cache.
type Cache interface {
	Load(ctx context.Context) ([]model.CachedMarker, error)
	Clear(ctx context.Context) error
}

// Prompter asks whether local markers should be added to the account.
type Prompter interface {
	ConfirmMigration(ctx context.Context, count int) (bool, error)
}

// Dependencies holds all collaborators of the Engine.
type Dependencies struct {
	Registry *registry.Registry
	Backend  Backend
	Cache    Cache
	Prompter Prompter
	Notifier notify.Notifier
	Recorder telemetry.Recorder
	Log      *slog.Logger
}

// Result summarizes one reconciliation.
type Result struct {
	Migrated int
	Failed   int
	Server   int
	Declined bool
}

// Engine runs the sign-in reconciliation.
type Engine struct {
	deps   Dependencies
	policy FetchPolicy

	migrated metric.Int64Counter
	failed   metric.Int64Counter

	mu   sync.Mutex
	last string
}

// New creates an Engine. Metrics go to the global OTel meter provider.
func New(deps Dependencies, policy FetchPolicy) (*Engine, error) {
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.Nop
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	e := &Engine{deps: deps, policy: policy.withDefaults()}

	m := otel.Meter(instrumentationName)
	var err error
	e.migrated, err = m.Int64Counter(
		"mapview.migration.migrated",
		metric.WithDescription("Local markers posted to the backend after sign-in"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating migrated counter: %w", err)
	}
	e.failed, err = m.Int64Counter(
		"mapview.migration.failed",
		metric.WithDescription("Local markers dropped because their migration failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return e, nil
}

// Reset forgets the last reconciled token, so the next sign-in runs again.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = ""
}

// Run reconciles once per token: the cached local markers are offered for
// migration, migrated in parallel on acceptance, merged with the server's
// markers and loaded into the registry. The cache is cleared either way.
func (e *Engine) Run(ctx context.Context, auth core.Auth) (Result, error) {
	if !auth.Authenticated() {
		return Result{}, api.ErrNoToken
	}
	e.mu.Lock()
	if e.last == auth.Token {
		e.mu.Unlock()
		return Result{}, ErrAlreadyReconciled
	}
	e.last = auth.Token
	e.mu.Unlock()

	var res Result
	var migrated []*core.Marker

	cached, err := e.deps.Cache.Load(ctx)
	if err != nil {
		e.deps.Log.Error("Failed to read local markers", "error", err)
		cached = nil
	}

	if len(cached) > 0 {
		accept, err := e.deps.Prompter.ConfirmMigration(ctx, len(cached))
		if err != nil {
			e.Reset()
			return res, err
		}
		if accept {
			migrated, res.Failed = e.migrate(ctx, cached, auth)
			res.Migrated = len(migrated)
		} else {
			res.Declined = true
		}
		if err := e.deps.Cache.Clear(ctx); err != nil {
			e.deps.Log.Error("Failed to clear local markers", "error", err)
		}
	}

	remote, err := FetchWithBackoff(ctx, e.deps.Backend, e.policy, e.deps.Log)
	if err != nil {
		e.Reset()
		return res, err
	}
	server := make([]*core.Marker, 0, len(remote))
	for _, r := range remote {
		server = append(server, convert.RemoteToCore(r))
	}
	res.Server = len(server)

	// server markers come last so they win a coordinate clash
	e.deps.Registry.Replace(append(migrated, server...))

	e.deps.Log.Info("Markers reconciled",
		"migrated", res.Migrated,
		"failed", res.Failed,
		"server", res.Server,
		"declined", res.Declined,
	)
	if res.Failed > 0 {
		e.deps.Notifier.Notify(notify.Warning, fmt.Sprintf("%d local markers could not be added to your account", res.Failed))
	}
	if res.Migrated > 0 {
		e.deps.Notifier.Notify(notify.Success, fmt.Sprintf("%d local markers added to your account", res.Migrated))
	}
	return res, nil
}

// migrate posts every cached marker. Failed ones are dropped.
func (e *Engine) migrate(ctx context.Context, cached []model.CachedMarker, auth core.Auth) ([]*core.Marker, int) {
	results := make([]*core.Marker, len(cached))

	var g errgroup.Group
	g.SetLimit(migrationConcurrency)
	for i, c := range cached {
		g.Go(func() error {
			m := convert.CachedToCore(c)
			id, err := e.deps.Backend.CreateMarker(ctx, convert.CoreToRequest(m))
			if err == nil {
				err = m.AssignID(id)
			}
			if err != nil {
				e.deps.Log.Warn("Failed to migrate local marker",
					"lat", c.Latitude, "lng", c.Longitude, "error", err)
				e.deps.Recorder.Record(ctx, telemetry.MigrationFailed, m, nil)
				return nil
			}
			if auth.User != nil {
				owner := *auth.User
				m.Owner = &owner
			}
			e.deps.Recorder.Record(ctx, telemetry.MarkerMigrated, m, nil)
			results[i] = m
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*core.Marker, 0, len(results))
	for _, m := range results {
		if m != nil {
			out = append(out, m)
		}
	}
	failed := len(cached) - len(out)
	e.migrated.Add(ctx, int64(len(out)))
	e.failed.Add(ctx, int64(failed))
	return out, failed
}

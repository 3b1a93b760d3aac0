package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/geodiary/mapcore/internal/api"
	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/dispatcher"
	"github.com/geodiary/mapcore/internal/logging"
	"github.com/geodiary/mapcore/internal/mapview"
	intOtel "github.com/geodiary/mapcore/internal/otel"
	"github.com/geodiary/mapcore/internal/storage"
	"github.com/geodiary/mapcore/internal/telemetry"
	"github.com/geodiary/mapcore/internal/weather"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// AppName prefixes log file names.
const AppName = "mapcore"

// App holds every long-lived service of one CLI invocation.
type App struct {
	Log     *slog.Logger
	Zerolog zerolog.Logger

	slog      *logging.SlogManager
	logFile   *os.File
	otel      *intOtel.Provider
	storage   storage.Backend
	Cache     *storage.MarkerCache
	telemetry *telemetry.Manager
	API       *api.Client
	Weather   *weather.Client

	dispatcher *dispatcher.Dispatcher
	View       *mapview.View

	closers []func(context.Context) error
}

// loadSettings reads the config file, or installs the defaults when no
// directory was given.
func loadSettings(opts *RootOptions) error {
	if opts.ConfigDir == "" {
		config.SetDefaults()
	} else if err := config.Load(opts.ConfigDir); err != nil {
		return err
	}
	if opts.LogLevel != "" {
		viper.Set("logLevel", opts.LogLevel)
	}
	return nil
}

// Bootstrap loads configuration and connects the services the map view runs
// on. Only the marker cache is fatal; InfluxDB, Graylog and OTel degrade.
// With prompter nil the view is not built.
func Bootstrap(ctx context.Context, opts *RootOptions, prompter mapview.Prompter) (*App, error) {
	if err := loadSettings(opts); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	app := &App{}
	start := time.Now()
	level := viper.GetString("logLevel")

	var logFile io.Writer
	if f, err := logging.OpenLogFile(viper.GetString("logsDir"), AppName, start); err == nil {
		app.logFile = f
		logFile = f
		app.onClose(func(context.Context) error { return f.Close() })
	} else {
		fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stdout: %v\n", err)
	}

	// OTel writes into the same file as the text logs
	provider, err := intOtel.New(ctx, intOtel.FromSettings(config.GetOTelConfig(), logFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "OTel disabled: %v\n", err)
		provider, _ = intOtel.New(ctx, intOtel.Config{})
	}
	app.otel = provider
	app.onClose(provider.Shutdown)

	var logOpts []logging.Option
	if viper.GetBool("graylog.enabled") {
		if w, err := logging.NewGraylogWriter(viper.GetString("graylog.address")); err == nil {
			logOpts = append(logOpts, logging.WithGraylog(w, logging.ParseLevel(viper.GetString("graylog.level"))))
			app.onClose(func(context.Context) error { return w.Close() })
		} else {
			fmt.Fprintf(os.Stderr, "Graylog disabled: %v\n", err)
		}
	}
	logOpts = append(logOpts, logging.WithState(func() []slog.Attr {
		if app.View == nil {
			return nil
		}
		return app.View.LogAttrs()
	}))

	app.slog = logging.NewSlogManager()
	app.slog.Setup(logFile, level, provider.LoggerProvider(), logOpts...)
	app.Log = app.slog.Logger()

	zlOut := io.Writer(os.Stderr)
	if logFile != nil {
		zlOut = logFile
	}
	app.Zerolog = logging.NewZerolog(zlOut, level)

	app.Log.Info("Starting mapcore", "configDir", opts.ConfigDir, "level", level)

	if err := app.openCache(); err != nil {
		app.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "marker cache unavailable", err)
	}

	if prompter == nil {
		return app, nil
	}

	if err := app.buildView(ctx, prompter); err != nil {
		app.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to build map view", err)
	}
	return app, nil
}

func (a *App) openCache() error {
	backend, err := storage.NewBackend(config.GetStorageConfig(), a.Log.With("component", "storage"))
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return err
	}
	a.storage = backend
	a.Cache = storage.NewMarkerCache(backend)
	a.onClose(func(context.Context) error { return backend.Close() })
	return nil
}

func (a *App) buildView(ctx context.Context, prompter mapview.Prompter) error {
	var recorder telemetry.Recorder = telemetry.Nop
	tc := config.GetTelemetryConfig()
	if tc.Enabled {
		a.telemetry = telemetry.NewManager(a.Zerolog.With().Str("component", "telemetry").Logger(), tc)
		if err := a.telemetry.Connect(ctx); err != nil {
			a.Log.Warn("Lifecycle telemetry unavailable", "error", err)
		} else {
			recorder = a.telemetry
			a.onClose(func(context.Context) error { return a.telemetry.Close() })
		}
	}

	ac := config.GetAPIConfig()
	a.API = api.New(ac.ServerURL, "")
	if ac.Timeout > 0 {
		a.API.SetTimeout(ac.Timeout)
	}

	deps := mapview.Dependencies{
		API:      a.API,
		Cache:    a.Cache,
		Prompter: prompter,
		Recorder: recorder,
		Log:      a.Log,
		Creation: config.GetCreationConfig(),
		Fetch:    config.GetFetchConfig(),
	}

	wc := config.GetWeatherConfig()
	if wc.Enabled && wc.APIKey != "" {
		a.Weather = weather.New(wc.BaseURL, wc.APIKey, wc.GeocodeURL, wc.GeocodeKey, wc.Timeout)
		deps.Weather = a.Weather
	}

	d, err := dispatcher.New(logging.NewEventLogger(a.Zerolog.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return err
	}
	a.dispatcher = d
	a.onClose(func(context.Context) error { d.Close(); return nil })
	deps.Dispatcher = d

	view, err := mapview.New(deps)
	if err != nil {
		return err
	}
	a.View = view
	return nil
}

func (a *App) onClose(f func(context.Context) error) {
	a.closers = append(a.closers, f)
}

// Close tears the services down in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.slog != nil {
		errs = append(errs, a.slog.Flush(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

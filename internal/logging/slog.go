package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// swapped by tests
var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// InstrumentationName is the otelslog scope of every record.
const InstrumentationName = "mapcore"

// SlogManager owns the process logger: a text sink (file or stdout), an
// optional Graylog JSON sink and the OTel bridge.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
}

// Option adds an optional sink or enrichment to Setup.
type Option func(*setupOptions)

type setupOptions struct {
	graylog      io.Writer
	graylogLevel slog.Leveler
	state        StateFunc
}

// WithGraylog also sends records at or above min as JSON to w, usually a
// GELF writer.
func WithGraylog(w io.Writer, min slog.Leveler) Option {
	return func(o *setupOptions) {
		o.graylog = w
		o.graylogLevel = min
	}
}

// WithState attaches the attributes returned by fn to every record.
func WithState(fn StateFunc) Option {
	return func(o *setupOptions) {
		o.state = fn
	}
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// ParseLevel converts a config level name; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Setup (re)builds the logger. Records go to file when one is given, to
// stdout otherwise. A nil provider disables the OTel bridge.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, opts ...Option) {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	lvl := ParseLevel(level)
	m.logProvider = provider
	handlerOpts := &slog.HandlerOptions{Level: lvl, ReplaceAttr: utcTime}

	text := file
	if text == nil {
		text = osStdout
	}
	sinks := []Sink{{Handler: slog.NewTextHandler(text, handlerOpts)}}
	if o.graylog != nil {
		sinks = append(sinks, Sink{Handler: slog.NewJSONHandler(o.graylog, handlerOpts), Level: o.graylogLevel})
	}
	if provider != nil {
		sinks = append(sinks, Sink{
			Handler: otelslog.NewHandler(InstrumentationName, otelslog.WithLoggerProvider(provider)),
			Level:   lvl,
		})
	}

	var h slog.Handler = newFanout(sinks...)
	if o.state != nil {
		h = &stateHandler{inner: h, state: o.state}
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", lvl.String())
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces pending OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider == nil {
		return nil
	}
	return m.logProvider.ForceFlush(ctx)
}

// Package dispatcher routes map gestures and UI commands to their handlers,
// counting outcomes and optionally logging and timing them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/geodiary/mapcore/internal/model/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrUnknownCommand is returned for commands nobody registered.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
)

const meterScope = "github.com/geodiary/mapcore/internal/dispatcher"

// Outcome of one handled event, as counted in mapview.gestures.handled.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Event is one user gesture or UI command delivered to the map view.
type Event struct {
	Command   string
	Position  *core.Position    // map coordinate, when the gesture has one
	Fields    map[string]string // form values and command arguments
	Timestamp time.Time
}

// Field returns a named argument, or "" when absent.
func (e Event) Field(name string) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[name]
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*options)

type options struct {
	logged   bool
	timed    bool
	expected []error
}

// Logged logs each event and its outcome.
func Logged() Option {
	return func(o *options) {
		o.logged = true
	}
}

// Timed records the handler duration in mapview.gestures.duration.
func Timed() Option {
	return func(o *options) {
		o.timed = true
	}
}

// Expected lists errors that are normal answers to the gesture, such as a
// throttled long press. They count as rejected and are logged at debug.
func Expected(errs ...error) Option {
	return func(o *options) {
		o.expected = append(o.expected, errs...)
	}
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	logger Logger

	handled  metric.Int64Counter
	duration metric.Float64Histogram

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	closed   bool
}

// New creates a Dispatcher. Metrics go to the global OTel meter, a no-op
// until a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}

	m := otel.GetMeterProvider().Meter(meterScope)
	var err error

	d.handled, err = m.Int64Counter(
		"mapview.gestures.handled",
		metric.WithDescription("Gestures handled, by command and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating handled counter: %w", err)
	}

	d.duration, err = m.Float64Histogram(
		"mapview.gestures.duration",
		metric.WithDescription("Time spent in timed gesture handlers"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return d, nil
}

// Register adds the handler of command, replacing any previous one.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	handler := d.instrument(command, h, o)

	d.mu.Lock()
	d.handlers[command] = handler
	d.mu.Unlock()
}

// Dispatch runs the handler of e.Command on the calling goroutine.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[e.Command]
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

// Commands returns the registered commands in sorted order.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for cmd := range d.handlers {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// Close makes every later Dispatch fail with ErrClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *Dispatcher) instrument(command string, h HandlerFunc, o options) HandlerFunc {
	cmdAttr := attribute.String("command", command)

	return func(e Event) (any, error) {
		if o.logged {
			args := []any{"command", command}
			if e.Position != nil {
				args = append(args, "lat", e.Position.Lat, "lng", e.Position.Lng)
			}
			d.logger.Debug("handling gesture", args...)
		}

		start := time.Now()
		result, err := h(e)
		elapsed := time.Since(start)

		outcome := OutcomeOK
		if err != nil {
			outcome = OutcomeFailed
			if slices.ContainsFunc(o.expected, func(target error) bool { return errors.Is(err, target) }) {
				outcome = OutcomeRejected
			}
		}

		ctx := context.Background()
		d.handled.Add(ctx, 1, metric.WithAttributes(cmdAttr, attribute.String("outcome", outcome)))
		if o.timed {
			d.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(cmdAttr))
		}

		if o.logged {
			switch outcome {
			case OutcomeFailed:
				d.logger.Error("gesture failed", "command", command, "duration", elapsed, "error", err)
			case OutcomeRejected:
				d.logger.Debug("gesture rejected", "command", command, "reason", err)
			default:
				d.logger.Debug("gesture complete", "command", command, "duration", elapsed)
			}
		}
		return result, err
	}
}

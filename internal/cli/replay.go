package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/geodiary/mapcore/internal/layer"
	"github.com/geodiary/mapcore/internal/mapview"
	"github.com/geodiary/mapcore/internal/model/core"
	"github.com/geodiary/mapcore/internal/notify"
	"github.com/spf13/cobra"
)

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Index    int    `json:"index"`
	Command  string `json:"command,omitempty"`
	Error    string `json:"error,omitempty"`
	Expected bool   `json:"expected"`
}

// MarkerView is a drawn marker as reported by replay and cache show.
type MarkerView struct {
	ID          int64   `json:"id"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
	Public      bool    `json:"public"`
	Images      int     `json:"images"`
	State       string  `json:"state,omitempty"`
	Icon        string  `json:"icon,omitempty"`
	X           float64 `json:"x,omitempty"` // EPSG:3857
	Y           float64 `json:"y,omitempty"`
}

// NotificationView is a drained user notification.
type NotificationView struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ReplayReport is the full output of a replay.
type ReplayReport struct {
	Scenario      string             `json:"scenario,omitempty"`
	Steps         []StepResult       `json:"steps"`
	Markers       []MarkerView       `json:"markers"`
	Notifications []NotificationView `json:"notifications"`
	Counters      map[string]int64   `json:"counters,omitempty"`
	Failures      []string           `json:"failures,omitempty"`
}

// Passed reports whether every expectation held.
func (r *ReplayReport) Passed() bool {
	return len(r.Failures) == 0
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Run a scripted interaction against the map engine",
		Long: `Replay feeds the events of a scenario file to a map view, one at a time,
then prints the markers on the map and the notifications raised.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts, args[0])
		},
	}
}

func runReplay(cmd *cobra.Command, opts *RootOptions, path string) error {
	scenario, err := LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid scenario", err)
	}

	ctx := commandContext(cmd)

	app, err := Bootstrap(ctx, opts, scenario.Prompts.Prompter())
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	report, err := Replay(ctx, app.View, scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay aborted", err)
	}
	if counters, err := app.otel.Counters(ctx); err != nil {
		app.Log.Warn("Failed to read counters", "error", err)
	} else if len(counters) > 0 {
		report.Counters = counters
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if !report.Passed() {
		return &ExitError{Code: ExitFailure, Message: "scenario expectations not met"}
	}
	return nil
}

// Replay runs the scenario on view. The view loop runs for the duration of
// the call.
func Replay(ctx context.Context, view *mapview.View, s *Scenario) (*ReplayReport, error) {
	if err := view.Start(ctx, core.Auth{Token: s.Token}); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = view.Run(loopCtx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	defer stop()

	report := &ReplayReport{Scenario: s.Name}
	for i, step := range s.Steps {
		if step.Wait > 0 {
			select {
			case <-time.After(step.Wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if step.Command == "" {
			continue
		}

		res := StepResult{Index: i + 1, Command: step.Command}
		_, err := view.Do(ctx, step.Event())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			res.Error = err.Error()
		}
		res.Expected = (err != nil) == step.Fails
		if !res.Expected {
			if err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("step %d: unexpected error: %v", res.Index, err))
			} else {
				report.Failures = append(report.Failures, fmt.Sprintf("step %d: expected an error", res.Index))
			}
		}
		report.Steps = append(report.Steps, res)
	}

	// the loop must be idle before markers are read
	stop()

	report.Markers = featureViews(view.Layer.Features())
	report.Notifications = notificationViews(view.Notes.Drain())

	if s.Expect != nil && s.Expect.Markers != nil && *s.Expect.Markers != len(report.Markers) {
		report.Failures = append(report.Failures,
			fmt.Sprintf("expected %d markers, got %d", *s.Expect.Markers, len(report.Markers)))
	}
	return report, nil
}

func featureViews(features []layer.Feature) []MarkerView {
	out := make([]MarkerView, 0, len(features))
	for _, f := range features {
		mv := markerView(f.Marker)
		mv.Icon = f.Icon.URL
		if xy, ok := f.Point.XY(); ok {
			mv.X, mv.Y = xy.X, xy.Y
		}
		out = append(out, mv)
	}
	return out
}

func markerView(m *core.Marker) MarkerView {
	pos := m.Position()
	return MarkerView{
		ID:          m.ID(),
		Lat:         pos.Lat,
		Lng:         pos.Lng,
		Title:       m.Title,
		Description: m.Description,
		Category:    m.Category,
		Public:      m.Public,
		Images:      len(m.ImageURLs) + len(m.Images),
		State:       m.State().String(),
	}
}

func notificationViews(items []notify.Notification) []NotificationView {
	out := make([]NotificationView, 0, len(items))
	for _, n := range items {
		out = append(out, NotificationView{Level: n.Level.String(), Message: n.Message})
	}
	return out
}

func printReport(w io.Writer, r *ReplayReport) {
	if r.Scenario != "" {
		fmt.Fprintf(w, "Scenario: %s\n", r.Scenario)
	}
	for _, s := range r.Steps {
		status := "ok"
		if s.Error != "" {
			status = "error: " + s.Error
		}
		if !s.Expected {
			status += " (unexpected)"
		}
		fmt.Fprintf(w, "  %2d %-22s %s\n", s.Index, s.Command, status)
	}

	printMarkers(w, r.Markers)

	if len(r.Notifications) > 0 {
		fmt.Fprintln(w, "Notifications:")
		for _, n := range r.Notifications {
			fmt.Fprintf(w, "  [%s] %s\n", n.Level, n.Message)
		}
	}

	if len(r.Counters) > 0 {
		fmt.Fprintln(w, "Counters:")
		names := make([]string, 0, len(r.Counters))
		for name := range r.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s %d\n", name, r.Counters[name])
		}
	}

	if r.Passed() {
		fmt.Fprintln(w, "PASS")
		return
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "FAIL %s\n", f)
	}
}

func printMarkers(w io.Writer, markers []MarkerView) {
	fmt.Fprintf(w, "Markers (%d):\n", len(markers))
	for _, m := range markers {
		title := m.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "  #%d %.6f,%.6f %q", m.ID, m.Lat, m.Lng, title)
		if m.State != "" {
			fmt.Fprintf(w, " %s", m.State)
		}
		if m.Images > 0 {
			fmt.Fprintf(w, " images=%d", m.Images)
		}
		fmt.Fprintln(w)
	}
}

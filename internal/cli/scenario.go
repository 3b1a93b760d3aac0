package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/geodiary/mapcore/internal/dispatcher"
	"github.com/geodiary/mapcore/internal/mapview"
	"github.com/geodiary/mapcore/internal/model/core"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of map interactions.
type Scenario struct {
	Name    string       `yaml:"name"`
	Token   string       `yaml:"token"` // sign in before the first step
	Prompts Prompts      `yaml:"prompts"`
	Steps   []Step       `yaml:"steps"`
	Expect  *Expectation `yaml:"expect"`
}

// Prompts are the canned answers to every confirmation dialog.
type Prompts struct {
	Migrate bool `yaml:"migrate"`
	Save    bool `yaml:"save"`
	Delete  bool `yaml:"delete"`
}

// Step is one event. Wait pauses before the event is sent; a step with only
// a wait lets pending long presses fire.
type Step struct {
	Command string            `yaml:"command"`
	At      []float64         `yaml:"at"`
	Fields  map[string]string `yaml:"fields"`
	Wait    time.Duration     `yaml:"wait"`
	Fails   bool              `yaml:"fails"` // the step is expected to return an error
}

// Expectation is checked once every step ran.
type Expectation struct {
	Markers *int `yaml:"markers"`
}

// commandAliases maps the short scenario names to view commands.
var commandAliases = map[string]string{
	"signin":       mapview.CmdSignIn,
	"signout":      mapview.CmdSignOut,
	"pointerdown":  mapview.CmdPointerDown,
	"pointerup":    mapview.CmdPointerUp,
	"pointerout":   mapview.CmdPointerOut,
	"onmap":        mapview.CmdPointerOnMap,
	"dragstart":    mapview.CmdDragStart,
	"dragend":      mapview.CmdDragEnd,
	"boxzoomstart": mapview.CmdBoxZoomStart,
	"boxzoomend":   mapview.CmdBoxZoomEnd,
	"longpress":    mapview.CmdLongPress,
	"position":     mapview.CmdDevicePosition,
	"createhere":   mapview.CmdCreateHere,
	"select":       mapview.CmdSelect,
	"edit":         mapview.CmdEdit,
	"addimage":     mapview.CmdAddImage,
	"removeimage":  mapview.CmdRemoveImage,
	"commit":       mapview.CmdCommit,
	"close":        mapview.CmdClose,
	"discard":      mapview.CmdDiscard,
	"delete":       mapview.CmdDelete,
}

// LoadScenario reads and checks a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario decodes a scenario and resolves command aliases.
func ParseScenario(raw []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Command == "" {
			if step.Wait <= 0 {
				return nil, fmt.Errorf("step %d: command or wait required", i+1)
			}
			continue
		}
		cmd, err := resolveCommand(step.Command)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		step.Command = cmd
		if len(step.At) != 0 && len(step.At) != 2 {
			return nil, fmt.Errorf("step %d: at must be [lat, lng]", i+1)
		}
	}
	return &s, nil
}

func resolveCommand(name string) (string, error) {
	if strings.HasPrefix(name, ":") {
		return name, nil
	}
	if cmd, ok := commandAliases[strings.ToLower(name)]; ok {
		return cmd, nil
	}
	return "", fmt.Errorf("unknown command %q", name)
}

// Event builds the dispatcher event of the step.
func (s Step) Event() dispatcher.Event {
	e := dispatcher.Event{Command: s.Command, Fields: s.Fields}
	if len(s.At) == 2 {
		e.Position = &core.Position{Lat: s.At[0], Lng: s.At[1]}
	}
	return e
}

// Prompter returns a prompter answering with the scenario's choices.
func (p Prompts) Prompter() mapview.StaticPrompter {
	return mapview.StaticPrompter{Migrate: p.Migrate, Save: p.Save, Delete: p.Delete}
}

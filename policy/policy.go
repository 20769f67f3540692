// Package policy decides what the kernel does with a process that suffered
// an unrecoverable fault. The decision table is configured per board and may
// be overridden per application; a nil *Policy means "restart, then stop"
// and is therefore the zero-cost default.
package policy

import (
	"fmt"
	"strings"
)

// Action is the outcome of a fault decision.
type Action int

const (
	// ActionRestart resets the process memory and schedules it to run
	// again from its entry point. Its identifier generation is rotated so
	// outstanding references turn stale.
	ActionRestart Action = iota
	// ActionStop leaves the process faulted and unschedulable but keeps
	// its slot and memory for inspection.
	ActionStop
	// ActionPanic escalates to a kernel panic. Useful while debugging
	// applications, fatal in production.
	ActionPanic
)

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	case ActionStop:
		return "stop"
	case ActionPanic:
		return "panic"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction converts a board-config string into an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "restart":
		return ActionRestart, nil
	case "stop":
		return ActionStop, nil
	case "panic":
		return ActionPanic, nil
	}
	return ActionStop, fmt.Errorf("unknown fault action %q", s)
}

// Config is the serialisable decision table, typically one section of the
// board configuration.
type Config struct {
	// Default applies to every app without an override.
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
	// MaxRestarts bounds ActionRestart; once exceeded the process is
	// stopped instead. Zero means unbounded.
	MaxRestarts int `json:"maxRestarts,omitempty" yaml:"maxRestarts,omitempty"`
	// Overrides maps an app name to its action.
	Overrides map[string]string `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Policy is the runtime decision table.
type Policy struct {
	Default     Action
	MaxRestarts int
	Overrides   map[string]Action
}

// FromConfig converts a stored Config into a runtime Policy.
func FromConfig(c *Config) (*Policy, error) {
	if c == nil {
		return nil, nil
	}
	def, err := ParseAction(c.Default)
	if err != nil {
		return nil, err
	}
	p := &Policy{Default: def, MaxRestarts: c.MaxRestarts}
	if len(c.Overrides) > 0 {
		p.Overrides = make(map[string]Action, len(c.Overrides))
		for app, raw := range c.Overrides {
			action, err := ParseAction(raw)
			if err != nil {
				return nil, fmt.Errorf("app %q: %w", app, err)
			}
			p.Overrides[app] = action
		}
	}
	return p, nil
}

// Decide returns the action for the named app on its restarts-th fault.
// restarts counts completed restarts so far, so the first fault arrives with
// restarts == 0.
func (p *Policy) Decide(app string, restarts int) Action {
	if p == nil {
		if restarts > 0 {
			return ActionStop
		}
		return ActionRestart
	}
	action := p.Default
	if override, ok := p.Overrides[app]; ok {
		action = override
	}
	if action == ActionRestart && p.MaxRestarts > 0 && restarts >= p.MaxRestarts {
		return ActionStop
	}
	return action
}

// Package event is the kernel's lifecycle notification bus. The kernel loop
// publishes an event for every observable process transition; boards and
// tests subscribe to drive LEDs, journaling or assertions without touching
// kernel internals.
package event

import (
	"time"

	"github.com/minoskernel/minos/internal/clock"
	"github.com/minoskernel/minos/internal/idgen"
	"github.com/minoskernel/minos/runtime/proc"
)

// Kind classifies a lifecycle event.
type Kind string

const (
	KindLoaded     Kind = "loaded"
	KindStarted    Kind = "started"
	KindYielded    Kind = "yielded"
	KindStopped    Kind = "stopped"
	KindResumed    Kind = "resumed"
	KindFaulted    Kind = "faulted"
	KindRestarted  Kind = "restarted"
	KindTerminated Kind = "terminated"
	KindExpired    Kind = "timeslice_expired"
)

// Event is one process lifecycle transition.
type Event struct {
	ID        string    `yaml:"id" json:"id"`
	Kind      Kind      `yaml:"kind" json:"kind"`
	Process   string    `yaml:"process" json:"process"`
	App       string    `yaml:"app" json:"app"`
	Detail    string    `yaml:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time `yaml:"createdAt" json:"createdAt"`
}

// New builds an event for the given process transition.
func New(kind Kind, id proc.ID, app, detail string) *Event {
	return &Event{
		ID:        idgen.New(),
		Kind:      kind,
		Process:   id.String(),
		App:       app,
		Detail:    detail,
		CreatedAt: clock.Now(),
	}
}

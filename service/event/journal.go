package event

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Journal records events in arrival order and can persist the record for
// post-mortem inspection. Subscribe its Record method to a bus.
type Journal struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewJournal creates a journal keeping at most limit events (oldest evicted
// first); limit <= 0 keeps everything.
func NewJournal(limit int) *Journal {
	return &Journal{limit: limit}
}

// Record appends one event; it satisfies the bus Handler signature.
func (j *Journal) Record(e *Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, *e)
	if j.limit > 0 && len(j.events) > j.limit {
		j.events = j.events[len(j.events)-j.limit:]
	}
}

// Events returns a copy of the recorded events in arrival order.
func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

// Flush writes the journal as a YAML document to the given URL using the
// abstract file system, so boards can target local files, in-memory
// locations in tests, or remote storage alike.
func (j *Journal) Flush(ctx context.Context, fs afs.Service, URL string) error {
	data, err := yaml.Marshal(j.Events())
	if err != nil {
		return fmt.Errorf("failed to encode journal: %w", err)
	}
	if err = fs.Upload(ctx, URL, 0o644, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload journal to %v: %w", URL, err)
	}
	return nil
}

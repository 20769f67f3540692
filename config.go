package minos

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/minoskernel/minos/model"
	"github.com/minoskernel/minos/policy"
	"github.com/minoskernel/minos/service/capsule"
	"github.com/minoskernel/minos/service/loader"
	"github.com/minoskernel/minos/service/scheduler"
)

// SchedulerConfig selects the scheduling policy for the board.
type SchedulerConfig struct {
	// Kind is "round_robin" or "cooperative".
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
	// Timeslice is a duration literal such as "10ms"; round-robin only.
	Timeslice string `yaml:"timeslice,omitempty" json:"timeslice,omitempty"`
}

func (c *SchedulerConfig) timeslice() (time.Duration, error) {
	if c.Timeslice == "" {
		return scheduler.DefaultTimeslice, nil
	}
	d, err := time.ParseDuration(c.Timeslice)
	if err != nil {
		return 0, fmt.Errorf("invalid scheduler timeslice %q: %w", c.Timeslice, err)
	}
	if d < scheduler.MinQuanta {
		return 0, fmt.Errorf("scheduler timeslice %v is below the minimum quantum %v", d, scheduler.MinQuanta)
	}
	return d, nil
}

// Config is the serialisable board description. The zero value is not
// usable on its own; DefaultConfig fills in a simulated board.
type Config struct {
	// Board names the configuration, for logs and traces.
	Board string `yaml:"board,omitempty" json:"board,omitempty"`

	// Slots is the process table capacity.
	Slots int `yaml:"slots,omitempty" json:"slots,omitempty"`

	// Flash and RAM are region literals, e.g. "flash@0x00040000:256K:rx"
	// and "sram@0x20000000:64K:rw".
	Flash string `yaml:"flash,omitempty" json:"flash,omitempty"`
	RAM   string `yaml:"ram,omitempty" json:"ram,omitempty"`

	Scheduler SchedulerConfig `yaml:"scheduler,omitempty" json:"scheduler,omitempty"`

	// Policy is the fault decision table; nil means restart once, then
	// stop.
	Policy *policy.Config `yaml:"policy,omitempty" json:"policy,omitempty"`

	Loader loader.Config `yaml:"loader,omitempty" json:"loader,omitempty"`

	// Drivers lists capsule drivers to build from registered factories.
	Drivers []*capsule.Spec `yaml:"drivers,omitempty" json:"drivers,omitempty"`

	// JournalLimit bounds the in-memory event journal; zero keeps
	// everything.
	JournalLimit int `yaml:"journalLimit,omitempty" json:"journalLimit,omitempty"`
}

// DefaultConfig describes a simulated board: four slots, 256K of flash, 64K
// of RAM and a round-robin scheduler.
func DefaultConfig() *Config {
	return &Config{
		Board: "hostsim",
		Slots: 4,
		Flash: "flash@0x00040000:256K:rx",
		RAM:   "sram@0x20000000:64K:rw",
		Scheduler: SchedulerConfig{
			Kind: scheduler.KindRoundRobin,
		},
	}
}

// LoadConfig fetches and decodes a board configuration from URL.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to download config %v: %w", URL, err)
	}
	config := &Config{}
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("invalid config %v: %w", URL, err)
	}
	return config, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Slots <= 0 {
		return fmt.Errorf("slots must be positive, got %d", c.Slots)
	}
	if _, err := model.ParseRegion(c.Flash); err != nil {
		return fmt.Errorf("invalid flash region: %w", err)
	}
	if _, err := model.ParseRegion(c.RAM); err != nil {
		return fmt.Errorf("invalid ram region: %w", err)
	}
	switch c.Scheduler.Kind {
	case "", scheduler.KindRoundRobin, scheduler.KindCooperative:
	default:
		return fmt.Errorf("unknown scheduler kind %q", c.Scheduler.Kind)
	}
	if _, err := c.Scheduler.timeslice(); err != nil {
		return err
	}
	if _, err := policy.FromConfig(c.Policy); err != nil {
		return err
	}
	seen := map[int]bool{}
	for _, spec := range c.Drivers {
		if spec.Kind == "" {
			return fmt.Errorf("driver %d names no kind", spec.Number)
		}
		if seen[spec.Number] {
			return fmt.Errorf("driver number %d configured twice", spec.Number)
		}
		seen[spec.Number] = true
	}
	return nil
}

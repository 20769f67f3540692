package minos

import (
	"fmt"

	"github.com/minoskernel/minos/kernel"
	"github.com/minoskernel/minos/model"
	"github.com/minoskernel/minos/platform"
	"github.com/minoskernel/minos/platform/hostsim"
	"github.com/minoskernel/minos/policy"
	"github.com/minoskernel/minos/service/capsule"
	"github.com/minoskernel/minos/service/event"
	"github.com/minoskernel/minos/service/loader"
	"github.com/minoskernel/minos/service/scheduler"
	"github.com/minoskernel/minos/service/scheduler/cooperative"
	"github.com/minoskernel/minos/service/scheduler/roundrobin"
)

// Service is the board facade: it assembles the kernel, its platform, the
// driver registry, the app loader and the event bus from a configuration
// plus functional options, and exposes the assembled runtime.
type Service struct {
	config   *Config
	chip     platform.Chip
	boundary platform.Boundary
	sched    scheduler.Scheduler
	drivers  *capsule.Registry
	policy   *policy.Policy
	events   *event.Service
	journal  *event.Journal
	loader   *loader.Service
	kernel   *kernel.Kernel
	runtime  *Runtime

	installed map[int]capsule.Driver
}

// New assembles a board. Options override configuration-derived defaults;
// anything not supplied falls back to the host simulator.
func New(options ...Option) (*Service, error) {
	s := &Service{
		drivers:   capsule.NewRegistry(),
		installed: map[int]capsule.Driver{},
	}
	for _, option := range options {
		option(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	if err := s.ensureBaseSetup(); err != nil {
		return err
	}
	flash, err := model.ParseRegion(s.config.Flash)
	if err != nil {
		return fmt.Errorf("invalid flash region: %w", err)
	}
	ram, err := model.ParseRegion(s.config.RAM)
	if err != nil {
		return fmt.Errorf("invalid ram region: %w", err)
	}
	s.kernel, err = kernel.New(kernel.Config{
		Slots: s.config.Slots,
		Flash: flash.Region(),
		RAM:   ram.Region(),
	}, s.chip, s.boundary, s.sched, s.drivers, s.policy, s.events)
	if err != nil {
		return err
	}

	for number, driver := range s.installed {
		if err = s.drivers.Install(number, driver); err != nil {
			return err
		}
	}
	env := &capsule.Env{Upcaller: s.kernel}
	for _, spec := range s.config.Drivers {
		if err = s.drivers.Build(spec, env); err != nil {
			return fmt.Errorf("driver %d (%s): %w", spec.Number, spec.Kind, err)
		}
	}

	if s.loader == nil {
		s.loader = loader.New(s.config.Loader)
	}
	s.runtime = &Runtime{
		kernel:  s.kernel,
		loader:  s.loader,
		events:  s.events,
		journal: s.journal,
		policy:  s.policy,
	}
	return nil
}

func (s *Service) ensureBaseSetup() error {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.chip == nil {
		s.chip = hostsim.NewChip()
	}
	if s.boundary == nil {
		s.boundary = hostsim.NewBoundary()
	}
	if s.events == nil {
		s.events = event.NewService()
	}
	if s.journal == nil {
		s.journal = event.NewJournal(s.config.JournalLimit)
		s.events.Subscribe(s.journal.Record)
	}
	if s.policy == nil {
		pol, err := policy.FromConfig(s.config.Policy)
		if err != nil {
			return err
		}
		if pol == nil {
			pol = &policy.Policy{Default: policy.ActionRestart, MaxRestarts: 1}
		}
		s.policy = pol
	}
	if s.sched == nil {
		sched, err := buildScheduler(s.config.Scheduler)
		if err != nil {
			return err
		}
		s.sched = sched
	}
	return nil
}

func buildScheduler(config SchedulerConfig) (scheduler.Scheduler, error) {
	switch config.Kind {
	case scheduler.KindCooperative:
		return cooperative.New(), nil
	case "", scheduler.KindRoundRobin:
		timeslice, err := config.timeslice()
		if err != nil {
			return nil, err
		}
		return roundrobin.New(timeslice), nil
	}
	return nil, fmt.Errorf("unknown scheduler kind %q", config.Kind)
}

// RegisterDriverFactory makes a driver kind buildable from board
// configuration. Call it before New assembles the board, via
// WithDriverFactory, or on a Service built without configured drivers.
func (s *Service) RegisterDriverFactory(kind string, configPrototype interface{}, build capsule.Builder) error {
	return s.drivers.RegisterFactory(kind, configPrototype, build)
}

// Runtime returns the assembled runtime.
func (s *Service) Runtime() *Runtime { return s.runtime }

// Kernel returns the assembled kernel, primarily for capsule wiring.
func (s *Service) Kernel() *kernel.Kernel { return s.kernel }

// Drivers returns the capsule driver registry.
func (s *Service) Drivers() *capsule.Registry { return s.drivers }

// Events returns the lifecycle event bus.
func (s *Service) Events() *event.Service { return s.events }

// Journal returns the lifecycle event journal.
func (s *Service) Journal() *event.Journal { return s.journal }

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

package capsule

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/viant/structology/conv"
	"github.com/viant/x"
)

// Spec is one driver entry in a board configuration: which factory to build,
// the driver number to install it at, and its raw parameters.
type Spec struct {
	Number int                    `yaml:"number" json:"number"`
	Kind   string                 `yaml:"kind" json:"kind"`
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// Builder constructs a driver from its typed config.
type Builder func(config interface{}, env *Env) (Driver, error)

type factory struct {
	configType *x.Type
	build      Builder
}

// Registry maps driver numbers to installed drivers and factory names to
// buildable driver kinds with typed configs.
type Registry struct {
	mu        sync.RWMutex
	types     *x.Registry
	converter *conv.Converter
	factories map[string]*factory
	drivers   map[int]Driver
}

// NewRegistry returns an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{
		types:     x.NewRegistry(),
		converter: conv.NewConverter(conv.DefaultOptions()),
		factories: map[string]*factory{},
		drivers:   map[int]Driver{},
	}
}

// RegisterFactory makes a driver kind buildable from board configuration.
// configPrototype is an instance of the factory's config struct; its type is
// registered under the kind name so raw parameters convert into it.
func (r *Registry) RegisterFactory(kind string, configPrototype interface{}, build Builder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[kind]; ok {
		return fmt.Errorf("driver kind %q already registered", kind)
	}
	var configType *x.Type
	if configPrototype != nil {
		rType := reflect.TypeOf(configPrototype)
		if rType.Kind() == reflect.Ptr {
			rType = rType.Elem()
		}
		configType = x.NewType(rType, x.WithName(kind))
		r.types.Register(configType)
	}
	r.factories[kind] = &factory{configType: configType, build: build}
	return nil
}

// Build constructs and installs the driver a spec describes.
func (r *Registry) Build(spec *Spec, env *Env) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	aFactory, ok := r.factories[spec.Kind]
	if !ok {
		return fmt.Errorf("unknown driver kind %q", spec.Kind)
	}
	if _, ok := r.drivers[spec.Number]; ok {
		return fmt.Errorf("driver number %d already installed", spec.Number)
	}
	var config interface{}
	if aFactory.configType != nil {
		config = reflect.New(aFactory.configType.Type).Interface()
		if len(spec.Config) > 0 {
			if err := r.converter.Convert(spec.Config, config); err != nil {
				return fmt.Errorf("invalid config for driver %q: %w", spec.Kind, err)
			}
		}
	}
	driver, err := aFactory.build(config, env)
	if err != nil {
		return fmt.Errorf("failed to build driver %q: %w", spec.Kind, err)
	}
	r.drivers[spec.Number] = driver
	return nil
}

// Install registers an already-constructed driver at a number, for drivers
// built outside board configuration.
func (r *Registry) Install(number int, driver Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[number]; ok {
		return fmt.Errorf("driver number %d already installed", number)
	}
	r.drivers[number] = driver
	return nil
}

// Driver resolves a driver number; ok is false for unclaimed numbers, which
// the kernel answers with ReturnNoDevice.
func (r *Registry) Driver(number int) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	driver, ok := r.drivers[number]
	return driver, ok
}

// Numbers returns the installed driver numbers.
func (r *Registry) Numbers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.drivers))
	for number := range r.drivers {
		out = append(out, number)
	}
	return out
}

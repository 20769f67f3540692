// Package model describes loaded application images and the memory region
// grammar used by board configuration. The kernel core consumes these
// descriptions; producing them from real on-flash containers belongs to the
// loader.
package model

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTaskQueueLen bounds the pending upcalls a process can accumulate
// unless its manifest asks for more.
const DefaultTaskQueueLen = 10

// App is one validated application image ready to be mapped into a process
// slot.
type App struct {
	Name    string
	Version string

	// Binary is the flash image; code is executed in place.
	Binary []byte
	// Entry is the entry point offset within Binary.
	Entry uintptr

	// MinRAM is the RAM the process needs for stack, heap and grants.
	MinRAM int

	// TaskQueueLen bounds the pending-upcall queue.
	TaskQueueLen int

	// Digest is the hex BLAKE2b-256 of Binary declared by the manifest;
	// empty when the image carries a MAC instead.
	Digest string
	// MAC is the hex keyed BLAKE2b-256 of Binary, verified against the
	// board's image key.
	MAC string

	// FaultPolicy optionally overrides the board default ("restart",
	// "stop" or "panic").
	FaultPolicy string
}

// Validate reports whether the app description is complete enough to load.
func (a *App) Validate() error {
	if a == nil {
		return fmt.Errorf("app is nil")
	}
	if a.Name == "" {
		return fmt.Errorf("app has no name")
	}
	if len(a.Binary) == 0 {
		return fmt.Errorf("app %q has an empty binary", a.Name)
	}
	if int(a.Entry) >= len(a.Binary) {
		return fmt.Errorf("app %q entry %#x outside binary (%d bytes)", a.Name, a.Entry, len(a.Binary))
	}
	if a.MinRAM <= 0 {
		return fmt.Errorf("app %q declares no RAM requirement", a.Name)
	}
	return nil
}

// Manifest is the serialisable application description shipped next to the
// binary. It stands in for the on-flash container header, which the core
// never parses itself.
type Manifest struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Binary locates the image, relative to the manifest URL.
	Binary string `yaml:"binary" json:"binary"`
	// Entry is the entry point offset, e.g. "0x40".
	Entry string `yaml:"entry,omitempty" json:"entry,omitempty"`

	// MinRAM accepts a size literal such as "4K".
	MinRAM string `yaml:"minRAM" json:"minRAM"`

	TaskQueue int `yaml:"taskQueue,omitempty" json:"taskQueue,omitempty"`

	Digest string `yaml:"digest,omitempty" json:"digest,omitempty"`
	MAC    string `yaml:"mac,omitempty" json:"mac,omitempty"`

	FaultPolicy string `yaml:"faultPolicy,omitempty" json:"faultPolicy,omitempty"`
}

// DecodeManifest parses manifest YAML.
func DecodeManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode app manifest: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("app manifest has no name")
	}
	if m.Binary == "" {
		return nil, fmt.Errorf("app manifest %q names no binary", m.Name)
	}
	return m, nil
}

// App converts the manifest plus its downloaded binary into an App.
func (m *Manifest) App(binary []byte) (*App, error) {
	app := &App{
		Name:         m.Name,
		Version:      m.Version,
		Binary:       binary,
		TaskQueueLen: m.TaskQueue,
		Digest:       strings.ToLower(m.Digest),
		MAC:          strings.ToLower(m.MAC),
		FaultPolicy:  m.FaultPolicy,
	}
	if app.TaskQueueLen <= 0 {
		app.TaskQueueLen = DefaultTaskQueueLen
	}
	if m.Entry != "" {
		entry, err := ParseAddress(m.Entry)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", m.Name, err)
		}
		app.Entry = entry
	}
	minRAM, err := ParseSize(m.MinRAM)
	if err != nil {
		return nil, fmt.Errorf("app %q: %w", m.Name, err)
	}
	app.MinRAM = minRAM
	return app, app.Validate()
}

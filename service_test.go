package minos

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/minoskernel/minos/platform/hostsim"
	"github.com/minoskernel/minos/policy"
	"github.com/minoskernel/minos/runtime/proc"
	"github.com/minoskernel/minos/service/capsule"
	"github.com/minoskernel/minos/service/event"
	"github.com/minoskernel/minos/service/scheduler/cooperative"
	"github.com/minoskernel/minos/syscall"
)

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		description string
		mutate      func(c *Config)
		expectErr   string
	}{
		{
			description: "default config is valid",
			mutate:      func(c *Config) {},
		},
		{
			description: "zero slots",
			mutate:      func(c *Config) { c.Slots = 0 },
			expectErr:   "slots",
		},
		{
			description: "malformed flash region",
			mutate:      func(c *Config) { c.Flash = "flash:nope" },
			expectErr:   "flash",
		},
		{
			description: "unknown scheduler kind",
			mutate:      func(c *Config) { c.Scheduler.Kind = "lottery" },
			expectErr:   "scheduler kind",
		},
		{
			description: "timeslice below minimum quantum",
			mutate:      func(c *Config) { c.Scheduler.Timeslice = "10us" },
			expectErr:   "minimum quantum",
		},
		{
			description: "duplicate driver number",
			mutate: func(c *Config) {
				c.Drivers = []*capsule.Spec{
					{Number: 0, Kind: "led"},
					{Number: 0, Kind: "button"},
				}
			},
			expectErr: "configured twice",
		},
		{
			description: "unknown fault action",
			mutate:      func(c *Config) { c.Policy = &policy.Config{Default: "reboot"} },
			expectErr:   "unknown fault action",
		},
	}

	for _, testCase := range testCases {
		config := DefaultConfig()
		testCase.mutate(config)
		err := config.Validate()
		if testCase.expectErr == "" {
			assert.NoError(t, err, testCase.description)
			continue
		}
		if assert.Error(t, err, testCase.description) {
			assert.Contains(t, err.Error(), testCase.expectErr, testCase.description)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	ctx := context.Background()
	raw := `
board: bench
slots: 2
flash: flash@0x00040000:64K:rx
ram: sram@0x20000000:32K:rw
scheduler:
  kind: cooperative
policy:
  default: stop
drivers:
  - number: 3
    kind: led
    config:
      pin: 13
`
	fs := afs.New()
	assert.NoError(t, fs.Upload(ctx, "mem://localhost/boards/bench.yaml", 0o644, strings.NewReader(raw)))

	config, err := LoadConfig(ctx, "mem://localhost/boards/bench.yaml")
	assert.NoError(t, err)
	assert.NoError(t, config.Validate())
	assert.Equal(t, "bench", config.Board)
	assert.Equal(t, 2, config.Slots)
	assert.Equal(t, "cooperative", config.Scheduler.Kind)
	if assert.Len(t, config.Drivers, 1) {
		assert.Equal(t, 3, config.Drivers[0].Number)
		assert.Equal(t, "led", config.Drivers[0].Kind)
	}

	_, err = LoadConfig(ctx, "mem://localhost/boards/missing.yaml")
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	srv, err := New()
	assert.NoError(t, err)
	assert.NotNil(t, srv.Runtime())
	assert.NotNil(t, srv.Kernel())
	assert.NotNil(t, srv.Journal())
	assert.Equal(t, "hostsim", srv.Config().Board)
}

type ledConfig struct {
	Pin int `yaml:"pin" json:"pin"`
}

type ledDriver struct {
	pin int
	on  bool
}

func (d *ledDriver) Command(_ proc.ID, minor int, _, _ uintptr) (syscall.ReturnCode, uintptr) {
	switch minor {
	case 0:
		return syscall.ReturnSuccess, 0
	case 1:
		d.on = !d.on
		return syscall.ReturnSuccess, 0
	}
	return syscall.ReturnInvalid, 0
}

func (d *ledDriver) Subscribe(_ proc.ID, _ int, _ bool) syscall.ReturnCode {
	return syscall.ReturnSuccess
}

func (d *ledDriver) Allow(_ proc.ID, _ int, _ []byte) syscall.ReturnCode {
	return syscall.ReturnSuccess
}

func TestService_BuildsConfiguredDrivers(t *testing.T) {
	config := DefaultConfig()
	config.Drivers = []*capsule.Spec{
		{Number: 2, Kind: "led", Config: map[string]interface{}{"pin": 13}},
	}

	var built *ledDriver
	srv, err := New(
		WithConfig(config),
		WithDriverFactory("led", &ledConfig{}, func(raw interface{}, env *capsule.Env) (capsule.Driver, error) {
			cfg := raw.(*ledConfig)
			assert.NotNil(t, env.Upcaller)
			built = &ledDriver{pin: cfg.Pin}
			return built, nil
		}),
	)
	assert.NoError(t, err)
	driver, ok := srv.Drivers().Driver(2)
	assert.True(t, ok)
	assert.Same(t, built, driver)
	assert.Equal(t, 13, built.pin)

	config.Drivers = []*capsule.Spec{{Number: 0, Kind: "button"}}
	_, err = New(WithConfig(config))
	assert.Error(t, err, "unregistered driver kind fails assembly")
}

func uploadFixtureApp(t *testing.T, baseURL, name string, entry uintptr, binary []byte) string {
	t.Helper()
	fs := afs.New()
	ctx := context.Background()
	sum := blake2b.Sum256(binary)
	manifest := fmt.Sprintf("name: %s\nbinary: %s.bin\nminRAM: 4K\nentry: \"%#x\"\ndigest: %s\n",
		name, name, entry, hex.EncodeToString(sum[:]))
	manifestURL := baseURL + "/" + name + ".yaml"
	assert.NoError(t, fs.Upload(ctx, manifestURL, 0o644, strings.NewReader(manifest)))
	assert.NoError(t, fs.Upload(ctx, baseURL+"/"+name+".bin", 0o644, strings.NewReader(string(binary))))
	return manifestURL
}

func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	boundary := hostsim.NewBoundary()
	boundary.Install(0x40, func() hostsim.AppFunc {
		step := 0
		return func(sw *hostsim.Switch) syscall.Reason {
			step++
			switch step {
			case 1:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Command(2, 1, 0, 0)}
			default:
				return syscall.Reason{Kind: syscall.SwitchSyscall, Syscall: syscall.Exit(0)}
			}
		}
	})

	led := &ledDriver{}
	srv, err := New(
		WithBoundary(boundary),
		WithScheduler(cooperative.New()),
		WithDriver(2, led),
	)
	assert.NoError(t, err)

	rt := srv.Runtime()
	assert.NoError(t, rt.Start(ctx))
	assert.Error(t, rt.Start(ctx), "second start is refused")

	binary := make([]byte, 128)
	manifestURL := uploadFixtureApp(t, "mem://localhost/board-apps", "blink", 0x40, binary)
	id, err := rt.LoadApp(ctx, manifestURL)
	assert.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, rt.WaitForExit(waitCtx, id))
	assert.True(t, led.on, "app toggled the led before exiting")

	assert.Eventually(t, func() bool {
		kinds := map[event.Kind]bool{}
		for _, e := range srv.Journal().Events() {
			kinds[e.Kind] = true
		}
		return kinds[event.KindLoaded] && kinds[event.KindStarted] && kinds[event.KindTerminated]
	}, time.Second, time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, rt.Shutdown(shutdownCtx))

	journalURL := "mem://localhost/board-apps/journal.yaml"
	assert.NoError(t, rt.FlushJournal(ctx, journalURL))
	data, err := afs.New().DownloadWithURL(ctx, journalURL)
	assert.NoError(t, err)
	var flushed []event.Event
	assert.NoError(t, yaml.Unmarshal(data, &flushed))
	assert.NotEmpty(t, flushed)
}

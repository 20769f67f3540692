package minos

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/afs"

	"github.com/minoskernel/minos/kernel"
	"github.com/minoskernel/minos/model"
	"github.com/minoskernel/minos/policy"
	"github.com/minoskernel/minos/runtime/proc"
	"github.com/minoskernel/minos/service/event"
	"github.com/minoskernel/minos/service/loader"
)

// Runtime drives an assembled board: it runs the kernel loop, loads and
// retires applications and exposes process lifecycle controls.
type Runtime struct {
	kernel  *kernel.Kernel
	loader  *loader.Service
	events  *event.Service
	journal *event.Journal
	policy  *policy.Policy

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan error
	started bool
}

// Start launches the event bus and the kernel loop. It returns immediately;
// the loop runs until Shutdown.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}
	r.events.Start(ctx)
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan error, 1)
	r.started = true
	go func() {
		r.done <- r.kernel.Run(runCtx)
	}()
	return nil
}

// Shutdown stops the kernel loop and drains the event bus. It blocks until
// the loop exits or ctx is done.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.cancel()
	var err error
	select {
	case <-r.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	r.events.Shutdown()
	r.started = false
	return err
}

// LoadApp fetches, verifies and commits the application described by the
// manifest at manifestURL.
func (r *Runtime) LoadApp(ctx context.Context, manifestURL string) (proc.ID, error) {
	app, err := r.loader.Load(ctx, manifestURL)
	if err != nil {
		return proc.ID{}, err
	}
	return r.LoadAppImage(ctx, app)
}

// LoadAppImage commits an already verified app image to a process slot. A
// manifest fault-policy override takes effect for the app's name.
func (r *Runtime) LoadAppImage(ctx context.Context, app *model.App) (proc.ID, error) {
	if app.FaultPolicy != "" {
		action, err := policy.ParseAction(app.FaultPolicy)
		if err != nil {
			return proc.ID{}, fmt.Errorf("app %q: %w", app.Name, err)
		}
		if r.policy.Overrides == nil {
			r.policy.Overrides = map[string]policy.Action{}
		}
		r.policy.Overrides[app.Name] = action
	}
	return r.kernel.LoadProcess(ctx, app)
}

// WaitForExit blocks until the process terminates or ctx is done.
func (r *Runtime) WaitForExit(ctx context.Context, id proc.ID) error {
	p, err := r.kernel.Lookup(id)
	if err != nil {
		return err
	}
	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process resolves a live process by identifier.
func (r *Runtime) Process(id proc.ID) (*proc.Process, error) {
	return r.kernel.Lookup(id)
}

// Processes returns the occupied process slots.
func (r *Runtime) Processes() []*proc.Process {
	return r.kernel.Processes()
}

// StopApp freezes a process until ResumeApp.
func (r *Runtime) StopApp(ctx context.Context, id proc.ID) error {
	return r.kernel.StopProcess(ctx, id)
}

// ResumeApp returns a stopped process to its pre-stop state.
func (r *Runtime) ResumeApp(ctx context.Context, id proc.ID) error {
	return r.kernel.ResumeProcess(ctx, id)
}

// RestartApp wipes and reloads a process in place.
func (r *Runtime) RestartApp(ctx context.Context, id proc.ID) error {
	return r.kernel.RestartProcess(ctx, id)
}

// TerminateApp retires a process permanently.
func (r *Runtime) TerminateApp(ctx context.Context, id proc.ID) error {
	return r.kernel.TerminateProcess(ctx, id, "terminated by operator")
}

// FlushJournal writes the recorded lifecycle events to URL.
func (r *Runtime) FlushJournal(ctx context.Context, URL string) error {
	return r.journal.Flush(ctx, afs.New(), URL)
}

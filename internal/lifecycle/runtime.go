// Package lifecycle starts long-running parts of the bot in order and stops
// them in reverse.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Hooks adapts a pair of functions to Component. Either may be nil.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (h Hooks) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h Hooks) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}

type named struct {
	name      string
	component Component
}

type Runtime struct {
	mu         sync.Mutex
	components []named
	started    []named
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

// Register appends a component. Nil components are skipped.
func (r *Runtime) Register(name string, component Component) *Runtime {
	if component == nil {
		return r
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, named{name: name, component: component})
	return r
}

// Start brings components up in registration order. On failure the ones
// already running are stopped before the error is returned.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := getLogEntry().WithField("method", "Start")

	for _, c := range r.components {
		entry.WithField("component", c.name).Debug("starting")
		if err := c.component.Start(ctx); err != nil {
			_ = stopComponents(ctx, r.started)
			r.started = nil
			return fmt.Errorf("start %s: %w", c.name, err)
		}
		r.started = append(r.started, c)
	}
	entry.Infof("started %d components", len(r.started))
	return nil
}

// Stop shuts down started components in reverse order. Calling it twice is a no-op.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := stopComponents(ctx, r.started)
	r.started = nil
	return err
}

func stopComponents(ctx context.Context, components []named) error {
	entry := getLogEntry().WithField("method", "stopComponents")
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		entry.WithField("component", c.name).Debug("stopping")
		if err := c.component.Stop(ctx); err != nil {
			entry.WithField("component", c.name).WithField("error", err.Error()).Warn("stop failed")
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", c.name, err))
		}
	}
	return stopErr
}

func getLogEntry() *log.Entry {
	return log.WithField("object", "Runtime")
}

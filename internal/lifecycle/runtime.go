package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type namedComponent struct {
	name      string
	component Component
}

// Runtime starts components in registration order and stops the started
// ones in reverse.
type Runtime struct {
	mu         sync.Mutex
	components []namedComponent
	started    []namedComponent
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, namedComponent{name: name, component: component})
}

func (r *Runtime) getLogEntry() *log.Entry {
	return log.WithField("object", "Runtime")
}

func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.components {
		began := time.Now()
		if err := c.component.Start(ctx); err != nil {
			_ = r.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", c.name, err)
		}
		r.started = append(r.started, c)
		r.getLogEntry().WithFields(log.Fields{
			"component": c.name,
			"took":      time.Since(began).String(),
		}).Info("component started")
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopStarted(ctx)
}

func (r *Runtime) stopStarted(ctx context.Context) error {
	var stopErr error
	for i := len(r.started) - 1; i >= 0; i-- {
		c := r.started[i]
		if err := c.component.Stop(ctx); err != nil {
			r.getLogEntry().WithError(err).WithField("component", c.name).Error("component stop failed")
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", c.name, err))
			continue
		}
		r.getLogEntry().WithField("component", c.name).Info("component stopped")
	}
	r.started = nil
	return stopErr
}

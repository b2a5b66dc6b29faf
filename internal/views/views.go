// Package views loads the data each dashboard page shows and runs the page
// actions, raising the same notifications the web client raises.
package views

import (
	"context"
	stderrors "errors"
	"sync"

	"microloan-client/internal/api"
	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/notify"
	"microloan-client/internal/workflows/application"
)

// ErrUnmounted is returned when a load finishes after its view went away.
var ErrUnmounted = stderrors.New("view unmounted")

// Mount is one open page. Fetch results are applied only while it is
// mounted and its context is live.
type Mount struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active bool
}

func NewMount(ctx context.Context) *Mount {
	ctx, cancel := context.WithCancel(ctx)
	return &Mount{ctx: ctx, cancel: cancel, active: true}
}

func (m *Mount) Context() context.Context { return m.ctx }

// Unmount discards any load still in flight.
func (m *Mount) Unmount() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	m.cancel()
}

func (m *Mount) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.ctx.Err() == nil
}

// Apply runs fn if the view is still mounted and reports whether it ran.
func (m *Mount) Apply(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// Load fetches with the mount's context and applies the result unless the
// view was unmounted meanwhile.
func Load[T any](m *Mount, fetch func(context.Context) (T, error), apply func(T)) error {
	v, err := fetch(m.ctx)
	if !m.Active() {
		return ErrUnmounted
	}
	if err != nil {
		return err
	}
	if !m.Apply(func() { apply(v) }) {
		return ErrUnmounted
	}
	return nil
}

type Views struct {
	api      *api.Client
	workflow *application.Workflow
	notifier notify.Notifier
	logger   logger.Logger
	errs     *errors.Handler
}

func New(client *api.Client, workflow *application.Workflow, notifier notify.Notifier, log logger.Logger) *Views {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	log = log.With(map[string]interface{}{"component": "views"})
	return &Views{
		api:      client,
		workflow: workflow,
		notifier: notifier,
		logger:   log,
		errs:     errors.NewHandler(log),
	}
}

// fail reports err and raises message. Unmounted loads are dropped silently.
func (v *Views) fail(ctx context.Context, op string, err error, message string) error {
	if stderrors.Is(err, ErrUnmounted) {
		return err
	}
	stdErr := v.errs.Report(op, err)
	if message != "" {
		v.notifier.Error(ctx, message)
	}
	return stdErr
}

// quiet reports err without a notification, for pages that only log.
func (v *Views) quiet(op string, err error) error {
	if stderrors.Is(err, ErrUnmounted) {
		return err
	}
	return v.errs.Report(op, err)
}

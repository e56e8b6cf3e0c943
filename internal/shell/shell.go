// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package shell boots the desktop application: it hands a one-time setup
// callback to the GUI host, resolves the main window, attaches the debug
// inspector in debug builds and then blocks on the host's event loop.
package shell

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// MainWindow is the name of the window the application cannot run without.
const MainWindow = "main"

// RunFailureMessage is reported when the host event loop fails.
const RunFailureMessage = "error while running mereader application"

// ErrMainWindowMissing is reported when the host has no window named "main".
var ErrMainWindowMissing = errors.New("main window not found")

// State is the lifecycle position of a Builder.
type State int32

const (
	Initializing State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Window is a handle on a host window.
type Window interface {
	Name() string
	// OpenDevTools asks the host to attach its debug inspector.
	OpenDevTools()
}

// Windows resolves host windows by name.
type Windows interface {
	Window(name string) (Window, bool)
}

// Host is the GUI runtime. Run creates the windows, calls setup exactly once
// on its initialization goroutine, and then blocks on the event loop until
// the application exits.
type Host interface {
	Run(setup func(Windows)) error
}

// SetupFunc is an extra step run after the main window has been resolved.
// A returned error is fatal.
type SetupFunc func(w Windows) error

// FatalFunc terminates the process. It must not return in production.
type FatalFunc func(msg string, err error)

// Builder wires the setup steps onto a Host.
type Builder struct {
	host  Host
	hooks []SetupFunc
	log   *zap.Logger
	fatal FatalFunc

	state   atomic.Int32
	started atomic.Bool
}

// Option customizes a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.log = l }
}

// WithFatal replaces the process abort used on setup failure.
func WithFatal(fn FatalFunc) Option {
	return func(b *Builder) { b.fatal = fn }
}

// New returns a Builder with default configuration for host.
func New(host Host, opts ...Option) *Builder {
	b := &Builder{host: host, log: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	if b.fatal == nil {
		b.fatal = func(msg string, err error) {
			b.log.Fatal(msg, zap.Error(err))
		}
	}
	return b
}

// Setup registers fn to run once after the main window lookup succeeds.
// Steps run in registration order.
func (b *Builder) Setup(fn SetupFunc) *Builder {
	b.hooks = append(b.hooks, fn)
	return b
}

// State reports the current lifecycle state.
func (b *Builder) State() State {
	return State(b.state.Load())
}

// Run hands control to the host and blocks until the event loop ends.
// A non-nil error means the host itself failed; callers report
// RunFailureMessage and exit.
func (b *Builder) Run() error {
	err := b.host.Run(b.setup)
	b.state.Store(int32(Terminated))
	if err != nil {
		b.log.Error(RunFailureMessage, zap.Error(err))
		return err
	}
	b.log.Info("event loop finished")
	return nil
}

func (b *Builder) setup(w Windows) {
	if !b.started.CompareAndSwap(false, true) {
		b.log.Warn("host invoked setup more than once; ignoring")
		return
	}

	main, ok := w.Window(MainWindow)
	if !ok {
		b.abort("setup failed", ErrMainWindowMissing)
		return
	}
	b.log.Debug("resolved window", zap.String("window", main.Name()))

	openInspector(main)

	for _, fn := range b.hooks {
		if err := fn(w); err != nil {
			b.abort("setup failed", err)
			return
		}
	}
	b.state.Store(int32(Running))
}

func (b *Builder) abort(msg string, err error) {
	b.state.Store(int32(Terminated))
	b.fatal(msg, err)
}

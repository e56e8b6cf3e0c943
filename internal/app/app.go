// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package app holds the methods the desktop frontend calls through Wails.
package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/library"
	"github.com/WhiteHades/mereader/internal/monitor"
	"github.com/WhiteHades/mereader/internal/store"
)

// EventPrefix namespaces hub events forwarded to the frontend, e.g.
// "mereader:index_progress".
const EventPrefix = "mereader:"

// Background is work that must finish before the window closes.
type Background interface {
	Busy() bool
}

// StatusSource reports the last known LLM state.
type StatusSource interface {
	Status() monitor.Status
}

// App is bound to the frontend.
type App struct {
	ctx context.Context

	Library *library.Library
	Work    Background
	LLM     StatusSource
	Events  *events.Hub
	// Cleanup stops the background services. It runs once, on close or
	// on shutdown.
	Cleanup func()

	log         *zap.Logger
	sub         chan events.Event
	cleanupOnce sync.Once
	closed      atomic.Bool
	quitting    atomic.Bool
	wg          sync.WaitGroup

	// Wails runtime calls, replaced in tests.
	emit     func(ctx context.Context, name string, data ...interface{})
	quit     func(ctx context.Context)
	openFile func(ctx context.Context, opts runtime.OpenDialogOptions) (string, error)
}

// New returns an App with the real Wails runtime.
func New(lib *library.Library, work Background, llm StatusSource, hub *events.Hub, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		Library:  lib,
		Work:     work,
		LLM:      llm,
		Events:   hub,
		log:      log.Named("app"),
		emit:     runtime.EventsEmit,
		quit:     runtime.Quit,
		openFile: runtime.OpenFileDialog,
	}
}

// Startup is called at application startup. Hub events are forwarded to
// the frontend from here on.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	if a.Events == nil {
		return
	}
	a.sub = a.Events.Subscribe()
	a.wg.Add(1)
	go func(ch chan events.Event) {
		defer a.wg.Done()
		for e := range ch {
			a.emit(ctx, EventPrefix+string(e.Type), e)
		}
	}(a.sub)
}

// Shutdown is called at application termination.
func (a *App) Shutdown(ctx context.Context) {
	a.cleanup()
}

// BeforeClose keeps the window open while books are being indexed, tells
// the frontend, and quits once the services have stopped.
//
// Quit runs this hook again, so once the services are stopped it no longer
// prevents the close.
func (a *App) BeforeClose(ctx context.Context) (prevent bool) {
	if a.closed.Load() || a.Work == nil || !a.Work.Busy() {
		return false
	}
	if !a.quitting.CompareAndSwap(false, true) {
		return true
	}
	a.emit(ctx, "shutdown-initiated")
	go func() {
		// Give the UI a moment to show the notice.
		time.Sleep(500 * time.Millisecond)
		a.cleanup()
		a.quit(ctx)
	}()
	return true
}

func (a *App) cleanup() {
	a.cleanupOnce.Do(func() {
		a.log.Info("stopping background services")
		if a.sub != nil {
			a.Events.Unsubscribe(a.sub)
			a.wg.Wait()
		}
		if a.Cleanup != nil {
			a.Cleanup()
		}
		a.closed.Store(true)
	})
}

// PickBookFile opens a file dialog filtered to EPUB files. An empty path
// means the dialog was cancelled.
func (a *App) PickBookFile() (string, error) {
	return a.openFile(a.ctx, runtime.OpenDialogOptions{
		Title: "Add Book",
		Filters: []runtime.FileFilter{
			{DisplayName: "EPUB Books (*.epub)", Pattern: "*.epub"},
		},
	})
}

// ImportBook copies the file at path into the library and imports it.
func (a *App) ImportBook(path string) (*store.Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	saved, err := a.Library.SaveUpload(f, filepath.Base(path))
	f.Close()
	if err != nil {
		return nil, err
	}
	b, err := a.Library.Import(a.context(), saved)
	if err != nil {
		os.Remove(saved)
		return nil, err
	}
	return b, nil
}

// ListBooks returns the library, optionally filtered by title or author.
func (a *App) ListBooks(query string) ([]store.Listing, error) {
	return a.Library.List(a.context(), 0, 0, query)
}

// OllamaStatus is the last known state of the LLM runtime.
func (a *App) OllamaStatus() monitor.Status {
	if a.LLM == nil {
		return monitor.Status{}
	}
	return a.LLM.Status()
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package shell

import (
	"context"
	"io/fs"
	"net/http"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"
)

// WailsHost runs the application on Wails v2. Wails creates one webview
// window, configured from the manifest's primary entry.
type WailsHost struct {
	Context *Context
	Assets  fs.FS
	// Handler serves every request the embedded assets cannot, i.e. the API.
	Handler http.Handler
	Bind    []interface{}
	Logger  *zap.Logger

	OnStartup     func(ctx context.Context)
	OnShutdown    func(ctx context.Context)
	OnBeforeClose func(ctx context.Context) (prevent bool)
}

// Run implements Host.
func (h *WailsHost) Run(setup func(Windows)) error {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}
	primary, _ := h.Context.Primary()
	if len(h.Context.Windows) > 1 {
		log.Warn("wails creates a single window; extra manifest windows are ignored",
			zap.String("window", primary.Name), zap.Int("declared", len(h.Context.Windows)))
	}

	title := primary.Title
	if title == "" {
		title = h.Context.ProductName
	}
	resizable := primary.Resizable == nil || *primary.Resizable

	return wails.Run(&options.App{
		Title:         title,
		Width:         primary.Width,
		Height:        primary.Height,
		MinWidth:      primary.MinWidth,
		MinHeight:     primary.MinHeight,
		DisableResize: !resizable,
		AssetServer: &assetserver.Options{
			Assets:  h.Assets,
			Handler: h.Handler,
		},
		BackgroundColour: &options.RGBA{R: 24, G: 24, B: 27, A: 1},
		Bind:             h.Bind,
		Logger:           zapLogger{log.Named("wails")},
		LogLevel:         logger.INFO,
		// Wails v2 attaches the inspector while creating the webview. The
		// flag follows the same build tags that gate openInspector.
		Debug: options.Debug{OpenInspectorOnStartup: InspectorEnabled},
		OnStartup: func(ctx context.Context) {
			setup(&wailsWindows{ctx: ctx, manifest: h.Context, primary: primary.Name, log: log})
			if h.OnStartup != nil {
				h.OnStartup(ctx)
			}
		},
		OnShutdown:    h.OnShutdown,
		OnBeforeClose: h.OnBeforeClose,
	})
}

type wailsWindows struct {
	ctx      context.Context
	manifest *Context
	primary  string
	log      *zap.Logger
}

func (w *wailsWindows) Window(name string) (Window, bool) {
	if name != w.primary {
		return nil, false
	}
	if _, ok := w.manifest.Window(name); !ok {
		return nil, false
	}
	return &wailsWindow{ctx: w.ctx, name: name, log: w.log}, true
}

type wailsWindow struct {
	ctx  context.Context
	name string
	log  *zap.Logger
}

func (w *wailsWindow) Name() string { return w.name }

// OpenDevTools brings the window forward so the inspector Wails attached at
// creation is visible.
func (w *wailsWindow) OpenDevTools() {
	w.log.Info("debug inspector enabled", zap.String("window", w.name))
	runtime.WindowShow(w.ctx)
}

// zapLogger adapts zap to the Wails logger interface.
type zapLogger struct{ l *zap.Logger }

func (z zapLogger) Print(message string)   { z.l.Info(message) }
func (z zapLogger) Trace(message string)   { z.l.Debug(message) }
func (z zapLogger) Debug(message string)   { z.l.Debug(message) }
func (z zapLogger) Info(message string)    { z.l.Info(message) }
func (z zapLogger) Warning(message string) { z.l.Warn(message) }
func (z zapLogger) Error(message string)   { z.l.Error(message) }
func (z zapLogger) Fatal(message string)   { z.l.Fatal(message) }

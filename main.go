// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/app"
	"github.com/WhiteHades/mereader/internal/config"
	"github.com/WhiteHades/mereader/internal/logging"
	"github.com/WhiteHades/mereader/internal/services"
	"github.com/WhiteHades/mereader/internal/shell"
)

//go:embed all:frontend/dist
var assets embed.FS

//go:embed app.json
var appJSON []byte

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if dir, err := os.UserConfigDir(); err == nil {
		cfg.Rebase(filepath.Join(dir, "mereader"))
	}
	log, err := logging.New(cfg.LogLevel, shell.InspectorEnabled)
	if err != nil {
		return err
	}
	defer log.Sync()

	manifest, err := shell.ParseContext(appJSON)
	if err != nil {
		return err
	}
	dist, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		return err
	}

	svcs, err := services.New(cfg, log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svcs.Start(ctx)

	a := app.New(svcs.Library, svcs, svcs.Monitor, svcs.Events, log)
	a.Cleanup = func() {
		cancel()
		if err := svcs.Close(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	host := &shell.WailsHost{
		Context:       manifest,
		Assets:        dist,
		Handler:       svcs.Server.Handler(),
		Bind:          []interface{}{a},
		Logger:        log,
		OnStartup:     a.Startup,
		OnShutdown:    a.Shutdown,
		OnBeforeClose: a.BeforeClose,
	}
	if err := shell.New(host, shell.WithLogger(log)).Run(); err != nil {
		return fmt.Errorf("%s: %w", shell.RunFailureMessage, err)
	}
	return nil
}

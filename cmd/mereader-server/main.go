// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Command mereader-server runs the MeReader backend without the desktop
// shell, for development against a browser build of the frontend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/config"
	"github.com/WhiteHades/mereader/internal/logging"
	"github.com/WhiteHades/mereader/internal/server"
	"github.com/WhiteHades/mereader/internal/services"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default $MEREADER_CONFIG or ~/.config/mereader/config.toml)")
	addr := flag.String("addr", "", "listen address, overrides server.host and server.port")
	dev := flag.Bool("dev", false, "console logging with caller info")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(server.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, *dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	svcs, err := services.New(cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svcs.Start(ctx)

	listen := cfg.Server.Addr()
	if *addr != "" {
		listen = *addr
	}
	if err := svcs.Server.Start(listen); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("MeReader started", zap.String("version", server.Version), zap.String("url", "http://"+svcs.Server.Addr()))

	// wait for interrupt (Ctrl-C) or termination signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received, shutting down server")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := svcs.Server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	cancel()
	if err := svcs.Close(); err != nil {
		log.Warn("close error", zap.Error(err))
	}
}

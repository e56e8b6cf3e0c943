// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package services wires the MeReader backend from a Config. Both the
// desktop binary and the headless server start it the same way.
package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/bm25"
	"github.com/WhiteHades/mereader/internal/config"
	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/indexer"
	"github.com/WhiteHades/mereader/internal/library"
	"github.com/WhiteHades/mereader/internal/metrics"
	"github.com/WhiteHades/mereader/internal/monitor"
	"github.com/WhiteHades/mereader/internal/ollama"
	"github.com/WhiteHades/mereader/internal/rag"
	"github.com/WhiteHades/mereader/internal/server"
	"github.com/WhiteHades/mereader/internal/store"
	"github.com/WhiteHades/mereader/internal/vector"
	"github.com/WhiteHades/mereader/internal/watcher"
)

// Services is the running backend.
type Services struct {
	Config  *config.Config
	Events  *events.Hub
	Metrics *metrics.Metrics
	Store   *store.Store
	Vectors *vector.Store
	BM25    *bm25.Cache
	Ollama  *ollama.Client
	Indexer *indexer.Indexer
	Library *library.Library
	RAG     *rag.Service
	Monitor *monitor.Service
	Watcher *watcher.Service
	Server  *server.Server

	log *zap.Logger
}

// New opens the stores and builds every service. Nothing runs until Start.
func New(cfg *config.Config, log *zap.Logger) (*Services, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	s := &Services{Config: cfg, Events: events.NewHub(), Metrics: metrics.New(), log: log}

	var err error
	if s.Store, err = store.Open(cfg.Storage.SQLitePath, log); err != nil {
		return nil, fmt.Errorf("open library database: %w", err)
	}
	if s.Vectors, err = vector.Open(cfg.Storage.VectorPath, log); err != nil {
		s.Store.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	s.BM25 = bm25.NewCache(cfg.Storage.BM25Dir, log)
	s.Ollama = ollama.New(ollama.Options{
		BaseURL:        cfg.Ollama.BaseURL,
		LLMModel:       cfg.Ollama.LLMModel,
		EmbeddingModel: cfg.Ollama.EmbeddingModel,
		Timeout:        cfg.Ollama.Timeout,
		Concurrency:    cfg.Ollama.Concurrency,
	}, log)

	s.Indexer = indexer.New(indexer.Deps{
		Books:   s.Store,
		LLM:     s.Ollama,
		Vectors: s.Vectors,
		BM25:    s.BM25,
		Events:  s.Events,
		Metrics: s.Metrics,
		Logger:  log,
	}, indexer.Options{
		ChunkSize:       cfg.Chunking.ChunkSize,
		ChunkOverlap:    cfg.Chunking.ChunkOverlap,
		MinChunkSize:    cfg.Chunking.MinChunkSize,
		BatchSize:       cfg.Chunking.BatchSize,
		SummaryInterval: cfg.Chunking.SummaryInterval,
	})
	s.Library = library.New(library.Options{
		Store:             s.Store,
		Paths:             cfg.Storage,
		LocationChunkSize: cfg.Chunking.LocationChunkSize,
		Indexer:           s.Indexer,
		Events:            s.Events,
		Metrics:           s.Metrics,
		Logger:            log,
	})
	s.RAG = rag.New(s.Ollama, s.Store, s.Vectors, s.BM25, cfg.Retrieval, s.Metrics, log)
	s.Monitor = monitor.New(s.Ollama, cfg.Ollama.PollInterval, s.Events, s.Metrics, log)

	if cfg.Storage.ImportDir != "" {
		if s.Watcher, err = watcher.New(cfg.Storage.ImportDir, s.Library, log); err != nil {
			log.Warn("import folder watching disabled", zap.Error(err))
		}
	}

	s.Server = server.New(server.Deps{
		Library: s.Library,
		Store:   s.Store,
		Indexer: s.Indexer,
		Querier: s.RAG,
		LLM:     s.Monitor,
		Events:  s.Events,
		Metrics: s.Metrics,
		Logger:  log,
	})
	return s, nil
}

// Start launches the indexer, the Ollama monitor and the import watcher.
func (s *Services) Start(ctx context.Context) {
	s.Indexer.Start(ctx)
	s.Monitor.Start()
	if s.Watcher != nil {
		if err := s.Watcher.Start(); err != nil {
			s.log.Warn("import folder watching disabled", zap.Error(err))
			s.Watcher = nil
		}
	}
	s.log.Info("services started", zap.String("ollama", s.Ollama.String()))
}

// Busy reports whether a book is being indexed.
func (s *Services) Busy() bool { return s.Indexer.Busy() }

// Close stops the background work and closes the stores.
func (s *Services) Close() error {
	if s.Watcher != nil {
		s.Watcher.Stop()
	}
	s.Monitor.Stop()
	s.Indexer.Stop()
	s.Events.Close()
	return errors.Join(s.Vectors.Close(), s.Store.Close())
}

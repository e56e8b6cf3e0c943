// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package watcher imports EPUB files dropped into a watched directory.
package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/store"
)

// DefaultSettle is how long a file must stay unchanged before it is imported.
const DefaultSettle = 500 * time.Millisecond

// Importer copies a file into the library and imports it.
type Importer interface {
	SaveUpload(r io.Reader, filename string) (string, error)
	Import(ctx context.Context, path string) (*store.Book, error)
}

// Service watches a directory tree for new EPUB files.
type Service struct {
	watcher  *fsnotify.Watcher
	root     string
	importer Importer
	log      *zap.Logger

	// Settle is the quiet period after the last write event.
	Settle time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	wg      sync.WaitGroup

	// ctx is cancelled by Stop and aborts running imports.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a watcher for root.
func New(root string, importer Importer, log *zap.Logger) (*Service, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		ctx:      ctx,
		cancel:   cancel,
		watcher:  w,
		root:     root,
		importer: importer,
		log:      log.Named("watcher"),
		Settle:   DefaultSettle,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start adds the watches and begins processing events. Files already
// waiting in the directory are imported too.
func (s *Service) Start() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	if err := s.addRecursive(s.root); err != nil {
		return err
	}
	s.log.Info("watching import directory", zap.String("dir", s.root))
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop ends the watch, drops imports that have not started and cancels the
// running one. It returns once no import is in flight.
func (s *Service) Stop() {
	s.mu.Lock()
	close(s.done)
	s.cancel()
	for p, t := range s.pending {
		t.Stop()
		delete(s.pending, p)
	}
	s.mu.Unlock()
	s.watcher.Close()
	s.wg.Wait()
}

func (s *Service) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := s.addRecursive(event.Name); err != nil {
						s.log.Warn("cannot watch new directory", zap.String("dir", event.Name), zap.Error(err))
					}
					continue
				}
			}
			if !isCandidate(event.Name) {
				continue
			}
			s.schedule(event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watch error", zap.Error(err))
		}
	}
}

// schedule (re)starts the settle timer of p.
func (s *Service) schedule(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[p]; ok {
		t.Reset(s.Settle)
		return
	}
	s.pending[p] = time.AfterFunc(s.Settle, func() {
		s.mu.Lock()
		delete(s.pending, p)
		select {
		case <-s.done:
			s.mu.Unlock()
			return
		default:
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		s.importFile(s.ctx, p)
	})
}

func (s *Service) importFile(ctx context.Context, p string) {
	f, err := os.Open(p)
	if err != nil {
		s.log.Debug("dropped file vanished", zap.String("path", p), zap.Error(err))
		return
	}
	saved, err := s.importer.SaveUpload(f, filepath.Base(p))
	f.Close()
	if err != nil {
		s.log.Error("failed to copy dropped file", zap.String("path", p), zap.Error(err))
		return
	}
	b, err := s.importer.Import(ctx, saved)
	if err != nil {
		s.log.Error("failed to import dropped file", zap.String("path", p), zap.Error(err))
		os.Remove(saved)
		return
	}
	if err := os.Remove(p); err != nil {
		s.log.Warn("imported file left in place", zap.String("path", p), zap.Error(err))
	}
	s.log.Info("imported dropped file", zap.String("path", p), zap.String("book", b.ID), zap.String("title", b.Title))
}

func isCandidate(p string) bool {
	name := filepath.Base(p)
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".epub")
}

func (s *Service) addRecursive(root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return s.watcher.Add(p)
		}
		if isCandidate(p) {
			s.schedule(p)
		}
		return nil
	})
}

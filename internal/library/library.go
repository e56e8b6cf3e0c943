// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package library imports EPUB files into the reader's content layout and
// manages the resulting books.
package library

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/config"
	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/location"
	"github.com/WhiteHades/mereader/internal/metrics"
	"github.com/WhiteHades/mereader/internal/store"
)

// Indexer schedules and removes the AI index of a book.
type Indexer interface {
	Enqueue(bookID string) error
	Forget(bookID string) error
}

// Library owns the uploaded files and extracted content of every book.
type Library struct {
	store   *store.Store
	paths   config.StorageConfig
	counter location.Counter
	indexer Indexer
	events  *events.Hub
	metrics *metrics.Metrics
	log     *zap.Logger
}

// Options wires a Library.
type Options struct {
	Store             *store.Store
	Paths             config.StorageConfig
	LocationChunkSize int
	Indexer           Indexer
	Events            *events.Hub
	Metrics           *metrics.Metrics
	Logger            *zap.Logger
}

// New returns a Library. Indexer may be nil, in which case books are
// imported without AI indexing.
func New(o Options) *Library {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hub := o.Events
	if hub == nil {
		hub = events.NewHub()
	}
	return &Library{
		store:   o.Store,
		paths:   o.Paths,
		counter: location.New(o.LocationChunkSize),
		indexer: o.Indexer,
		events:  hub,
		metrics: o.Metrics,
		log:     log.Named("library"),
	}
}

// Counter is the location counter used for imported chapters.
func (l *Library) Counter() location.Counter { return l.counter }

// SaveUpload stores an uploaded file in the upload directory under a
// name ending in .epub, without spaces, that does not clash with an
// existing upload.
func (l *Library) SaveUpload(r io.Reader, filename string) (string, error) {
	name := filepath.Base(filename)
	if !strings.HasSuffix(strings.ToLower(name), ".epub") {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".epub"
	}
	name = strings.ReplaceAll(name, " ", "_")

	if err := os.MkdirAll(l.paths.UploadDir, 0o755); err != nil {
		return "", apperr.Internal(err, "Failed to save uploaded file")
	}
	p := uniquePath(l.paths.UploadDir, name)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperr.Internal(err, "Failed to save uploaded file")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return "", apperr.Internal(err, "Failed to save uploaded file")
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return "", apperr.Internal(err, "Failed to save uploaded file")
	}
	l.log.Info("EPUB file saved", zap.String("path", p))
	return p, nil
}

// uniquePath appends _N to the stem of name until it is free in dir. A
// stem already ending in _N continues counting from N.
func uniquePath(dir, name string) string {
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	base, counter := stem, 1
	if i := strings.LastIndexByte(stem, '_'); i > 0 {
		if n, err := strconv.Atoi(stem[i+1:]); err == nil {
			base, counter = stem[:i], n+1
		}
	}
	for {
		p = filepath.Join(dir, fmt.Sprintf("%s_%d.epub", base, counter))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
		counter++
	}
}

// Delete removes a book's files, index and rows. File and index cleanup
// failures are logged; only the row deletion is fatal.
func (l *Library) Delete(ctx context.Context, id string) error {
	b, err := l.store.GetBook(ctx, id)
	if err != nil {
		return err
	}
	for _, p := range []string{b.FilePath, b.CoverPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			l.log.Warn("error deleting book file", zap.String("path", p), zap.Error(err))
		}
	}
	if b.ContentPath != "" {
		if err := os.RemoveAll(b.ContentPath); err != nil {
			l.log.Warn("error deleting book content", zap.String("path", b.ContentPath), zap.Error(err))
		}
	}
	if l.indexer != nil {
		if err := l.indexer.Forget(id); err != nil {
			l.log.Warn("error deleting book embeddings", zap.String("book", id), zap.Error(err))
		}
	}
	if err := l.store.DeleteBook(ctx, id); err != nil {
		return err
	}
	l.events.Emit(events.BookDeleted, id, nil)
	l.log.Info("deleted book", zap.String("book", id), zap.String("title", b.Title))
	return nil
}

// Detail is a book with its chapters and the reader's position.
type Detail struct {
	store.Book
	Chapters             []store.Chapter `json:"chapters"`
	CompletionPercentage float64         `json:"completion_percentage"`
	CurrentLocation      int             `json:"current_location"`
	LastReadAt           *time.Time      `json:"last_read_at"`
}

// Detail returns the book with id, its chapters and reading progress.
func (l *Library) Detail(ctx context.Context, id string) (*Detail, error) {
	b, err := l.store.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	chapters, err := l.store.Chapters(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Book: *b, Chapters: chapters}
	p, err := l.store.GetProgress(ctx, id)
	switch {
	case err == nil:
		d.CompletionPercentage = p.CompletionPercentage
		d.CurrentLocation = p.CurrentLocation
		t := p.LastReadAt
		d.LastReadAt = &t
	case !apperr.Is(err, apperr.KindNotFound):
		return nil, err
	}
	return d, nil
}

// List returns books with their completion. A non-empty query keeps only
// books whose title or author matches it, tolerating small typos.
func (l *Library) List(ctx context.Context, skip, limit int, query string) ([]store.Listing, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return l.store.ListBooks(ctx, skip, limit)
	}
	all, err := l.store.ListBooks(ctx, 0, -1)
	if err != nil {
		return nil, err
	}
	var out []store.Listing
	for _, b := range all {
		if Matches(query, b.Title, b.Author) {
			out = append(out, b)
		}
	}
	if skip > 0 {
		if skip >= len(out) {
			return []store.Listing{}, nil
		}
		out = out[skip:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []store.Listing{}
	}
	return out, nil
}

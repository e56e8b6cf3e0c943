// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package bm25

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
)

// Result is a scored chunk.
type Result struct {
	Score float64
	Entry
}

// Cache stores indexes on disk and keeps loaded ones in memory.
type Cache struct {
	dir string
	log *zap.Logger

	mu     sync.Mutex
	loaded map[string]*Index
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{dir: dir, log: log, loaded: make(map[string]*Index)}
}

func (c *Cache) path(bookID string) string {
	return filepath.Join(c.dir, bookID+"_bm25.json")
}

// Save writes the entries for bookID and replaces any loaded index.
func (c *Cache) Save(bookID string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return apperr.Internal(err, "Failed to create BM25 index for book %s", bookID)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return apperr.Internal(err, "Failed to create BM25 index for book %s", bookID)
	}
	tmp := c.path(bookID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperr.Internal(err, "Failed to create BM25 index for book %s", bookID)
	}
	if err := os.Rename(tmp, c.path(bookID)); err != nil {
		os.Remove(tmp)
		return apperr.Internal(err, "Failed to create BM25 index for book %s", bookID)
	}

	c.mu.Lock()
	c.loaded[bookID] = New(entries)
	c.mu.Unlock()
	c.log.Info("created BM25 index", zap.String("book", bookID), zap.Int("chunks", len(entries)))
	return nil
}

// Load returns the index for bookID, or nil when none was saved.
func (c *Cache) Load(bookID string) (*Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ix, ok := c.loaded[bookID]; ok {
		return ix, nil
	}
	data, err := os.ReadFile(c.path(bookID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "Failed to load BM25 index for book %s", bookID)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperr.Internal(err, "Failed to load BM25 index for book %s", bookID)
	}
	ix := New(entries)
	c.loaded[bookID] = ix
	return ix, nil
}

// Exists reports whether an index file exists for bookID.
func (c *Cache) Exists(bookID string) bool {
	_, err := os.Stat(c.path(bookID))
	return err == nil
}

// Delete removes the index for bookID. A missing index is not an error.
func (c *Cache) Delete(bookID string) error {
	c.mu.Lock()
	delete(c.loaded, bookID)
	c.mu.Unlock()
	if err := os.Remove(c.path(bookID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.Internal(err, "Failed to delete BM25 index for book %s", bookID)
	}
	return nil
}

// Search ranks the book's chunks up to boundary. Scores are normalized so
// the best match is 0.95. A missing index yields no results.
func (c *Cache) Search(query, bookID string, boundary, limit int) ([]Result, error) {
	start := time.Now()
	ix, err := c.Load(bookID)
	if err != nil {
		return nil, err
	}
	if ix == nil {
		c.log.Warn("no BM25 index found", zap.String("book", bookID))
		return nil, nil
	}

	scores := ix.Scores(Tokenize(query))
	var out []Result
	for i, s := range scores {
		e := ix.Entries[i]
		if e.Location > boundary || s <= 0 {
			continue
		}
		out = append(out, Result{Score: s, Entry: e})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if len(out) > 0 {
		max := out[0].Score
		for i := range out {
			out[i].Score = out[i].Score / max * 0.95
		}
	}
	c.log.Debug("BM25 search completed", zap.String("book", bookID),
		zap.Duration("took", time.Since(start)), zap.Int("results", len(out)))
	return out, nil
}

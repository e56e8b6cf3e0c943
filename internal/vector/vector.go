// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package vector is an embedded vector store on LevelDB. Points are grouped
// by book so a book's vectors can be scanned and dropped together.
package vector

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
)

// Content types stored in the payload.
const (
	TypeContent = "content"
	TypeSummary = "summary"
)

// Payload is the metadata kept with each vector.
type Payload struct {
	BookID               string  `json:"book_id"`
	ChapterID            string  `json:"chapter_id,omitempty"`
	ChapterTitle         string  `json:"chapter_title"`
	ChapterOrder         int     `json:"chapter_order,omitempty"`
	Location             int     `json:"location"`
	CompletionPercentage float64 `json:"completion_percentage"`
	Text                 string  `json:"text"`
	ContentType          string  `json:"content_type"`
}

// Point is a stored vector.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Result is a scored match.
type Result struct {
	ID    string
	Score float64
	Payload
}

// Filter restricts a search to one book.
type Filter struct {
	BookID    string
	Limit     int
	Threshold float64
	// MaxLocation drops points past the reader's position when positive.
	MaxLocation int
	// ContentType keeps only points of that type when set.
	ContentType string
}

// Store is a LevelDB-backed vector collection.
type Store struct {
	db  *leveldb.DB
	log *zap.Logger
}

// Open opens or creates the store at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, apperr.Internal(err, "Failed to open vector store")
	}
	return newStore(db, log), nil
}

// OpenMemory returns a store that lives only in memory.
func OpenMemory(log *zap.Logger) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, apperr.Internal(err, "Failed to open vector store")
	}
	return newStore(db, log), nil
}

func newStore(db *leveldb.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func bookPrefix(bookID string) []byte {
	return []byte("p/" + bookID + "/")
}

func pointKey(bookID, id string) []byte {
	return append(bookPrefix(bookID), id...)
}

// Upsert writes points, replacing any with the same book and id.
func (s *Store) Upsert(points []Point) error {
	batch := new(leveldb.Batch)
	for _, p := range points {
		if p.ID == "" || p.Payload.BookID == "" {
			return apperr.Invalid("vector point needs an id and a book id")
		}
		data, err := json.Marshal(p)
		if err != nil {
			return apperr.Internal(err, "Failed to add vectors")
		}
		batch.Put(pointKey(p.Payload.BookID, p.ID), data)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return apperr.Internal(err, "Failed to add vectors")
	}
	return nil
}

// HasBook reports whether any vector exists for the book.
func (s *Store) HasBook(bookID string) bool {
	it := s.db.NewIterator(util.BytesPrefix(bookPrefix(bookID)), nil)
	defer it.Release()
	return it.First()
}

// Count returns the number of stored points for the book.
func (s *Store) Count(bookID string) (int, error) {
	it := s.db.NewIterator(util.BytesPrefix(bookPrefix(bookID)), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, apperr.Internal(err, "Failed to count vectors")
	}
	return n, nil
}

// Search ranks the book's points by cosine similarity to query. Points below
// the threshold or outside the filter are dropped.
func (s *Store) Search(query []float32, f Filter) ([]Result, error) {
	it := s.db.NewIterator(util.BytesPrefix(bookPrefix(f.BookID)), nil)
	defer it.Release()

	qn := norm(query)
	var out []Result
	for it.Next() {
		var p Point
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			s.log.Warn("skipping corrupt vector", zap.ByteString("key", it.Key()), zap.Error(err))
			continue
		}
		if f.MaxLocation > 0 && p.Payload.Location > f.MaxLocation {
			continue
		}
		if f.ContentType != "" && p.Payload.ContentType != f.ContentType {
			continue
		}
		score := cosine(query, qn, p.Vector)
		if score < f.Threshold {
			continue
		}
		out = append(out, Result{ID: p.ID, Score: score, Payload: p.Payload})
	}
	if err := it.Error(); err != nil {
		return nil, apperr.Internal(err, "failed to search vectors")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// DeleteBook drops every point of the book.
func (s *Store) DeleteBook(bookID string) error {
	it := s.db.NewIterator(util.BytesPrefix(bookPrefix(bookID)), nil)
	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return apperr.Internal(err, "Failed to delete vectors for book %s", bookID)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return apperr.Internal(err, "Failed to delete vectors for book %s", bookID)
	}
	s.log.Info("deleted vectors", zap.String("book", bookID), zap.Int("points", batch.Len()))
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(q []float32, qn float64, v []float32) float64 {
	if len(q) != len(v) || qn == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	vn := norm(v)
	if vn == 0 {
		return 0
	}
	return dot / (qn * vn)
}

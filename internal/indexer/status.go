// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package indexer

import "time"

// State is where a book is in the indexing pipeline.
type State string

const (
	StateNone      State = "not_indexed"
	StateQueued    State = "queued"
	StateRunning   State = "processing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status describes the indexing of one book.
type Status struct {
	BookID    string    `json:"book_id"`
	State     State     `json:"status"`
	Chunks    int       `json:"chunks"`
	Vectors   int       `json:"vectors"`
	Keyword   bool      `json:"keyword_index"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

func (ix *Indexer) setStatus(bookID string, fn func(*Status)) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	st, ok := ix.status[bookID]
	if !ok {
		st = &Status{BookID: bookID}
		ix.status[bookID] = st
	}
	fn(st)
}

// Status reports the indexing state of a book. Books indexed by an earlier
// process are found through the stores.
func (ix *Indexer) Status(bookID string) Status {
	ix.mu.Lock()
	var st Status
	if s, ok := ix.status[bookID]; ok {
		st = *s
	} else {
		st = Status{BookID: bookID, State: StateNone}
	}
	ix.mu.Unlock()

	if n, err := ix.Vectors.Count(bookID); err == nil {
		st.Vectors = n
		if st.State == StateNone && n > 0 {
			st.State = StateCompleted
		}
	}
	if ix.BM25 != nil {
		st.Keyword = ix.BM25.Exists(bookID)
	}
	return st
}

// Busy reports whether any book is queued or running.
func (ix *Indexer) Busy() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, s := range ix.status {
		if s.State == StateQueued || s.State == StateRunning {
			return true
		}
	}
	return false
}

// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/WhiteHades/mereader/internal/apperr"
)

// Progress is the reader's position in one book.
type Progress struct {
	ID                   string    `json:"-"`
	BookID               string    `json:"book_id"`
	CurrentLocation      int       `json:"current_location"`
	CurrentChapterID     string    `json:"-"`
	CompletionPercentage float64   `json:"completion_percentage"`
	LastReadAt           time.Time `json:"last_read_at"`
}

// GetProgress returns the progress row for a book.
func (s *Store) GetProgress(ctx context.Context, bookID string) (*Progress, error) {
	var p Progress
	var chapter sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, book_id, current_location, current_chapter_id,
		completion_percentage, last_read_at FROM reading_progress WHERE book_id = ?`, bookID).
		Scan(&p.ID, &p.BookID, &p.CurrentLocation, &chapter, &p.CompletionPercentage, &p.LastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Reading progress for book %s not found", bookID)
	}
	if err != nil {
		return nil, dbErr(err, "get progress")
	}
	p.CurrentChapterID = chapter.String
	return &p, nil
}

// SaveProgress inserts or updates the progress row for p.BookID and stamps
// LastReadAt.
func (s *Store) SaveProgress(ctx context.Context, p *Progress) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.LastReadAt = now()
	var chapter any
	if p.CurrentChapterID != "" {
		chapter = p.CurrentChapterID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO reading_progress (id, book_id, current_location,
		current_chapter_id, completion_percentage, last_read_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id) DO UPDATE SET current_location = excluded.current_location,
		current_chapter_id = excluded.current_chapter_id,
		completion_percentage = excluded.completion_percentage,
		last_read_at = excluded.last_read_at`,
		p.ID, p.BookID, p.CurrentLocation, chapter, p.CompletionPercentage, p.LastReadAt)
	if err != nil {
		return dbErr(err, "save progress")
	}
	return nil
}

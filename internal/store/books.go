// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/WhiteHades/mereader/internal/apperr"
)

// Book is a library entry.
type Book struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Author         string          `json:"author"`
	FilePath       string          `json:"file_path"`
	ContentPath    string          `json:"content_path"`
	CoverPath      string          `json:"cover_path"`
	Language       string          `json:"language"`
	PublishedYear  *int            `json:"published_year"`
	Publisher      string          `json:"publisher"`
	ISBN           string          `json:"isbn"`
	Description    string          `json:"description"`
	ContentLength  int             `json:"content_length"`
	TotalLocations int             `json:"total_locations"`
	TotalChapters  int             `json:"total_chapters"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Chapter is a chapter file and its location range.
type Chapter struct {
	ID            string `json:"id"`
	BookID        string `json:"-"`
	Title         string `json:"title"`
	Order         int    `json:"order"`
	ContentPath   string `json:"-"`
	StartLocation int    `json:"start_location"`
	EndLocation   int    `json:"end_location"`
}

func (c Chapter) Start() int { return c.StartLocation }
func (c Chapter) End() int   { return c.EndLocation }

// Listing is a book row joined with its reading progress.
type Listing struct {
	Book
	CompletionPercentage float64    `json:"completion_percentage"`
	LastReadAt           *time.Time `json:"last_read_at"`
}

const bookColumns = `b.id, b.title, b.author, b.file_path, b.content_path, b.cover_path, b.language,
	b.published_year, b.publisher, b.isbn, b.description, b.content_length, b.total_locations,
	b.total_chapters, b.book_metadata, b.created_at, b.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner, extra ...any) (*Book, error) {
	var b Book
	var year sql.NullInt64
	var meta string
	dest := []any{&b.ID, &b.Title, &b.Author, &b.FilePath, &b.ContentPath, &b.CoverPath, &b.Language,
		&year, &b.Publisher, &b.ISBN, &b.Description, &b.ContentLength, &b.TotalLocations,
		&b.TotalChapters, &meta, &b.CreatedAt, &b.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if year.Valid {
		y := int(year.Int64)
		b.PublishedYear = &y
	}
	if meta != "" {
		b.Metadata = json.RawMessage(meta)
	}
	return &b, nil
}

// CreateBook inserts a book, its chapters and an initial progress row at
// location 1 in one transaction. Empty ids are generated.
func (s *Store) CreateBook(ctx context.Context, b *Book, chapters []Chapter) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	ts := now()
	b.CreatedAt, b.UpdatedAt = ts, ts
	b.TotalChapters = len(chapters)
	meta := string(b.Metadata)
	if meta == "" {
		meta = "{}"
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO books (id, title, author, file_path, content_path, cover_path,
			language, published_year, publisher, isbn, description, content_length, total_locations,
			total_chapters, book_metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.Title, b.Author, b.FilePath, b.ContentPath, b.CoverPath, b.Language, b.PublishedYear,
			b.Publisher, b.ISBN, b.Description, b.ContentLength, b.TotalLocations, b.TotalChapters,
			meta, b.CreatedAt, b.UpdatedAt)
		if err != nil {
			return err
		}
		for i := range chapters {
			c := &chapters[i]
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.BookID = b.ID
			if _, err := tx.ExecContext(ctx, `INSERT INTO chapters (id, book_id, title, "order", content_path,
				start_location, end_location) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.BookID, c.Title, c.Order, c.ContentPath, c.StartLocation, c.EndLocation); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO reading_progress (id, book_id, current_location,
			completion_percentage, last_read_at) VALUES (?, ?, 1, 0, ?)`, uuid.NewString(), b.ID, ts)
		return err
	})
	if err != nil {
		return dbErr(err, "create book")
	}
	return nil
}

// GetBook returns the book with id.
func (s *Store) GetBook(ctx context.Context, id string) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books b WHERE b.id = ?`, id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Book with ID %s not found", id)
	}
	if err != nil {
		return nil, dbErr(err, "get book")
	}
	return b, nil
}

// ListBooks pages through the library in insertion order.
func (s *Store) ListBooks(ctx context.Context, skip, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+`,
		COALESCE(p.completion_percentage, 0), p.last_read_at
		FROM books b LEFT JOIN reading_progress p ON p.book_id = b.id
		ORDER BY b.created_at, b.rowid LIMIT ? OFFSET ?`, limit, skip)
	if err != nil {
		return nil, dbErr(err, "list books")
	}
	defer rows.Close()

	out := []Listing{}
	for rows.Next() {
		var pct float64
		var last sql.NullTime
		b, err := scanBook(rows, &pct, &last)
		if err != nil {
			return nil, dbErr(err, "list books")
		}
		l := Listing{Book: *b, CompletionPercentage: pct}
		if last.Valid {
			t := last.Time
			l.LastReadAt = &t
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "list books")
	}
	return out, nil
}

// DeleteBook removes a book; chapters and progress cascade.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return dbErr(err, "delete book")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Book with ID %s not found", id)
	}
	return nil
}

const chapterColumns = `id, book_id, title, "order", content_path, start_location, end_location`

func scanChapter(row scanner) (*Chapter, error) {
	var c Chapter
	if err := row.Scan(&c.ID, &c.BookID, &c.Title, &c.Order, &c.ContentPath, &c.StartLocation, &c.EndLocation); err != nil {
		return nil, err
	}
	return &c, nil
}

// Chapters lists a book's chapters in reading order.
func (s *Store) Chapters(ctx context.Context, bookID string) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE book_id = ? ORDER BY "order"`, bookID)
	if err != nil {
		return nil, dbErr(err, "list chapters")
	}
	defer rows.Close()
	out := []Chapter{}
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, dbErr(err, "list chapters")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "list chapters")
	}
	return out, nil
}

func (s *Store) oneChapter(ctx context.Context, op, query string, args ...any) (*Chapter, error) {
	c, err := scanChapter(s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE `+query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err, op)
	}
	return c, nil
}

// Chapter returns one chapter of a book.
func (s *Store) Chapter(ctx context.Context, bookID, chapterID string) (*Chapter, error) {
	c, err := s.oneChapter(ctx, "get chapter", `id = ? AND book_id = ?`, chapterID, bookID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("Chapter with ID %s not found", chapterID)
	}
	return c, nil
}

// ChapterContaining returns the chapter whose range holds loc, or nil.
func (s *Store) ChapterContaining(ctx context.Context, bookID string, loc int) (*Chapter, error) {
	return s.oneChapter(ctx, "find chapter", `book_id = ? AND start_location <= ? AND end_location >= ?
		ORDER BY "order" LIMIT 1`, bookID, loc, loc)
}

// ChapterAtOrBefore returns the last chapter starting at or before loc, or nil.
func (s *Store) ChapterAtOrBefore(ctx context.Context, bookID string, loc int) (*Chapter, error) {
	return s.oneChapter(ctx, "find chapter", `book_id = ? AND start_location <= ?
		ORDER BY start_location DESC LIMIT 1`, bookID, loc)
}

// FirstChapter returns the opening chapter, or nil for a book without chapters.
func (s *Store) FirstChapter(ctx context.Context, bookID string) (*Chapter, error) {
	return s.oneChapter(ctx, "find chapter", `book_id = ? ORDER BY "order" LIMIT 1`, bookID)
}

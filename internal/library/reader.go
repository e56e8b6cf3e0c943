// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package library

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/store"
)

// ChapterContent is a processed chapter with its HTML.
type ChapterContent struct {
	BookID        string `json:"book_id,omitempty"`
	ChapterID     string `json:"chapter_id,omitempty"`
	ID            string `json:"id,omitempty"`
	Title         string `json:"title"`
	Order         int    `json:"order"`
	StartLocation int    `json:"start_location"`
	EndLocation   int    `json:"end_location"`
	Content       string `json:"content"`
}

// BookContent is every chapter of a book in reading order.
type BookContent struct {
	BookID   string           `json:"book_id"`
	Title    string           `json:"title"`
	Chapters []ChapterContent `json:"chapters"`
}

// LocatedChapter is a chapter together with a position inside it.
type LocatedChapter struct {
	store.Chapter
	LocationInChapter       int `json:"location_in_chapter"`
	TotalLocationsInChapter int `json:"total_locations_in_chapter"`
}

// LocationText is the text around a reading location.
type LocationText struct {
	BookID       string `json:"book_id"`
	ChapterID    string `json:"chapter_id"`
	ChapterTitle string `json:"chapter_title"`
	Location     int    `json:"location"`
	Text         string `json:"text"`
}

func (l *Library) contentDir(ctx context.Context, bookID string) (*store.Book, error) {
	b, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if b.ContentPath == "" {
		return nil, apperr.NotFound("Book content not found")
	}
	if _, err := os.Stat(b.ContentPath); err != nil {
		return nil, apperr.NotFound("Book content not found")
	}
	return b, nil
}

// CoverPath is the cover image file of a book.
func (l *Library) CoverPath(ctx context.Context, bookID string) (string, error) {
	b, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return "", err
	}
	if b.CoverPath == "" {
		return "", apperr.NotFound("Cover image not found for this book")
	}
	if _, err := os.Stat(b.CoverPath); err != nil {
		return "", apperr.NotFound("Cover image not found for this book")
	}
	return b.CoverPath, nil
}

// IndexPath is the generated index.html of a book.
func (l *Library) IndexPath(ctx context.Context, bookID string) (string, error) {
	b, err := l.contentDir(ctx, bookID)
	if err != nil {
		return "", err
	}
	p := filepath.Join(b.ContentPath, "index.html")
	if _, err := os.Stat(p); err != nil {
		return "", apperr.NotFound("Book index file not found")
	}
	return p, nil
}

// ImagePath finds an extracted image by name. Chapters reference images by
// their base name, which may differ from the file on disk in case or in
// the use of - and _.
func (l *Library) ImagePath(ctx context.Context, bookID, name string) (string, error) {
	b, err := l.contentDir(ctx, bookID)
	if err != nil {
		return "", err
	}
	name = filepath.Base(filepath.Clean("/" + name))
	for _, n := range []string{
		name,
		strings.ToLower(name),
		strings.ToUpper(name),
		strings.ReplaceAll(name, "_", "-"),
		strings.ReplaceAll(name, "-", "_"),
	} {
		p := filepath.Join(b.ContentPath, n)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	l.log.Debug("image not found", zap.String("book", bookID), zap.String("image", name))
	return "", apperr.NotFound("Image %s not found", name)
}

// ChapterContent reads one chapter.
func (l *Library) ChapterContent(ctx context.Context, bookID, chapterID string) (*ChapterContent, error) {
	if _, err := l.store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	ch, err := l.store.Chapter(ctx, bookID, chapterID)
	if err != nil {
		return nil, apperr.NotFound("Chapter with ID %s not found for book %s", chapterID, bookID)
	}
	data, err := readChapter(ch)
	if err != nil {
		return nil, err
	}
	return &ChapterContent{
		BookID:        bookID,
		ChapterID:     ch.ID,
		Title:         ch.Title,
		Order:         ch.Order,
		StartLocation: ch.StartLocation,
		EndLocation:   ch.EndLocation,
		Content:       data,
	}, nil
}

func readChapter(ch *store.Chapter) (string, error) {
	if ch.ContentPath == "" {
		return "", apperr.NotFound("Chapter content file not found")
	}
	data, err := os.ReadFile(ch.ContentPath)
	if os.IsNotExist(err) {
		return "", apperr.NotFound("Chapter content file not found")
	}
	if err != nil {
		return "", apperr.Internal(err, "Error reading chapter file")
	}
	return string(data), nil
}

// ChapterAt returns the chapter holding loc. Locations in a gap fall back
// to the chapter before them and locations before every chapter to the
// first one.
func (l *Library) ChapterAt(ctx context.Context, bookID string, loc int) (*LocatedChapter, error) {
	if _, err := l.store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	ch, err := l.store.ChapterContaining(ctx, bookID, loc)
	if err == nil && ch == nil {
		ch, err = l.store.ChapterAtOrBefore(ctx, bookID, loc)
	}
	if err == nil && ch == nil {
		ch, err = l.store.FirstChapter(ctx, bookID)
	}
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, apperr.NotFound("No chapters found for book %s", bookID)
	}
	return &LocatedChapter{
		Chapter:                 *ch,
		LocationInChapter:       loc - ch.StartLocation,
		TotalLocationsInChapter: ch.EndLocation - ch.StartLocation + 1,
	}, nil
}

// BookContent reads every chapter. Unreadable chapters are replaced by a
// short notice so the rest of the book still loads.
func (l *Library) BookContent(ctx context.Context, bookID string) (*BookContent, error) {
	b, err := l.contentDir(ctx, bookID)
	if err != nil {
		return nil, err
	}
	chapters, err := l.store.Chapters(ctx, bookID)
	if err != nil {
		return nil, err
	}
	out := &BookContent{BookID: bookID, Title: b.Title, Chapters: make([]ChapterContent, 0, len(chapters))}
	for i := range chapters {
		ch := &chapters[i]
		data, err := readChapter(ch)
		switch {
		case apperr.Is(err, apperr.KindNotFound):
			data = "<p>Chapter content not found</p>"
		case err != nil:
			l.log.Warn("error reading chapter", zap.String("chapter", ch.ID), zap.Error(err))
			data = "<p>Error loading chapter</p>"
		}
		out.Chapters = append(out.Chapters, ChapterContent{
			ID:            ch.ID,
			Title:         ch.Title,
			Order:         ch.Order,
			StartLocation: ch.StartLocation,
			EndLocation:   ch.EndLocation,
			Content:       data,
		})
	}
	return out, nil
}

// TextAt returns the text around loc with up to size characters either side.
func (l *Library) TextAt(ctx context.Context, bookID string, loc, size int) (*LocationText, error) {
	if _, err := l.store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 500
	}
	ch, err := l.store.ChapterContaining(ctx, bookID, loc)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, apperr.NotFound("No chapter found containing location %d", loc)
	}
	data, err := readChapter(ch)
	if err != nil {
		return nil, err
	}
	return &LocationText{
		BookID:       bookID,
		ChapterID:    ch.ID,
		ChapterTitle: ch.Title,
		Location:     loc,
		Text:         l.counter.TextAt(data, loc-ch.StartLocation+1, size),
	}, nil
}

// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package library

import (
	"context"
	"time"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/location"
	"github.com/WhiteHades/mereader/internal/store"
)

// ProgressView is the reading position as reported to the reader UI.
type ProgressView struct {
	BookID               string         `json:"book_id"`
	CurrentLocation      int            `json:"current_location"`
	CompletionPercentage float64        `json:"completion_percentage"`
	CurrentChapter       *store.Chapter `json:"current_chapter"`
	LastReadAt           *time.Time     `json:"last_read_at"`
}

// ProgressUpdate is a partial progress change. At least one field should
// be set; Location wins over Percentage.
type ProgressUpdate struct {
	Location   *float64 `json:"current_location"`
	ChapterID  string   `json:"chapter_id"`
	Percentage *float64 `json:"completion_percentage"`
}

// Progress returns the reading position of a book. A book without a
// progress row reports location 1. When no chapter is recorded the one
// containing the location is reported.
func (l *Library) Progress(ctx context.Context, bookID string) (*ProgressView, error) {
	if _, err := l.store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	p, err := l.store.GetProgress(ctx, bookID)
	if apperr.Is(err, apperr.KindNotFound) {
		return &ProgressView{BookID: bookID, CurrentLocation: 1}, nil
	}
	if err != nil {
		return nil, err
	}

	var ch *store.Chapter
	if p.CurrentChapterID != "" {
		ch, err = l.store.Chapter(ctx, bookID, p.CurrentChapterID)
		if apperr.Is(err, apperr.KindNotFound) {
			ch, err = nil, nil
		}
	} else {
		ch, err = l.store.ChapterContaining(ctx, bookID, p.CurrentLocation)
	}
	if err != nil {
		return nil, err
	}
	return view(p, ch), nil
}

// UpdateProgress applies u to the stored progress:
//   - a chapter id selects the chapter and defaults the location to its start
//   - a location is clamped to [1, total], picks the chapter when none is
//     set and recomputes the percentage
//   - otherwise a percentage is clamped to [0, 100] and, while the reader is
//     still at the first location, also moves the location
func (l *Library) UpdateProgress(ctx context.Context, bookID string, u ProgressUpdate) (*ProgressView, error) {
	b, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	p, err := l.store.GetProgress(ctx, bookID)
	if apperr.Is(err, apperr.KindNotFound) {
		p, err = &store.Progress{BookID: bookID, CurrentLocation: 1}, nil
	}
	if err != nil {
		return nil, err
	}

	var ch *store.Chapter
	var loc int
	hasLoc := u.Location != nil
	if hasLoc {
		loc = int(*u.Location)
	}
	if u.ChapterID != "" {
		c, err := l.store.Chapter(ctx, bookID, u.ChapterID)
		switch {
		case err == nil:
			ch = c
			p.CurrentChapterID = c.ID
			if !hasLoc {
				loc, hasLoc = c.StartLocation, true
			}
		case !apperr.Is(err, apperr.KindNotFound):
			return nil, err
		}
	}

	switch {
	case hasLoc:
		loc = max(1, loc)
		if b.TotalLocations > 0 {
			loc = min(loc, b.TotalLocations)
		}
		p.CurrentLocation = loc
		if p.CurrentChapterID == "" {
			c, err := l.store.ChapterContaining(ctx, bookID, loc)
			if err != nil {
				return nil, err
			}
			if c != nil {
				ch = c
				p.CurrentChapterID = c.ID
			}
		}
		if b.TotalLocations > 0 {
			p.CompletionPercentage = location.Percentage(loc, b.TotalLocations)
		}
	case u.Percentage != nil:
		pct := min(100, max(0, *u.Percentage))
		p.CompletionPercentage = pct
		if b.TotalLocations > 0 && p.CurrentLocation <= 1 {
			p.CurrentLocation = max(1, min(b.TotalLocations, int(pct/100*float64(b.TotalLocations))))
		}
	}

	if err := l.store.SaveProgress(ctx, p); err != nil {
		return nil, err
	}
	if ch == nil && p.CurrentChapterID != "" {
		if c, err := l.store.Chapter(ctx, bookID, p.CurrentChapterID); err == nil {
			ch = c
		}
	}
	return view(p, ch), nil
}

// ResetProgress moves the reader back to the first location.
func (l *Library) ResetProgress(ctx context.Context, bookID string) (*ProgressView, error) {
	if _, err := l.store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	p, err := l.store.GetProgress(ctx, bookID)
	if apperr.Is(err, apperr.KindNotFound) {
		p, err = &store.Progress{BookID: bookID}, nil
	}
	if err != nil {
		return nil, err
	}
	p.CurrentLocation = 1
	p.CurrentChapterID = ""
	p.CompletionPercentage = 0
	if err := l.store.SaveProgress(ctx, p); err != nil {
		return nil, err
	}
	return view(p, nil), nil
}

func view(p *store.Progress, ch *store.Chapter) *ProgressView {
	v := &ProgressView{
		BookID:               p.BookID,
		CurrentLocation:      p.CurrentLocation,
		CompletionPercentage: p.CompletionPercentage,
		CurrentChapter:       ch,
	}
	if !p.LastReadAt.IsZero() {
		t := p.LastReadAt
		v.LastReadAt = &t
	}
	return v
}

// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/content"
	"github.com/WhiteHades/mereader/internal/epub"
	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/store"
)

var unsafeName = regexp.MustCompile(`[^\w.\-]`)

// IsEPUB sniffs the head of a file for the EPUB signature.
func IsEPUB(head []byte) bool {
	return filetype.Is(head, "epub")
}

func sniffFile(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, err, "EPUB file not found")
	}
	defer f.Close()
	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)
	if !IsEPUB(head[:n]) && !strings.EqualFold(filepath.Ext(p), ".epub") {
		return apperr.Invalid("Only EPUB files are supported")
	}
	return nil
}

// draft is a chapter before it has been written to disk.
type draft struct {
	id         string
	title      string
	order      int
	href       string
	spineIndex int
	html       string
}

// Import parses the EPUB at p, writes its chapters, images and cover into
// the content layout, stores the book and queues it for indexing. When
// anything fails the partially written content is removed.
func (l *Library) Import(ctx context.Context, p string) (*store.Book, error) {
	b, err := l.importBook(ctx, p)
	l.metrics.Imported(err == nil)
	if err != nil {
		l.events.Emit(events.ImportFailed, "", map[string]any{"file": filepath.Base(p), "error": err.Error()})
		return nil, err
	}
	l.events.Emit(events.BookImported, b.ID, map[string]any{"title": b.Title})
	if l.indexer != nil {
		if err := l.indexer.Enqueue(b.ID); err != nil {
			l.log.Warn("could not queue book for indexing", zap.String("book", b.ID), zap.Error(err))
		}
	}
	return b, nil
}

func (l *Library) importBook(ctx context.Context, p string) (_ *store.Book, err error) {
	if err := sniffFile(p); err != nil {
		return nil, err
	}
	l.log.Info("parsing EPUB file", zap.String("path", p))
	eb, err := epub.Open(p)
	if err != nil {
		return nil, err
	}
	defer eb.Close()

	id := uuid.NewString()
	dir := filepath.Join(l.paths.ContentDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Internal(err, "Failed to create content directory")
	}
	var coverPath string
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
			if coverPath != "" {
				os.Remove(coverPath)
			}
		}
	}()

	n := l.extractImages(eb, dir)
	l.log.Debug("extracted images", zap.String("book", id), zap.Int("count", n))

	coverPath = l.extractCover(eb, id)

	drafts, err := chapterDrafts(eb)
	if err != nil {
		return nil, err
	}
	l.log.Info("extracted chapters", zap.String("book", id), zap.Int("count", len(drafts)))

	chapters := make([]content.Chapter, 0, len(drafts))
	total, length := 0, 0
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cp := filepath.Join(dir, fmt.Sprintf("chapter_%d.html", d.order))
		if err := os.WriteFile(cp, []byte(d.html), 0o644); err != nil {
			return nil, apperr.Internal(err, "Failed to write chapter %s", d.id)
		}
		locs := l.counter.Count(d.html)
		chars := utf8.RuneCountInString(d.html)
		chapters = append(chapters, content.Chapter{
			ID:            d.id,
			Title:         d.title,
			Order:         d.order,
			Href:          d.href,
			SpineIndex:    d.spineIndex,
			ContentPath:   cp,
			StartLocation: total + 1,
			EndLocation:   total + locs,
			CharCount:     chars,
		})
		total += locs
		length += chars
	}

	meta := content.Meta{Metadata: eb.Metadata, CoverPath: coverPath}
	if _, _, err := content.WriteBookFiles(dir, meta, chapters); err != nil {
		return nil, apperr.Internal(err, "Failed to write book index")
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, apperr.Internal(err, "Failed to encode book metadata")
	}

	book := &store.Book{
		ID:             id,
		Title:          eb.Metadata.Title,
		Author:         eb.Metadata.Author,
		FilePath:       p,
		ContentPath:    dir,
		CoverPath:      coverPath,
		Language:       eb.Metadata.Language,
		PublishedYear:  eb.Metadata.PublishedYear,
		Publisher:      eb.Metadata.Publisher,
		ISBN:           eb.Metadata.ISBN,
		Description:    eb.Metadata.Description,
		ContentLength:  length,
		TotalLocations: total,
		Metadata:       raw,
	}
	rows := make([]store.Chapter, len(chapters))
	for i, c := range chapters {
		rows[i] = store.Chapter{
			Title:         c.Title,
			Order:         c.Order,
			ContentPath:   c.ContentPath,
			StartLocation: c.StartLocation,
			EndLocation:   c.EndLocation,
		}
	}
	if err := l.store.CreateBook(ctx, book, rows); err != nil {
		return nil, err
	}
	l.log.Info("imported book", zap.String("book", id), zap.String("title", book.Title),
		zap.Int("chapters", len(rows)), zap.Int("locations", total))
	return book, nil
}

// extractImages copies every image into dir under its sanitized base name.
func (l *Library) extractImages(eb *epub.Book, dir string) int {
	n := 0
	for _, it := range eb.Images() {
		data, err := it.Content()
		if err != nil {
			l.log.Warn("failed to extract image", zap.String("image", it.FileName), zap.Error(err))
			continue
		}
		name := unsafeName.ReplaceAllString(path.Base(it.FileName), "_")
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			l.log.Warn("failed to extract image", zap.String("image", it.FileName), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// extractCover writes the cover image to the cover directory and returns
// its path, or "" when the book has none.
func (l *Library) extractCover(eb *epub.Book, bookID string) string {
	it := eb.Cover()
	if it == nil {
		return ""
	}
	data, err := it.Content()
	if err != nil {
		l.log.Warn("failed to extract cover image", zap.Error(err))
		return ""
	}
	ext := strings.TrimPrefix(path.Ext(it.FileName), ".")
	if kind, err := filetype.Image(data); err == nil && kind != types.Unknown {
		ext = kind.Extension
	}
	if ext == "" {
		ext = "jpg"
	}
	if err := os.MkdirAll(l.paths.CoverDir, 0o755); err != nil {
		l.log.Warn("failed to extract cover image", zap.Error(err))
		return ""
	}
	p := filepath.Join(l.paths.CoverDir, fmt.Sprintf("%s_cover.%s", bookID, ext))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		l.log.Warn("failed to extract cover image", zap.Error(err))
		return ""
	}
	return p
}

// chapterDrafts splits the book into chapters: from the table of contents
// when it links spine documents, otherwise one chapter per spine document,
// otherwise a single chapter holding every document.
func chapterDrafts(eb *epub.Book) ([]draft, error) {
	out, err := tocDrafts(eb)
	if err != nil || len(out) > 0 {
		return out, err
	}

	docs := eb.Documents()
	idx := make([]int, 0, len(docs))
	for i := range docs {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		it := docs[i]
		raw, err := it.Content()
		if err != nil {
			return nil, err
		}
		out = append(out, draft{
			id:         fmt.Sprintf("sp%d", i+1),
			title:      content.ChapterTitle(string(raw), it.FileName, i),
			order:      i + 1,
			href:       it.FileName,
			spineIndex: i,
			html:       content.ProcessHTML(string(raw)),
		})
	}
	if len(out) > 0 {
		return out, nil
	}

	var sb strings.Builder
	for _, it := range eb.Items {
		if !it.IsDocument() || strings.HasPrefix(it.ID, "nav") {
			continue
		}
		raw, err := it.Content()
		if err != nil {
			return nil, err
		}
		sb.WriteString(content.ProcessHTML(string(raw)))
	}
	return []draft{{id: "ch1", title: eb.Metadata.Title, order: 1, html: sb.String()}}, nil
}

// tocDrafts numbers entries parent*100+n so nested entries sort after their
// parent. Entries pointing outside the spine, and repeat links to a document
// already taken, are skipped.
func tocDrafts(eb *epub.Book) ([]draft, error) {
	var (
		out  []draft
		seen = make(map[string]bool)
		walk func(entries []epub.TOCEntry, parent int) error
	)
	walk = func(entries []epub.TOCEntry, parent int) error {
		order := parent * 100
		for _, e := range entries {
			if e.Href != "" {
				order++
				if it := eb.ItemByHref(e.Href); it != nil && !seen[it.ID] {
					if si := eb.SpineIndex(it.ID); si >= 0 && it.IsDocument() {
						raw, err := it.Content()
						if err != nil {
							return err
						}
						seen[it.ID] = true
						title := strings.TrimSpace(e.Title)
						if title == "" {
							title = content.ChapterTitle(string(raw), it.FileName, si)
						}
						out = append(out, draft{
							id:         fmt.Sprintf("ch%d", len(out)+1),
							title:      title,
							order:      order,
							href:       it.FileName,
							spineIndex: si,
							html:       content.ProcessHTML(string(raw)),
						})
					}
				}
			}
			if len(e.Children) > 0 {
				if err := walk(e.Children, order); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(eb.TOC, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/library"
)

type bookItem struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Author               string     `json:"author"`
	CoverPath            string     `json:"cover_path"`
	CompletionPercentage float64    `json:"completion_percentage"`
	LastReadAt           *time.Time `json:"last_read_at"`
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (s *Server) listBooks(c *gin.Context) {
	skip, err := intQuery(c, "skip", 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		s.fail(c, err)
		return
	}
	books, err := s.Library.List(c.Request.Context(), skip, limit, c.Query("q"))
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]bookItem, 0, len(books))
	for _, b := range books {
		items = append(items, bookItem{
			ID:                   b.ID,
			Title:                b.Title,
			Author:               b.Author,
			CoverPath:            b.CoverPath,
			CompletionPercentage: b.CompletionPercentage,
			LastReadAt:           b.LastReadAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"books": items, "total": len(items)})
}

func (s *Server) getBook(c *gin.Context) {
	d, err := s.Library.Detail(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// isEPUBUpload accepts a file by extension, declared content type or magic
// bytes.
func isEPUBUpload(name, contentType string, head []byte) bool {
	return strings.HasSuffix(strings.ToLower(name), ".epub") ||
		contentType == "application/epub+zip" ||
		library.IsEPUB(head)
}

func (s *Server) uploadBook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		s.fail(c, apperr.Invalid("A file field named \"file\" is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, apperr.Internal(err, "Failed to read uploaded file"))
		return
	}
	defer f.Close()

	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)
	if !isEPUBUpload(fh.Filename, fh.Header.Get("Content-Type"), head[:n]) {
		s.fail(c, apperr.Invalid("Only EPUB files are supported"))
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.fail(c, apperr.Internal(err, "Failed to read uploaded file"))
		return
	}

	ctx := c.Request.Context()
	p, err := s.Library.SaveUpload(f, fh.Filename)
	if err != nil {
		s.fail(c, err)
		return
	}
	b, err := s.Library.Import(ctx, p)
	if err != nil {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warn("failed to remove rejected upload", zap.String("path", p), zap.Error(rmErr))
		}
		s.fail(c, err)
		return
	}
	s.log.Info("book uploaded", zap.String("book", b.ID), zap.String("file", filepath.Base(p)))
	c.JSON(http.StatusCreated, gin.H{
		"id":         b.ID,
		"title":      b.Title,
		"author":     b.Author,
		"cover_path": b.CoverPath,
		"message":    "Book uploaded successfully. AI indexing started in the background.",
	})
}

func (s *Server) deleteBook(c *gin.Context) {
	if err := s.Library.Delete(c.Request.Context(), c.Param("book_id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) bookCover(c *gin.Context) {
	p, err := s.Library.CoverPath(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.File(p)
}

func (s *Server) embeddingStatus(c *gin.Context) {
	id := c.Param("book_id")
	if _, err := s.Library.Detail(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	if s.Indexer == nil {
		s.fail(c, apperr.Unavailable(nil, "AI indexing is disabled"))
		return
	}
	c.JSON(http.StatusOK, s.Indexer.Status(id))
}

func (s *Server) reindexBook(c *gin.Context) {
	id := c.Param("book_id")
	if _, err := s.Library.Detail(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	if s.Indexer == nil {
		s.fail(c, apperr.Unavailable(nil, "AI indexing is disabled"))
		return
	}
	if err := s.Indexer.Reindex(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.Indexer.Status(id))
}

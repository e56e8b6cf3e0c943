// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/WhiteHades/mereader/internal/apperr"
)

func locationParam(c *gin.Context) (int, error) {
	loc, err := strconv.Atoi(c.Param("location"))
	if err != nil {
		return 0, apperr.Invalid("location must be an integer")
	}
	return loc, nil
}

func (s *Server) bookImage(c *gin.Context) {
	p, err := s.Library.ImagePath(c.Request.Context(), c.Param("book_id"), c.Param("image_name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.File(p)
}

func (s *Server) bookIndex(c *gin.Context) {
	p, err := s.Library.IndexPath(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.File(p)
}

func (s *Server) chapterContent(c *gin.Context) {
	ch, err := s.Library.ChapterContent(c.Request.Context(), c.Param("book_id"), c.Param("chapter_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (s *Server) chapterByLocation(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	ch, err := s.Library.ChapterAt(c.Request.Context(), c.Param("book_id"), loc)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (s *Server) bookContent(c *gin.Context) {
	bc, err := s.Library.BookContent(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bc)
}

func (s *Server) textAtLocation(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	size, err := intQuery(c, "context_size", 500)
	if err != nil {
		s.fail(c, err)
		return
	}
	t, err := s.Library.TextAt(c.Request.Context(), c.Param("book_id"), loc, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

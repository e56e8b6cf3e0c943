// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/library"
)

func (s *Server) getProgress(c *gin.Context) {
	v, err := s.Library.Progress(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) updateProgress(c *gin.Context) {
	var u library.ProgressUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		s.fail(c, apperr.Invalid("Invalid progress update: %v", err))
		return
	}
	v, err := s.Library.UpdateProgress(c.Request.Context(), c.Param("book_id"), u)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) resetProgress(c *gin.Context) {
	v, err := s.Library.ResetProgress(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/store"
)

func (s *Server) getSettings(c *gin.Context) {
	st, err := s.Store.GetSettings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// updateSettings decodes the body onto the stored settings, so fields the
// client leaves out keep their value.
func (s *Server) updateSettings(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.fail(c, apperr.Invalid("Invalid settings update: %v", err))
		return
	}
	st, err := s.Store.UpdateSettings(c.Request.Context(), func(st *store.Settings) error {
		if err := json.Unmarshal(body, st); err != nil {
			return apperr.Invalid("Invalid settings update: %v", err)
		}
		return nil
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) resetSettings(c *gin.Context) {
	st, err := s.Store.ResetSettings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// streamEvents sends library and indexing events as Server-Sent Events.
func (s *Server) streamEvents(c *gin.Context) {
	if s.Events == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Event stream unavailable"})
		return
	}
	ch := s.Events.Subscribe()
	defer s.Events.Unsubscribe(ch)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()
	s.log.Debug("event stream opened", zap.String("remote", c.Request.RemoteAddr))

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("event stream closed", zap.String("remote", c.Request.RemoteAddr))
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush()
		}
	}
}

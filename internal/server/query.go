// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/rag"
)

type queryRequest struct {
	Query string `json:"query"`
}

type chatRequest struct {
	Messages []rag.Message `json:"messages"`
}

func (s *Server) ask(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperr.Invalid("Invalid query: %v", err))
		return
	}
	a, err := s.Querier.Ask(c.Request.Context(), c.Param("book_id"), req.Query)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperr.Invalid("Invalid chat request: %v", err))
		return
	}
	a, err := s.Querier.Chat(c.Request.Context(), c.Param("book_id"), req.Messages)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// wsFrame is one server message on the query socket.
type wsFrame struct {
	Type   string      `json:"type"`
	Token  string      `json:"token,omitempty"`
	Answer *rag.Answer `json:"answer,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// queryWS answers each {"query": ...} message on the socket with a stream
// of "token" frames followed by one "answer" frame, or an "error" frame.
func (s *Server) queryWS(c *gin.Context) {
	bookID := c.Param("book_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	ctx := c.Request.Context()

	for {
		var req queryRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		if s.Querier == nil || s.LLM == nil || !s.LLM.Available(ctx) {
			if err := conn.WriteJSON(wsFrame{Type: "error", Detail: "Ollama is currently unavailable."}); err != nil {
				return
			}
			continue
		}
		a, err := s.Querier.Stream(ctx, bookID, req.Query, func(tok string) error {
			return conn.WriteJSON(wsFrame{Type: "token", Token: tok})
		})
		frame := wsFrame{Type: "answer", Answer: a}
		if err != nil {
			frame = wsFrame{Type: "error", Detail: detail(err)}
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

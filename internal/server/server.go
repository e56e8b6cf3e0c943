// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package server exposes the library, reader and question answering
// services over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/indexer"
	"github.com/WhiteHades/mereader/internal/library"
	"github.com/WhiteHades/mereader/internal/metrics"
	"github.com/WhiteHades/mereader/internal/monitor"
	"github.com/WhiteHades/mereader/internal/rag"
	"github.com/WhiteHades/mereader/internal/store"
)

// Version is reported by /health.
const Version = "0.1.0"

// Querier answers questions about a book.
type Querier interface {
	Ask(ctx context.Context, bookID, query string) (*rag.Answer, error)
	Chat(ctx context.Context, bookID string, messages []rag.Message) (*rag.Answer, error)
	Stream(ctx context.Context, bookID, query string, onToken func(string) error) (*rag.Answer, error)
}

// LLMStatus reports whether the LLM runtime is reachable.
type LLMStatus interface {
	Available(ctx context.Context) bool
	Status() monitor.Status
}

// Indexing exposes the background indexer.
type Indexing interface {
	Status(bookID string) indexer.Status
	Reindex(bookID string) error
}

// Deps are the services behind the API. Indexer, Querier, LLM, Events and
// Metrics may be nil; the routes depending on them then report 503.
type Deps struct {
	Library   *library.Library
	Store     *store.Store
	Indexer   Indexing
	Querier   Querier
	LLM       LLMStatus
	Events    *events.Hub
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	MaxUpload int64
}

// Server is the gin router plus an optional standalone listener.
type Server struct {
	Deps
	router     *gin.Engine
	httpServer *http.Server
	addr       string
	log        *zap.Logger
}

// New builds the router.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = 512 << 20
	}
	s := &Server{Deps: d, router: gin.New(), log: d.Logger.Named("http")}
	s.router.MaxMultipartMemory = 32 << 20
	s.router.Use(gin.Recovery(), s.observe)
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))

	api := r.Group("/api")
	api.GET("/events", s.streamEvents)
	api.GET("/ollama/status", s.ollamaStatus)

	books := api.Group("/books")
	books.GET("", s.listBooks)
	books.POST("/upload", s.uploadBook)
	books.GET("/cover/:book_id", s.bookCover)
	books.GET("/:book_id", s.getBook)
	books.DELETE("/:book_id", s.deleteBook)
	books.GET("/:book_id/embedding-status", s.embeddingStatus)
	books.POST("/:book_id/reindex", s.reindexBook)

	content := api.Group("/content")
	content.GET("/image/:book_id/:image_name", s.bookImage)
	content.GET("/index/:book_id", s.bookIndex)
	content.GET("/chapter/:book_id/:chapter_id", s.chapterContent)
	content.GET("/chapter-by-location/:book_id/:location", s.chapterByLocation)
	content.GET("/book-content/:book_id", s.bookContent)
	content.GET("/text-at-location/:book_id/:location", s.textAtLocation)

	progress := api.Group("/progress")
	progress.GET("/:book_id", s.getProgress)
	progress.PUT("/:book_id", s.updateProgress)
	progress.POST("/:book_id/reset", s.resetProgress)

	query := api.Group("/query")
	query.POST("/ask/:book_id", s.requireLLM, s.ask)
	query.POST("/chat/:book_id", s.requireLLM, s.chat)
	query.GET("/ws/:book_id", s.queryWS)

	settings := api.Group("/settings")
	settings.GET("", s.getSettings)
	settings.PUT("", s.updateSettings)
	settings.POST("/reset", s.resetSettings)
}

// Handler returns the router. The desktop shell mounts it behind the Wails
// asset server.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds addr and serves in the background. A port that cannot be
// bound is reported here rather than from the serving goroutine.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.addr = ln.Addr().String()
	s.log.Info("starting server", zap.String("addr", s.addr))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound listen address once Start has succeeded.
func (s *Server) Addr() string { return s.addr }

// Shutdown stops the listener, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// observe logs and measures every request.
func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	took := time.Since(start)
	s.Metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), took)
	s.log.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("took", took))
}

// fail writes err as {"detail": ...} with the status of its kind.
func (s *Server) fail(c *gin.Context, err error) {
	code := apperr.Status(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.AbortWithStatusJSON(code, gin.H{"detail": detail(err)})
}

func detail(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.KindInternal {
		return ae.Detail
	}
	return err.Error()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
}

func (s *Server) ollamaStatus(c *gin.Context) {
	if s.LLM == nil {
		c.JSON(http.StatusOK, monitor.Status{})
		return
	}
	c.JSON(http.StatusOK, s.LLM.Status())
}

// requireLLM rejects queries while the LLM runtime is down.
func (s *Server) requireLLM(c *gin.Context) {
	if s.Querier == nil || s.LLM == nil || !s.LLM.Available(c.Request.Context()) {
		s.log.Error("ollama service is not running")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Ollama is currently unavailable."})
		return
	}
	c.Next()
}

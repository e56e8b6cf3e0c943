// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package rag answers questions about a book from the text the reader has
// already passed. Retrieval never looks beyond the reader's location.
package rag

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/bm25"
	"github.com/WhiteHades/mereader/internal/config"
	"github.com/WhiteHades/mereader/internal/location"
	"github.com/WhiteHades/mereader/internal/metrics"
	"github.com/WhiteHades/mereader/internal/ollama"
	"github.com/WhiteHades/mereader/internal/store"
	"github.com/WhiteHades/mereader/internal/vector"
)

// LLM is the part of the Ollama client used for answering.
type LLM interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Generate(ctx context.Context, prompt string, opts ollama.GenerateOptions) (string, error)
	GenerateStream(ctx context.Context, prompt string, opts ollama.GenerateOptions, onToken func(string) error) (string, error)
}

// Library reads the book and the reader's position.
type Library interface {
	GetBook(ctx context.Context, id string) (*store.Book, error)
	GetProgress(ctx context.Context, bookID string) (*store.Progress, error)
}

// Vectors is semantic search over a book.
type Vectors interface {
	Search(query []float32, f vector.Filter) ([]vector.Result, error)
}

// Keywords is BM25 search over a book.
type Keywords interface {
	Search(query, bookID string, boundary, limit int) ([]bm25.Result, error)
}

// Message is one turn of a chat.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Snippet is a passage reported back with an answer.
type Snippet struct {
	Text           string  `json:"text"`
	ChapterTitle   string  `json:"chapter_title"`
	Location       int     `json:"location"`
	RelevanceScore float64 `json:"relevance_score"`
	SearchMethod   Method  `json:"search_method"`
	ContentType    string  `json:"content_type"`
}

// Answer is the result of a question.
type Answer struct {
	Response         string    `json:"response"`
	Query            string    `json:"query,omitempty"`
	BookID           string    `json:"book_id"`
	BookTitle        string    `json:"book_title"`
	ContextUsed      []Snippet `json:"context_used"`
	LocationBoundary int       `json:"location_boundary"`
	ProgressBoundary float64   `json:"progress_boundary"`
	Messages         []Message `json:"messages,omitempty"`
}

// Service is the question answering pipeline.
type Service struct {
	llm      LLM
	library  Library
	vectors  Vectors
	keywords Keywords
	cfg      config.RetrievalConfig
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// New wires a Service. keywords may be nil to disable BM25.
func New(llm LLM, library Library, vectors Vectors, keywords Keywords, cfg config.RetrievalConfig, m *metrics.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{llm: llm, library: library, vectors: vectors, keywords: keywords, cfg: cfg, metrics: m, log: log.Named("rag")}
}

// plan is a question ready for generation. answer is set when there is
// nothing to generate from.
type plan struct {
	book     *store.Book
	progress *store.Progress
	boundary int
	passages []Passage
	prompt   string
	answer   *Answer
}

func (s *Service) prepare(ctx context.Context, bookID, query string, history []Message) (*plan, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Invalid("Query must not be empty")
	}
	book, err := s.library.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	progress, err := s.library.GetProgress(ctx, bookID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Invalid("No reading progress found for this book. Please start reading first.")
	}
	if err != nil {
		return nil, err
	}

	total := book.TotalLocations
	if total <= 0 {
		total = 100
	}
	p := &plan{book: book, progress: progress, boundary: location.Boundary(progress.CurrentLocation, total)}
	s.log.Info("processing query", zap.String("book", bookID), zap.Int("boundary", p.boundary),
		zap.Float64("progress", progress.CompletionPercentage))

	passages, err := s.retrieve(ctx, book, query, p.boundary)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		p.answer = s.answer(p, query, NoContextAnswer)
		return p, nil
	}

	if len(passages) > s.cfg.RerankTrigger && len(strings.Fields(query)) > 3 {
		passages = s.rerank(ctx, query, book.Title, passages)
		passages = passages[:min(len(passages), s.cfg.FinalContextLimit)]
	} else {
		passages = passages[:min(len(passages), s.cfg.DefaultLimit)]
	}
	p.passages = passages
	p.prompt = buildPrompt(query, buildContext(passages), progress.CompletionPercentage, history)
	return p, nil
}

func (s *Service) answer(p *plan, query, response string) *Answer {
	a := &Answer{
		Response:         response,
		Query:            query,
		BookID:           p.book.ID,
		BookTitle:        p.book.Title,
		ContextUsed:      []Snippet{},
		LocationBoundary: p.boundary,
		ProgressBoundary: p.progress.CompletionPercentage,
	}
	for _, r := range p.passages {
		a.ContextUsed = append(a.ContextUsed, Snippet{
			Text:           r.Text,
			ChapterTitle:   r.ChapterTitle,
			Location:       r.Location,
			RelevanceScore: math.Round(r.Score*100) / 100,
			SearchMethod:   r.Method,
			ContentType:    r.ContentType,
		})
	}
	return a
}

var answerOptions = ollama.GenerateOptions{System: SystemPrompt, Temperature: 0.7}

// Ask answers query about bookID using only text up to the reader's position.
func (s *Service) Ask(ctx context.Context, bookID, query string) (*Answer, error) {
	start := time.Now()
	p, err := s.prepare(ctx, bookID, query, nil)
	if err != nil {
		return nil, err
	}
	if p.answer != nil {
		return p.answer, nil
	}
	resp, err := s.llm.Generate(ctx, p.prompt, answerOptions)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveQuery("ask", time.Since(start))
	s.log.Info("answered query", zap.String("book", bookID), zap.Duration("took", time.Since(start)))
	return s.answer(p, strings.TrimSpace(query), resp), nil
}

// Stream is Ask with the response delivered token by token. The returned
// Answer carries the full response.
func (s *Service) Stream(ctx context.Context, bookID, query string, onToken func(string) error) (*Answer, error) {
	start := time.Now()
	p, err := s.prepare(ctx, bookID, query, nil)
	if err != nil {
		return nil, err
	}
	if p.answer != nil {
		if onToken != nil {
			if err := onToken(p.answer.Response); err != nil {
				return nil, err
			}
		}
		return p.answer, nil
	}
	resp, err := s.llm.GenerateStream(ctx, p.prompt, answerOptions, onToken)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveQuery("stream", time.Since(start))
	return s.answer(p, strings.TrimSpace(query), resp), nil
}

// Chat answers the last user message, with the earlier turns as history.
// The returned messages include the new assistant turn.
func (s *Service) Chat(ctx context.Context, bookID string, messages []Message) (*Answer, error) {
	start := time.Now()
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = i
			break
		}
	}
	if last < 0 {
		return nil, apperr.Invalid("Chat needs at least one user message")
	}
	var history []Message
	for _, m := range messages[:last] {
		if m.Role == "user" || m.Role == "assistant" {
			history = append(history, m)
		}
	}

	p, err := s.prepare(ctx, bookID, messages[last].Content, history)
	if err != nil {
		return nil, err
	}
	a := p.answer
	if a == nil {
		resp, err := s.llm.Generate(ctx, p.prompt, answerOptions)
		if err != nil {
			return nil, err
		}
		a = s.answer(p, "", resp)
	}
	a.Query = ""
	a.Messages = append(append([]Message(nil), messages...), Message{Role: "assistant", Content: a.Response})
	s.metrics.ObserveQuery("chat", time.Since(start))
	return a, nil
}

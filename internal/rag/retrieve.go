// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package rag

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/ollama"
	"github.com/WhiteHades/mereader/internal/store"
	"github.com/WhiteHades/mereader/internal/vector"
)

// Method names the retrieval path that found a passage.
type Method string

const (
	MethodVector   Method = "vector"
	MethodBM25     Method = "bm25"
	MethodSummary  Method = "summary"
	MethodExpanded Method = "expanded_vector"
)

// Passage is a retrieved piece of text.
type Passage struct {
	Text         string
	ChapterTitle string
	Location     int
	Score        float64
	Method       Method
	ContentType  string
	rerank       int
}

func fromVector(rs []vector.Result, m Method) []Passage {
	out := make([]Passage, len(rs))
	for i, r := range rs {
		out[i] = Passage{Text: r.Text, ChapterTitle: r.ChapterTitle, Location: r.Location,
			Score: r.Score, Method: m, ContentType: r.ContentType}
	}
	return out
}

// retrieve runs every search path, weights the groups against each other
// and dedupes by the leading text. Summaries are only found through their
// own search so they are not shadowed by a plain vector hit.
func (s *Service) retrieve(ctx context.Context, book *store.Book, query string, boundary int) ([]Passage, error) {
	expanded := s.expand(ctx, query, book.Title)
	qv, err := s.llm.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var keyword []Passage
	if s.keywords != nil {
		rs, err := s.keywords.Search(query, book.ID, boundary, s.cfg.BM25Limit)
		if err != nil {
			s.log.Error("BM25 search failed", zap.Error(err))
		}
		for _, r := range rs {
			keyword = append(keyword, Passage{Text: r.Text, ChapterTitle: r.ChapterTitle, Location: r.Location,
				Score: r.Score, Method: MethodBM25, ContentType: vector.TypeContent})
		}
	}

	search := func(q []float32, limit int, threshold float64, contentType string) ([]vector.Result, error) {
		rs, err := s.vectors.Search(q, vector.Filter{
			BookID:      book.ID,
			Limit:       limit,
			Threshold:   threshold,
			MaxLocation: boundary,
			ContentType: contentType,
		})
		if err != nil {
			return nil, apperr.Internal(err, "Error retrieving context from book")
		}
		return rs, nil
	}

	vr, err := search(qv, s.cfg.VectorLimit, s.cfg.VectorThreshold, vector.TypeContent)
	if err != nil {
		return nil, err
	}
	semantic := fromVector(vr, MethodVector)

	sr, err := search(qv, s.cfg.SummaryLimit, s.cfg.SummaryThreshold, vector.TypeSummary)
	if err != nil {
		return nil, err
	}
	summaries := fromVector(sr, MethodSummary)

	var wider []Passage
	for _, eq := range expanded {
		ev, err := s.llm.Embed(ctx, eq)
		if err != nil {
			return nil, err
		}
		er, err := search(ev, s.cfg.ExpandedLimit, s.cfg.ExpandedThreshold, vector.TypeContent)
		if err != nil {
			return nil, err
		}
		wider = append(wider, fromVector(er, MethodExpanded)...)
	}

	s.log.Debug("retrieved passages", zap.Int("vector", len(semantic)), zap.Int("bm25", len(keyword)),
		zap.Int("expanded", len(wider)), zap.Int("summary", len(summaries)))

	if len(summaries) > 0 {
		normalize(summaries, s.cfg.SummaryWeight)
	}
	if len(semantic) > 0 && len(keyword) > 0 {
		normalize(semantic, 1-s.cfg.BM25Weight)
		normalize(keyword, s.cfg.BM25Weight)
	}
	if len(wider) > 0 {
		normalize(wider, s.cfg.ExpandedWeight)
	}

	var all []Passage
	all = append(all, keyword...)
	all = append(all, semantic...)
	all = append(all, summaries...)
	all = append(all, wider...)
	return dedupe(all), nil
}

// normalize scales a group so its best score equals weight.
func normalize(ps []Passage, weight float64) {
	best := 0.0
	for _, p := range ps {
		best = max(best, p.Score)
	}
	for i := range ps {
		if best > 0 {
			ps[i].Score = ps[i].Score / best * weight
		} else {
			ps[i].Score = 0
		}
	}
}

// dedupe sorts by score and keeps the first passage for each 100-character
// text prefix.
func dedupe(ps []Passage) []Passage {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Score > ps[j].Score })
	seen := make(map[string]bool, len(ps))
	out := ps[:0]
	for _, p := range ps {
		key := prefix(p.Text, 100)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// expand asks the LLM for alternative phrasings. Failures yield none.
func (s *Service) expand(ctx context.Context, query, title string) []string {
	resp, err := s.llm.Generate(ctx, expansionPrompt(query, title), ollama.GenerateOptions{Temperature: 0.3, MaxTokens: 150})
	if err != nil {
		s.log.Warn("query expansion failed", zap.Error(err))
		return nil
	}
	out := parseExpansions(resp)
	s.log.Debug("expanded query", zap.Strings("queries", out))
	return out
}

// rerank asks the LLM to grade the leading passages and reorders them by
// grade, then score. Passages past the window keep their order.
func (s *Service) rerank(ctx context.Context, query, title string, ps []Passage) []Passage {
	if len(ps) < 5 {
		return ps
	}
	window := ps[:min(len(ps), s.cfg.RerankWindow)]
	resp, err := s.llm.Generate(ctx, rerankPrompt(query, title, window), ollama.GenerateOptions{Temperature: 0.1, MaxTokens: 200})
	if err != nil {
		s.log.Error("reranking failed", zap.Error(err))
		return ps
	}
	ranks := parseRankings(resp, len(window))
	if len(ranks) == 0 {
		return ps
	}
	head := make([]Passage, len(window))
	copy(head, window)
	for i := range head {
		head[i].rerank = 1
		if r, ok := ranks[i]; ok {
			head[i].rerank = r
		}
	}
	sort.SliceStable(head, func(i, j int) bool {
		if head[i].rerank != head[j].rerank {
			return head[i].rerank > head[j].rerank
		}
		return head[i].Score > head[j].Score
	})
	return append(head, ps[len(window):]...)
}

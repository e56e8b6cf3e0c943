// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package bm25 implements Okapi BM25 keyword ranking over a book's chunks
// and keeps one JSON cache file per book.
package bm25

import (
	"math"
	"strings"
	"unicode"
)

// Okapi parameters.
const (
	K1      = 1.5
	B       = 0.75
	Epsilon = 0.25
)

// Entry is one indexed chunk and where it sits in the book.
type Entry struct {
	Text                 string  `json:"text"`
	ChapterID            string  `json:"chapter_id"`
	ChapterTitle         string  `json:"chapter_title"`
	ChapterOrder         int     `json:"chapter_order"`
	Location             int     `json:"location"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// Index scores queries against a fixed corpus.
type Index struct {
	Entries []Entry
	freqs   []map[string]int
	lens    []int
	avgdl   float64
	idf     map[string]float64
}

// Tokenize lowercases text and splits it into words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// New builds an index over entries.
func New(entries []Entry) *Index {
	ix := &Index{
		Entries: entries,
		freqs:   make([]map[string]int, len(entries)),
		lens:    make([]int, len(entries)),
		idf:     make(map[string]float64),
	}
	df := make(map[string]int)
	total := 0
	for i, e := range entries {
		toks := Tokenize(e.Text)
		f := make(map[string]int, len(toks))
		for _, t := range toks {
			f[t]++
		}
		for t := range f {
			df[t]++
		}
		ix.freqs[i] = f
		ix.lens[i] = len(toks)
		total += len(toks)
	}
	if len(entries) == 0 {
		return ix
	}
	ix.avgdl = float64(total) / float64(len(entries))

	// Terms in more than half the corpus get a negative idf; those are
	// floored at a fraction of the mean idf.
	n := float64(len(entries))
	var sum float64
	var negative []string
	for t, d := range df {
		v := math.Log(n-float64(d)+0.5) - math.Log(float64(d)+0.5)
		ix.idf[t] = v
		sum += v
		if v < 0 {
			negative = append(negative, t)
		}
	}
	floor := Epsilon * sum / float64(len(df))
	for _, t := range negative {
		ix.idf[t] = floor
	}
	return ix
}

// Scores returns the BM25 score of every entry for the tokenized query.
func (ix *Index) Scores(query []string) []float64 {
	scores := make([]float64, len(ix.Entries))
	if ix.avgdl == 0 {
		return scores
	}
	for _, q := range query {
		idf, ok := ix.idf[q]
		if !ok {
			continue
		}
		for i, f := range ix.freqs {
			tf := float64(f[q])
			if tf == 0 {
				continue
			}
			norm := 1 - B + B*float64(ix.lens[i])/ix.avgdl
			scores[i] += idf * tf * (K1 + 1) / (tf + K1*norm)
		}
	}
	return scores
}

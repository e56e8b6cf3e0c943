// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package location measures reading positions. A location is a fixed-size
// run of extracted text; books are numbered from location 1.
package location

import (
	"math"
	"sort"

	"github.com/WhiteHades/mereader/internal/content"
)

// DefaultChunkSize is the number of text characters per location.
const DefaultChunkSize = 1000

// Counter converts between text positions and locations.
type Counter struct {
	ChunkSize int
}

// New returns a Counter using chunkSize characters per location.
func New(chunkSize int) Counter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return Counter{ChunkSize: chunkSize}
}

// Count is the number of locations in an HTML chapter, at least 1.
func (c Counter) Count(html string) int {
	n := len([]rune(content.ExtractText(html)))
	return max(1, int(math.Ceil(float64(n)/float64(c.ChunkSize))))
}

// TextAt returns up to context characters either side of the start of
// location loc within an HTML chapter.
func (c Counter) TextAt(html string, loc, context int) string {
	text := []rune(content.ExtractText(html))
	pos := min(len(text)-1, (loc-1)*c.ChunkSize)
	if pos < 0 {
		return ""
	}
	start := max(0, pos-context)
	end := min(len(text), pos+context)
	return string(text[start:end])
}

// Boundary clamps the reader's current location into [1, total] for use as
// a spoiler limit.
func Boundary(current, total int) int {
	if current <= 0 {
		return 1
	}
	if total > 0 && current > total {
		return total
	}
	return current
}

// Percentage is the share of the book read at loc, in [0, 100].
func Percentage(loc, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(100, math.Max(0, float64(loc)/float64(total)*100))
}

// FromPercentage maps a percentage back onto a location in [1, total].
func FromPercentage(pct float64, total int) int {
	if pct <= 0 || total <= 0 {
		return 1
	}
	if pct >= 100 {
		return total
	}
	return max(1, min(total, int(math.Round(pct/100*float64(total)))))
}

// Span is anything with a location range, typically a chapter.
type Span interface {
	Start() int
	End() int
}

// Find returns the span containing loc, or else the last span starting
// before it. ok is false when loc precedes every span.
func Find[S Span](loc int, spans []S) (found S, ok bool) {
	for _, s := range spans {
		if s.Start() <= loc && loc <= s.End() {
			return s, true
		}
	}
	sorted := make([]S, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start() < sorted[j].Start() })
	for _, s := range sorted {
		if s.Start() > loc {
			break
		}
		found, ok = s, true
	}
	return found, ok
}

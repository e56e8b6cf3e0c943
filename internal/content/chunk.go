// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package content

import "strings"

// Chunk splits text into overlapping pieces of about size runes. A piece
// ends at a paragraph break when one falls in the back half of the window,
// otherwise at a sentence end. Pieces shorter than min are dropped.
func Chunk(text string, size, overlap, min int) []string {
	if size <= 0 {
		return nil
	}
	r := []rune(text)
	var out []string
	for pos := 0; pos < len(r); {
		buf := r[pos:minInt(pos+size*3, len(r))]

		end := minInt(size, len(buf))
		half := size / 2
		if pb := lastIndex(buf, "\n\n", half, size+50); pb > half {
			end = pb + 2
		} else if sb := lastIndex(buf, ". ", half, size+30); sb > half {
			end = sb + 2
		}

		piece := strings.TrimSpace(string(buf[:end]))
		if piece != "" && len([]rune(piece)) >= min {
			out = append(out, piece)
		}

		advance := maxInt(end-overlap/2, half)
		if advance < 1 {
			advance = 1
		}
		pos += advance
	}
	return out
}

// Batch groups items into slices of at most n.
func Batch(items []string, n int) [][]string {
	if n <= 0 {
		n = len(items)
	}
	var out [][]string
	for len(items) > 0 {
		k := minInt(n, len(items))
		out = append(out, items[:k:k])
		items = items[k:]
	}
	return out
}

// lastIndex finds the last occurrence of sub that lies entirely inside
// buf[start:end], returning -1 when there is none.
func lastIndex(buf []rune, sub string, start, end int) int {
	s := []rune(sub)
	if end > len(buf) {
		end = len(buf)
	}
	for i := end - len(s); i >= start && i >= 0; i-- {
		match := true
		for j := range s {
			if buf[i+j] != s[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

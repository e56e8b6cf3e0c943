// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package library

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Matches reports whether every word of query appears in one of fields,
// as a substring or within a small edit distance.
func Matches(query string, fields ...string) bool {
	qs := words(query)
	if len(qs) == 0 {
		return true
	}
	var hay []string
	for _, f := range fields {
		hay = append(hay, words(f)...)
	}
	for _, q := range qs {
		if !matchWord(q, hay) {
			return false
		}
	}
	return true
}

func matchWord(q string, hay []string) bool {
	// One typo per four letters; short words must match exactly.
	budget := len([]rune(q)) / 4
	for _, w := range hay {
		if strings.Contains(w, q) {
			return true
		}
		if budget > 0 && levenshtein.ComputeDistance(q, w) <= budget {
			return true
		}
	}
	return false
}

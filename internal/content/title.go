// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package content

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	frontMatterRe = regexp.MustCompile(`(?i)^(Prologue|Epilogue|Afterword|Foreword|Introduction|Preface|Appendix|Notes)[\s:.]`)
	numberedRe    = regexp.MustCompile(`(?i)^(Chapter|Section)\s+([IVXLCDM]+|[0-9]+)[\s:.]`)
	firstSentRe   = regexp.MustCompile(`^.*?[.!?](?:\s|$)`)
	fileNameRe    = regexp.MustCompile(`(chapter[_\-\s]?(\d+)|epilogue|prologue)`)
)

// ChapterTitle guesses a title for a spine document that the table of
// contents does not name.
func ChapterTitle(raw, fileName string, spineIndex int) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return fmt.Sprintf("Section %d", spineIndex+1)
	}

	headings := findAll(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4:
			return true
		}
		return false
	}, nil)
	if len(headings) > 0 {
		if t := strings.TrimSpace(textOf(headings[0])); t != "" {
			return t
		}
	}
	if n := findFirst(doc, atom.Title); n != nil {
		if t := strings.TrimSpace(textOf(n)); t != "" {
			return t
		}
	}

	blocks := findAll(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && (n.DataAtom == atom.Div || n.DataAtom == atom.Section)
	}, nil)
	for _, b := range blocks {
		id, _ := attr(b, "id")
		class, _ := attr(b, "class")
		id, class = strings.ToLower(id), strings.ToLower(class)
		if titleLike(id) || titleLike(class) {
			if t := strings.TrimSpace(textOf(b)); t != "" {
				return t
			}
			break
		}
	}

	body := strings.TrimSpace(textOf(doc))
	for _, re := range []*regexp.Regexp{frontMatterRe, numberedRe} {
		if m := re.FindString(body); m != "" {
			if s := firstSentRe.FindString(body); s != "" {
				return strings.TrimSpace(s)
			}
			return strings.TrimSpace(m)
		}
	}

	m := fileNameRe.FindStringSubmatch(strings.ToLower(fileName))
	if m == nil {
		return fmt.Sprintf("Section %d", spineIndex+1)
	}
	if strings.Contains(m[1], "chapter") && m[2] != "" {
		num := m[2]
		named := regexp.MustCompile(`(?i)Chapter\s+` + num + `[:.\s]+(.*?)[.!?](?:\s|$)`)
		if sm := named.FindStringSubmatch(textOf(doc)); sm != nil && strings.TrimSpace(sm[1]) != "" {
			return fmt.Sprintf("Chapter %s: %s", num, strings.TrimSpace(sm[1]))
		}
		return "Chapter " + num
	}
	return strings.ToUpper(m[1][:1]) + m[1][1:]
}

func titleLike(s string) bool {
	return strings.Contains(s, "title") || strings.Contains(s, "heading") || strings.Contains(s, "chapter")
}

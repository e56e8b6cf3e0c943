// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package content turns raw EPUB documents into the reader's chapter HTML
// and the plain text used for locations and retrieval.
package content

import (
	"bytes"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	xmlDeclRe  = regexp.MustCompile(`<\?xml[^>]+\?>`)
	doctypeRe  = regexp.MustCompile(`(?i)<!DOCTYPE[^>]+>`)
	spaceRunRe = regexp.MustCompile(`[\s]+`)
	leftoverRe = regexp.MustCompile(`</?[a-z]+[^>]*>`)
)

// ReaderStyle is prepended to every processed chapter.
const ReaderStyle = `
body {
    font-family: system-ui, -apple-system, sans-serif;
    line-height: 1.5;
    max-width: 100%;
    padding: 0 1rem;
    white-space: normal;
}
img { max-width: 100%; height: auto; }
p { margin: 0.75em 0; white-space: normal; }
h1, h2, h3, h4, h5, h6 { margin: 1em 0 0.5em 0; white-space: normal; }
pre, code { white-space: pre-wrap; }
* { white-space: normal; }
`

// ProcessHTML cleans a raw XHTML document for display: markup outside the
// body is dropped, empty elements and inline styles are removed, internal
// links are marked and image sources are rewritten to the extracted file
// names. The reader stylesheet is prepended.
func ProcessHTML(raw string) string {
	raw = xmlDeclRe.ReplaceAllString(raw, "")
	raw = spaceRunRe.ReplaceAllString(raw, " ")

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return fallbackHTML(raw)
	}
	body := findFirst(doc, atom.Body)
	if body == nil {
		return fallbackHTML(raw)
	}

	stripNodes(body, func(n *html.Node) bool {
		return n.Type == html.CommentNode || (n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style))
	})
	removeEmpty(body)
	rewrite(body)

	var buf bytes.Buffer
	buf.WriteString("<style>")
	buf.WriteString(ReaderStyle)
	buf.WriteString("</style>")
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return fallbackHTML(raw)
		}
	}
	return buf.String()
}

var wrapperRe = regexp.MustCompile(`(?i)<html[^>]*>|</html>|<body[^>]*>|</body>`)

func fallbackHTML(raw string) string {
	return wrapperRe.ReplaceAllString(spaceRunRe.ReplaceAllString(raw, " "), "")
}

// ExtractText returns the visible text of an HTML document, one phrase per
// line.
func ExtractText(doc string) string {
	doc = xmlDeclRe.ReplaceAllString(doc, "")
	doc = doctypeRe.ReplaceAllString(doc, "")

	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	stripNodes(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Meta, atom.Link, atom.Head:
			return true
		}
		return false
	})

	var sb strings.Builder
	collectText(root, &sb)

	var out []string
	for _, line := range strings.Split(sb.String(), "\n") {
		for _, phrase := range strings.Split(strings.TrimSpace(line), "  ") {
			if p := strings.TrimSpace(phrase); p != "" {
				out = append(out, p)
			}
		}
	}
	return leftoverRe.ReplaceAllString(strings.Join(out, "\n"), "")
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, a); f != nil {
			return f
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool, out []*html.Node) []*html.Node {
	if match(n) {
		out = append(out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = findAll(c, match, out)
	}
	return out
}

// stripNodes removes every descendant for which drop reports true.
func stripNodes(n *html.Node, drop func(*html.Node) bool) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if drop(c) {
			n.RemoveChild(c)
		} else {
			stripNodes(c, drop)
		}
		c = next
	}
}

func hasImage(n *html.Node) bool {
	return findFirst(n, atom.Img) != nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	collectText(n, &sb)
	return sb.String()
}

func removeEmpty(n *html.Node) {
	stripNodes(n, func(c *html.Node) bool {
		if c.Type != html.ElementNode || c.DataAtom == atom.Img || c.DataAtom == atom.Br {
			return false
		}
		return strings.TrimSpace(textOf(c)) == "" && !hasImage(c)
	})
}

func rewrite(n *html.Node) {
	if n.Type == html.ElementNode {
		attrs := n.Attr[:0]
		for _, a := range n.Attr {
			if a.Key != "style" {
				attrs = append(attrs, a)
			}
		}
		n.Attr = attrs

		switch n.DataAtom {
		case atom.A:
			if href, ok := attr(n, "href"); ok && isInternalHref(href) {
				setAttr(n, "data-internal-link", "true")
			}
		case atom.Img:
			if src, ok := attr(n, "src"); ok {
				setAttr(n, "data-epub-src", src)
				if strings.Contains(src, "/") {
					setAttr(n, "src", path.Base(src))
				}
			}
		}
	}
	if n.Type == html.TextNode && !inPre(n) {
		n.Data = spaceRunRe.ReplaceAllString(n.Data, " ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		rewrite(c)
	}
}

func isInternalHref(href string) bool {
	return strings.HasPrefix(href, "#") || strings.Contains(href, ".html") || strings.Contains(href, ".xhtml")
}

func inPre(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && (p.DataAtom == atom.Pre || p.DataAtom == atom.Code) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

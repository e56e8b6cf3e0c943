// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package epub

import (
	"bytes"
	"encoding/xml"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// loadTOC prefers the EPUB 3 navigation document and falls back to the NCX.
// A missing or broken TOC is not an error; chapters then come from the spine.
func (b *Book) loadTOC() []TOCEntry {
	for _, it := range b.Items {
		if it.hasProperty("nav") {
			if toc := b.navTOC(it); len(toc) > 0 {
				return toc
			}
		}
	}
	ncx := b.ItemByID(b.tocID)
	if ncx == nil {
		for _, it := range b.Items {
			if it.MediaType == "application/x-dtbncx+xml" {
				ncx = it
				break
			}
		}
	}
	if ncx != nil {
		return b.ncxTOC(ncx)
	}
	return nil
}

// relTo resolves href found inside doc to a package-relative path.
func relTo(doc *Item, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return doc.FileName + href
	}
	frag := ""
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href, frag = href[:i], href[i:]
	}
	dir := path.Dir(doc.FileName)
	return path.Clean(path.Join(dir, href)) + frag
}

func (b *Book) navTOC(nav *Item) []TOCEntry {
	data, err := nav.Content()
	if err != nil {
		return nil
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	var navs []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
			navs = append(navs, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var target *html.Node
	for _, n := range navs {
		for _, a := range n.Attr {
			if (a.Key == "epub:type" || (a.Namespace == "epub" && a.Key == "type")) && strings.Contains(a.Val, "toc") {
				target = n
				break
			}
		}
		if target != nil {
			break
		}
	}
	if target == nil && len(navs) > 0 {
		target = navs[0]
	}
	if target == nil {
		return nil
	}
	ol := childElement(target, atom.Ol)
	if ol == nil {
		return nil
	}
	return navList(nav, ol)
}

func navList(nav *Item, ol *html.Node) []TOCEntry {
	var out []TOCEntry
	for li := ol.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		var e TOCEntry
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.A:
				e.Title = strings.TrimSpace(nodeText(c))
				for _, a := range c.Attr {
					if a.Key == "href" {
						e.Href = relTo(nav, a.Val)
					}
				}
			case atom.Span:
				if e.Title == "" {
					e.Title = strings.TrimSpace(nodeText(c))
				}
			case atom.Ol:
				e.Children = navList(nav, c)
			}
		}
		if e.Title != "" || len(e.Children) > 0 {
			out = append(out, e)
		}
	}
	return out
}

func childElement(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if f := childElement(c, a); f != nil {
			return f
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

type ncxPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Points []ncxPoint `xml:"navPoint"`
}

type ncxXML struct {
	Points []ncxPoint `xml:"navMap>navPoint"`
}

func (b *Book) ncxTOC(it *Item) []TOCEntry {
	data, err := it.Content()
	if err != nil {
		return nil
	}
	var doc ncxXML
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return nil
	}
	return ncxEntries(it, doc.Points)
}

func ncxEntries(ncx *Item, pts []ncxPoint) []TOCEntry {
	out := make([]TOCEntry, 0, len(pts))
	for _, p := range pts {
		out = append(out, TOCEntry{
			Title:    strings.TrimSpace(p.Label),
			Href:     relTo(ncx, p.Content.Src),
			Children: ncxEntries(ncx, p.Points),
		})
	}
	return out
}

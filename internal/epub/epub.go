// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package epub reads EPUB 2 and EPUB 3 containers: package metadata, the
// manifest, the reading order and the table of contents.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/WhiteHades/mereader/internal/apperr"
)

const containerPath = "META-INF/container.xml"

// Metadata is the Dublin Core subset the library keeps.
type Metadata struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Language      string `json:"language,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	Description   string `json:"description,omitempty"`
	ISBN          string `json:"isbn,omitempty"`
	PublishedYear *int   `json:"published_year,omitempty"`
}

// Item is a manifest entry.
type Item struct {
	ID         string
	Href       string
	MediaType  string
	Properties string

	// FileName is the item path relative to the package document.
	FileName string

	zipName string
	book    *Book
}

// IsImage reports whether the item is an image resource.
func (it *Item) IsImage() bool { return strings.HasPrefix(it.MediaType, "image/") }

// IsDocument reports whether the item is an (X)HTML content document.
func (it *Item) IsDocument() bool {
	return it.MediaType == "application/xhtml+xml" || it.MediaType == "text/html"
}

func (it *Item) hasProperty(p string) bool {
	for _, f := range strings.Fields(it.Properties) {
		if f == p {
			return true
		}
	}
	return false
}

// Content reads the item bytes from the container.
func (it *Item) Content() ([]byte, error) {
	f, ok := it.book.files[it.zipName]
	if !ok {
		return nil, apperr.Invalid("failed to parse EPUB file: missing %s", it.zipName)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalid, err, "failed to parse EPUB file: open %s", it.zipName)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// TOCEntry is one table of contents link. Href is relative to the package
// document and may carry a fragment.
type TOCEntry struct {
	Title    string
	Href     string
	Children []TOCEntry
}

// Book is an opened EPUB container.
type Book struct {
	Metadata Metadata
	Items    []*Item
	// Spine lists manifest ids in reading order.
	Spine []string
	TOC   []TOCEntry

	files   map[string]*zip.File
	closer  io.Closer
	opfDir  string
	coverID string
	tocID   string
}

// Open parses the EPUB file at path. The returned Book must be closed.
func Open(p string) (*Book, error) {
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalid, err, "failed to parse EPUB file")
	}
	b, err := parse(&rc.Reader)
	if err != nil {
		rc.Close()
		return nil, err
	}
	b.closer = rc
	return b, nil
}

// NewReader parses an EPUB held in r.
func NewReader(r io.ReaderAt, size int64) (*Book, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalid, err, "failed to parse EPUB file")
	}
	return parse(zr)
}

// Close releases the underlying file.
func (b *Book) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

type containerXML struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type text struct {
	Value string `xml:",chardata"`
}

type opfXML struct {
	Metadata struct {
		Titles       []text `xml:"title"`
		Creators     []text `xml:"creator"`
		Languages    []text `xml:"language"`
		Publishers   []text `xml:"publisher"`
		Descriptions []text `xml:"description"`
		Identifiers  []text `xml:"identifier"`
		Dates        []text `xml:"date"`
		Metas        []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest []struct {
		ID         string `xml:"id,attr"`
		Href       string `xml:"href,attr"`
		MediaType  string `xml:"media-type,attr"`
		Properties string `xml:"properties,attr"`
	} `xml:"manifest>item"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func first(vals []text) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v.Value); s != "" {
			return s
		}
	}
	return ""
}

func parse(zr *zip.Reader) (*Book, error) {
	b := &Book{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		b.files[f.Name] = f
	}

	var container containerXML
	if err := b.decode(containerPath, &container); err != nil {
		return nil, err
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return nil, apperr.Invalid("failed to parse EPUB file: no rootfile in %s", containerPath)
	}
	opfPath := container.Rootfiles[0].FullPath
	b.opfDir = path.Dir(opfPath)
	if b.opfDir == "." {
		b.opfDir = ""
	}

	var opf opfXML
	if err := b.decode(opfPath, &opf); err != nil {
		return nil, err
	}

	md := opf.Metadata
	b.Metadata = Metadata{
		Title:       first(md.Titles),
		Author:      first(md.Creators),
		Language:    first(md.Languages),
		Publisher:   first(md.Publishers),
		Description: first(md.Descriptions),
		ISBN:        first(md.Identifiers),
	}
	if b.Metadata.Title == "" {
		b.Metadata.Title = "Unknown Title"
	}
	if b.Metadata.Author == "" {
		b.Metadata.Author = "Unknown Author"
	}
	if d := first(md.Dates); d != "" {
		b.Metadata.PublishedYear = ParseYear(d)
	}
	for _, m := range md.Metas {
		if m.Name == "cover" {
			b.coverID = m.Content
		}
	}

	for _, mi := range opf.Manifest {
		href, err := url.PathUnescape(mi.Href)
		if err != nil {
			href = mi.Href
		}
		b.Items = append(b.Items, &Item{
			ID:         mi.ID,
			Href:       mi.Href,
			MediaType:  mi.MediaType,
			Properties: mi.Properties,
			FileName:   path.Clean(href),
			zipName:    b.zipPath(href),
			book:       b,
		})
	}
	for _, ref := range opf.Spine.ItemRefs {
		b.Spine = append(b.Spine, ref.IDRef)
	}
	b.tocID = opf.Spine.Toc

	b.TOC = b.loadTOC()
	return b, nil
}

func (b *Book) decode(name string, v interface{}) error {
	f, ok := b.files[name]
	if !ok {
		return apperr.Invalid("failed to parse EPUB file: missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, err, "failed to parse EPUB file: open %s", name)
	}
	defer rc.Close()
	dec := xml.NewDecoder(rc)
	dec.Strict = false
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindInvalid, err, "failed to parse EPUB file: decode %s", name)
	}
	return nil
}

func (b *Book) zipPath(rel string) string {
	return path.Clean(path.Join(b.opfDir, rel))
}

// ParseYear extracts a publication year from a date such as 2019-04-01,
// 2019/04/01 or 20190401.
func ParseYear(date string) *int {
	date = strings.TrimSpace(date)
	var part string
	switch {
	case strings.Contains(date, "-"):
		part = strings.SplitN(date, "-", 2)[0]
	case strings.Contains(date, "/"):
		part = strings.SplitN(date, "/", 2)[0]
	case len(date) >= 4:
		part = date[:4]
	default:
		part = date
	}
	y, err := strconv.Atoi(part)
	if err != nil {
		return nil
	}
	return &y
}

// ItemByID returns the manifest item with the given id.
func (b *Book) ItemByID(id string) *Item {
	for _, it := range b.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// ItemByHref resolves a package-relative href. Fragments are ignored.
func (b *Book) ItemByHref(href string) *Item {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if href == "" {
		return nil
	}
	if dec, err := url.PathUnescape(href); err == nil {
		href = dec
	}
	href = path.Clean(href)
	for _, it := range b.Items {
		if it.FileName == href {
			return it
		}
	}
	return nil
}

// SpineIndex returns the reading-order position of the item id, or -1.
func (b *Book) SpineIndex(id string) int {
	for i, s := range b.Spine {
		if s == id {
			return i
		}
	}
	return -1
}

// Images lists image resources in manifest order.
func (b *Book) Images() []*Item {
	var out []*Item
	for _, it := range b.Items {
		if it.IsImage() {
			out = append(out, it)
		}
	}
	return out
}

// Cover picks the cover image: the declared cover, then an image whose id
// mentions "cover", then the first image.
func (b *Book) Cover() *Item {
	for _, it := range b.Items {
		if it.IsImage() && it.hasProperty("cover-image") {
			return it
		}
	}
	if b.coverID != "" {
		if it := b.ItemByID(b.coverID); it != nil && it.IsImage() {
			return it
		}
	}
	images := b.Images()
	for _, it := range images {
		if strings.Contains(strings.ToLower(it.ID), "cover") {
			return it
		}
	}
	if len(images) > 0 {
		return images[0]
	}
	return nil
}

// Documents returns spine content documents keyed by spine index, skipping
// navigation documents.
func (b *Book) Documents() map[int]*Item {
	out := make(map[int]*Item)
	for i, id := range b.Spine {
		if strings.HasPrefix(id, "nav") {
			continue
		}
		if it := b.ItemByID(id); it != nil && it.IsDocument() {
			out[i] = it
		}
	}
	return out
}

func (b *Book) String() string {
	return fmt.Sprintf("%s by %s", b.Metadata.Title, b.Metadata.Author)
}

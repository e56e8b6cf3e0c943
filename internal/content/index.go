// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/WhiteHades/mereader/internal/epub"
)

// Meta is the book metadata written next to the chapter files.
type Meta struct {
	epub.Metadata
	CoverPath string `json:"cover_path,omitempty"`
}

// Chapter describes one written chapter file and its location range.
type Chapter struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Order         int    `json:"order"`
	Href          string `json:"href,omitempty"`
	SpineIndex    int    `json:"spine_index"`
	ContentPath   string `json:"content_path"`
	StartLocation int    `json:"start_location"`
	EndLocation   int    `json:"end_location"`
	CharCount     int    `json:"char_count"`
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"base": filepath.Base,
}).Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Meta.Title}}</title>
    <style>
        body { font-family: system-ui, -apple-system, sans-serif; line-height: 1.5; max-width: 800px; margin: 0 auto; padding: 1rem; }
        .cover { text-align: center; margin-bottom: 2rem; }
        .cover img { max-width: 300px; height: auto; box-shadow: 0 4px 8px rgba(0,0,0,0.1); }
        .metadata { margin-bottom: 2rem; }
        .toc { margin-bottom: 2rem; }
        .toc ol { list-style-type: decimal; padding-left: 1.5rem; }
        .toc li { padding: 0.25rem 0; }
    </style>
</head>
<body>
    <div class="cover">{{if .CoverHref}}<img src="{{.CoverHref}}" alt="Cover">{{end}}</div>
    <div class="metadata">
        <h1>{{.Meta.Title}}</h1>
        <p>Author: {{.Meta.Author}}</p>
        {{- with .Year}}
        <p>Published: {{.}}</p>
        {{- end}}
        {{- with .Meta.Publisher}}
        <p>Publisher: {{.}}</p>
        {{- end}}
        {{- with .Meta.Description}}
        <p>{{.}}</p>
        {{- end}}
    </div>
    <div class="toc">
        <h2>Table of Contents</h2>
        <ol>
        {{- range .Chapters}}
            <li><a href="{{base .ContentPath}}">{{.Title}}</a></li>
        {{- end}}
        </ol>
    </div>
</body>
</html>
`))

// IndexPage renders the book landing page. coverHref is the cover image URL
// relative to the page, or empty.
func IndexPage(meta Meta, coverHref string, chapters []Chapter) ([]byte, error) {
	year := 0
	if meta.PublishedYear != nil {
		year = *meta.PublishedYear
	}
	var buf bytes.Buffer
	err := indexTmpl.Execute(&buf, struct {
		Meta      Meta
		CoverHref string
		Year      int
		Chapters  []Chapter
	}{meta, coverHref, year, chapters})
	if err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	return buf.Bytes(), nil
}

// MetadataFile renders metadata.json.
func MetadataFile(meta Meta, chapters []Chapter) ([]byte, error) {
	if chapters == nil {
		chapters = []Chapter{}
	}
	return json.MarshalIndent(struct {
		Book     Meta      `json:"book"`
		Chapters []Chapter `json:"chapters"`
	}{meta, chapters}, "", "  ")
}

// WriteBookFiles writes index.html and metadata.json into dir and returns
// their paths.
func WriteBookFiles(dir string, meta Meta, chapters []Chapter) (indexPath, metadataPath string, err error) {
	coverHref := ""
	if meta.CoverPath != "" {
		if rel, err := filepath.Rel(dir, meta.CoverPath); err == nil {
			coverHref = filepath.ToSlash(rel)
		}
	}
	page, err := IndexPage(meta, coverHref, chapters)
	if err != nil {
		return "", "", err
	}
	indexPath = filepath.Join(dir, "index.html")
	if err := os.WriteFile(indexPath, page, 0o644); err != nil {
		return "", "", fmt.Errorf("write index: %w", err)
	}

	md, err := MetadataFile(meta, chapters)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	metadataPath = filepath.Join(dir, "metadata.json")
	if err := os.WriteFile(metadataPath, md, 0o644); err != nil {
		return "", "", fmt.Errorf("write metadata: %w", err)
	}
	return indexPath, metadataPath, nil
}

// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package epubtest builds small EPUB containers for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// Container is the standard container.xml pointing at OEBPS/content.opf.
const Container = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// OPF is a two chapter EPUB 3 package with a nav document, an NCX and a
// cover image.
const OPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>The Test Voyage</dc:title>
    <dc:creator>Ada Writer</dc:creator>
    <dc:language>en</dc:language>
    <dc:publisher>Harbor Press</dc:publisher>
    <dc:description>A short book for tests.</dc:description>
    <dc:identifier id="bookid">978-0-00-000000-1</dc:identifier>
    <dc:date>2019-04-01</dc:date>
    <meta name="cover" content="cover-img"/>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="ch1" href="text/chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/chapter2.xhtml" media-type="application/xhtml+xml"/>
    <item id="cover-img" href="images/cover.png" media-type="image/png"/>
    <item id="fig1" href="images/fig 1.png" media-type="image/png"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="nav"/>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

// Nav is the EPUB 3 navigation document for OPF.
const Nav = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>Contents</title></head>
<body>
  <nav epub:type="toc">
    <ol>
      <li><a href="text/chapter1.xhtml">The Harbor</a></li>
      <li><a href="text/chapter2.xhtml#start">Open Water</a>
        <ol><li><a href="text/chapter2.xhtml#storm">The Storm</a></li></ol>
      </li>
    </ol>
  </nav>
</body>
</html>`

// NCX is the EPUB 2 table of contents for OPF.
const NCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="p1"><navLabel><text>The Harbor</text></navLabel><content src="text/chapter1.xhtml"/></navPoint>
    <navPoint id="p2"><navLabel><text>Open Water</text></navLabel><content src="text/chapter2.xhtml"/></navPoint>
  </navMap>
</ncx>`

// Chapter1 and Chapter2 are the sample content documents.
const (
	Chapter1 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>One</title><style>p{color:red}</style></head>
<body><h1>The Harbor</h1>
<p style="margin:0">The ship waited in the harbor while the crew loaded barrels of fresh water and salted fish for the long voyage ahead.</p>
<p><img src="../images/cover.png"/></p>
<p></p>
</body></html>`
	Chapter2 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>Two</title></head>
<body><h2 id="start">Open Water</h2>
<p>Three days out the sky darkened and the captain ordered the sails reefed against the coming storm.</p>
<p id="storm">The storm broke at midnight. <a href="chapter1.xhtml">Back</a></p>
</body></html>`
)

// PNG is a 1x1 transparent PNG.
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Files returns the entries of the sample book.
func Files() map[string][]byte {
	return map[string][]byte{
		"META-INF/container.xml":    []byte(Container),
		"OEBPS/content.opf":         []byte(OPF),
		"OEBPS/nav.xhtml":           []byte(Nav),
		"OEBPS/toc.ncx":             []byte(NCX),
		"OEBPS/text/chapter1.xhtml": []byte(Chapter1),
		"OEBPS/text/chapter2.xhtml": []byte(Chapter2),
		"OEBPS/images/cover.png":    PNG,
		"OEBPS/images/fig 1.png":    PNG,
	}
}

// Build zips files into an EPUB. The mimetype entry is written first and
// stored uncompressed.
func Build(t testing.TB, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("application/epub+zip")); err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(files[n]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Sample returns the sample book as EPUB bytes.
func Sample(t testing.TB) []byte {
	return Build(t, Files())
}

// WriteSample writes the sample book to dir/name and returns its path.
func WriteSample(t testing.TB, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, Sample(t), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

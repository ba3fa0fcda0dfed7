// Package extract pulls per-page text out of uploaded PDFs.
package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageBreakSeparator joins page texts when a document is analyzed as a
// single string, so entity offsets stay attributable to pages.
const PageBreakSeparator = "\n\n--- Page Break ---\n\n"

// Document is the extracted text content of a PDF. Pages[i] is the text
// of page i+1.
type Document struct {
	Name  string
	Pages []string
}

// FullText returns all pages joined with the page break separator.
func (d Document) FullText() string {
	return strings.Join(d.Pages, PageBreakSeparator)
}

// HasText reports whether any page yielded text.
func (d Document) HasText() bool {
	for _, p := range d.Pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}

// Read extracts per-page text from a PDF. The underlying parser panics on
// some malformed files; that is recovered into an error. A page whose text
// cannot be decoded contributes an empty string rather than failing the
// whole document.
func Read(name string, r io.ReaderAt, size int64) (doc Document, err error) {
	defer func() {
		if p := recover(); p != nil {
			doc = Document{}
			err = fmt.Errorf("parse %s: %v", name, p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return Document{}, fmt.Errorf("open %s: %w", name, err)
	}

	doc.Name = name
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			doc.Pages = append(doc.Pages, "")
			continue
		}
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			text = ""
		}
		doc.Pages = append(doc.Pages, normalize(text))
	}
	return doc, nil
}

func normalize(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

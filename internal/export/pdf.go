// Package export renders flattened copies of a document with its
// annotations applied. Redacted text is removed from the output content,
// not merely covered: a flattened export must not leak what it hides.
package export

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/jung-kurt/gofpdf"

	"github.com/raaihank/doc-sentinel/internal/extract"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/viewer"
)

// Driver renders a flattened copy of the document.
type Driver interface {
	Render(ctx context.Context, doc extract.Document, anns []viewer.Annotation, w io.Writer) error
	ContentType() string
}

// PDFDriver re-renders page text with the same monospace page model the
// locator used, so annotation quads land exactly on their text. Each
// extracted page becomes one output page; auto page breaks are disabled
// to keep the geometry stable.
type PDFDriver struct {
	layout viewer.PageLayout
	log    *logger.Logger
}

// NewPDFDriver creates a driver for the given page model.
func NewPDFDriver(layout viewer.PageLayout, log *logger.Logger) *PDFDriver {
	return &PDFDriver{
		layout: layout,
		log:    log.WithComponent("export"),
	}
}

// ContentType implements Driver.
func (d *PDFDriver) ContentType() string { return "application/pdf" }

// Render implements Driver. Temporary preview highlights are never
// exported.
func (d *PDFDriver) Render(ctx context.Context, doc extract.Document, anns []viewer.Annotation, w io.Writer) error {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: d.layout.PageWidth, Ht: d.layout.PageHeight},
	})
	pdf.SetTitle(doc.Name, true)
	pdf.SetCreator("doc-sentinel", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Courier", "", d.layout.FontSize)

	byPage := make(map[int][]viewer.Annotation)
	for _, a := range anns {
		if a.Kind() == viewer.KindTempHighlight {
			continue
		}
		m := a.Meta()
		byPage[m.Page] = append(byPage[m.Page], a)
	}

	for i, text := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		pdf.AddPage()
		d.renderPage(pdf, text, byPage[i+1])
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func (d *PDFDriver) renderPage(pdf *gofpdf.Fpdf, text string, anns []viewer.Annotation) {
	spans := viewer.WrapText(text, d.layout.Columns())
	lines := make([][]rune, len(spans))
	for i, s := range spans {
		lines[i] = []rune(text[s.Start:s.End])
	}

	// Blank redacted cells out of the content before anything is drawn.
	for _, a := range anns {
		if a.Kind() != viewer.KindRedaction {
			continue
		}
		for _, q := range a.Meta().Quads {
			d.blankCells(lines, q)
		}
	}

	// Highlights go under the text.
	for _, a := range anns {
		h, ok := a.(viewer.Highlight)
		if !ok {
			continue
		}
		pdf.SetAlpha(0.4, "Normal")
		pdf.SetFillColor(int(h.Color.R), int(h.Color.G), int(h.Color.B))
		for _, q := range a.Meta().Quads {
			x, y, w, hh := q.Bounds()
			pdf.Rect(x, y, w, hh, "F")
		}
		pdf.SetAlpha(1, "Normal")
	}

	pdf.SetTextColor(0, 0, 0)
	for i, line := range lines {
		if len(line) == 0 {
			continue
		}
		baseline := d.layout.Margin + float64(i)*d.layout.LineHeight() + d.layout.FontSize
		pdf.Text(d.layout.Margin, baseline, string(line))
	}

	// Redaction boxes and overlay labels go over the text.
	for _, a := range anns {
		r, ok := a.(viewer.Redaction)
		if !ok {
			continue
		}
		pdf.SetFillColor(int(r.FillColor.R), int(r.FillColor.G), int(r.FillColor.B))
		for qi, q := range a.Meta().Quads {
			x, y, w, hh := q.Bounds()
			pdf.Rect(x, y, w, hh, "F")
			if r.OverlayText == "" {
				continue
			}
			if qi > 0 && !r.RepeatOverlay {
				continue
			}
			d.drawOverlay(pdf, r.OverlayText, x, y, w, hh)
		}
	}
}

// blankCells replaces the character cells under a redaction quad with
// spaces.
func (d *PDFDriver) blankCells(lines [][]rune, q viewer.Quad) {
	x, y, w, _ := q.Bounds()

	line := int(math.Round((y - d.layout.Margin) / d.layout.LineHeight()))
	colStart := int(math.Round((x - d.layout.Margin) / d.layout.CharWidth()))
	colEnd := int(math.Round((x + w - d.layout.Margin) / d.layout.CharWidth()))

	if line < 0 || line >= len(lines) {
		return
	}
	row := lines[line]
	if colStart < 0 {
		colStart = 0
	}
	if colEnd > len(row) {
		colEnd = len(row)
	}
	for c := colStart; c < colEnd; c++ {
		row[c] = ' '
	}
}

func (d *PDFDriver) drawOverlay(pdf *gofpdf.Fpdf, label string, x, y, w, h float64) {
	maxChars := int(w / d.layout.CharWidth())
	if maxChars < 1 {
		return
	}
	runes := []rune(label)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	textW := float64(len(runes)) * d.layout.CharWidth()

	pdf.SetTextColor(255, 255, 255)
	pdf.Text(x+(w-textW)/2, y+(h+d.layout.FontSize)/2, string(runes))
	pdf.SetTextColor(0, 0, 0)
}

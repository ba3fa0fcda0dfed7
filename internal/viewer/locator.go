package viewer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/doc-sentinel/internal/config"
)

// Locator resolves entity text to page regions.
type Locator interface {
	// Locate finds occurrences of text and calls emit once per occurrence
	// in page order. Implementations are not safe for concurrent Locate
	// calls; callers serialize through the operation queue.
	Locate(ctx context.Context, text string, opts MatchOptions, emit func(Occurrence)) error
}

// Page is the text content of one document page.
type Page struct {
	Number int
	Text   string
}

// PageLayout is the monospace page model shared by the text locator and
// the PDF exporter. All values are in points. Character cells use Courier
// metrics: width 0.6 of the font size, line height 1.2.
type PageLayout struct {
	PageWidth  float64
	PageHeight float64
	Margin     float64
	FontSize   float64
}

// CharWidth returns the width of one character cell.
func (l PageLayout) CharWidth() float64 { return l.FontSize * 0.6 }

// LineHeight returns the height of one text line.
func (l PageLayout) LineHeight() float64 { return l.FontSize * 1.2 }

// Columns returns how many character cells fit between the margins.
func (l PageLayout) Columns() int {
	cols := int((l.PageWidth - 2*l.Margin) / l.CharWidth())
	if cols < 1 {
		cols = 1
	}
	return cols
}

// LinesPerPage returns how many text lines fit between the margins.
func (l PageLayout) LinesPerPage() int {
	lines := int((l.PageHeight - 2*l.Margin) / l.LineHeight())
	if lines < 1 {
		lines = 1
	}
	return lines
}

// LayoutFromConfig builds a PageLayout from configuration.
func LayoutFromConfig(cfg config.LayoutConfig) PageLayout {
	return PageLayout{
		PageWidth:  cfg.PageWidth,
		PageHeight: cfg.PageHeight,
		Margin:     cfg.Margin,
		FontSize:   cfg.FontSize,
	}
}

// QuadForLine returns the region covering columns [colStart, colEnd) of
// the given display line.
func (l PageLayout) QuadForLine(line, colStart, colEnd int) Quad {
	x0 := l.Margin + float64(colStart)*l.CharWidth()
	x1 := l.Margin + float64(colEnd)*l.CharWidth()
	top := l.Margin + float64(line)*l.LineHeight()
	bot := top + l.LineHeight()
	return Quad{x0, bot, x1, bot, x1, top, x0, top}
}

// LineSpan is the byte range of one display line within its page text.
type LineSpan struct {
	Start, End int
}

// WrapText computes the display lines of text for the given column count:
// greedy word wrap, hard break when a word exceeds the line. The break
// consumes one space, so spans never include the whitespace a wrap
// replaced. Both the locator and the exporter lay pages out with this
// function, which is what keeps located quads aligned with rendered text.
func WrapText(text string, columns int) []LineSpan {
	if columns < 1 {
		columns = 1
	}

	var lines []LineSpan
	parStart := 0
	for {
		parEnd := len(text)
		if nl := strings.IndexByte(text[parStart:], '\n'); nl >= 0 {
			parEnd = parStart + nl
		}

		lineStart := parStart
		for {
			limit, lastSpace := scanLine(text, lineStart, parEnd, columns)
			if limit >= parEnd {
				lines = append(lines, LineSpan{Start: lineStart, End: parEnd})
				break
			}
			if lastSpace >= lineStart {
				lines = append(lines, LineSpan{Start: lineStart, End: lastSpace})
				lineStart = lastSpace + 1
			} else {
				lines = append(lines, LineSpan{Start: lineStart, End: limit})
				lineStart = limit
			}
		}

		if parEnd == len(text) {
			break
		}
		parStart = parEnd + 1
	}
	return lines
}

// scanLine advances up to columns runes from start and returns the byte
// index reached plus the byte index of the last breakable space seen (-1
// if none). A space sitting exactly at the column limit still counts as a
// break point.
func scanLine(text string, start, end, columns int) (limit, lastSpace int) {
	lastSpace = -1
	i := start
	for runes := 0; i < end && runes < columns; runes++ {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == ' ' || r == '\t' {
			lastSpace = i
		}
		i += size
	}
	if i < end {
		if r, _ := utf8.DecodeRuneInString(text[i:]); r == ' ' || r == '\t' {
			lastSpace = i
		}
	}
	return i, lastSpace
}

type locatorPage struct {
	number int
	text   string
	lines  []LineSpan
}

// TextLocator locates matches in extracted page text using the monospace
// page model. It holds no mutable state after construction.
type TextLocator struct {
	layout PageLayout
	pages  []locatorPage
}

// NewTextLocator lays out the given pages and returns a locator over them.
func NewTextLocator(pages []Page, layout PageLayout) *TextLocator {
	tl := &TextLocator{layout: layout}
	cols := layout.Columns()
	for _, p := range pages {
		text := normalizeText(p.Text)
		tl.pages = append(tl.pages, locatorPage{
			number: p.Number,
			text:   text,
			lines:  WrapText(text, cols),
		})
	}
	return tl
}

func normalizeText(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// Locate implements Locator.
func (tl *TextLocator) Locate(ctx context.Context, text string, opts MatchOptions, emit func(Occurrence)) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	re, err := CompilePattern(text, opts)
	if err != nil {
		return fmt.Errorf("compile pattern: %w", err)
	}

	for i := range tl.pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		pg := &tl.pages[i]
		for _, m := range re.FindAllStringIndex(pg.text, -1) {
			quads := pg.quadsFor(m[0], m[1], tl.layout)
			if len(quads) == 0 {
				continue
			}
			emit(Occurrence{PageNumber: pg.number, Quads: quads})
		}
	}
	return nil
}

// quadsFor maps a match byte range onto the page's display lines, one quad
// per overlapped line segment.
func (p *locatorPage) quadsFor(ms, me int, layout PageLayout) []Quad {
	var quads []Quad
	for i, span := range p.lines {
		if span.Start >= me {
			break
		}
		segStart := ms
		if span.Start > segStart {
			segStart = span.Start
		}
		segEnd := me
		if span.End < segEnd {
			segEnd = span.End
		}
		if segEnd <= segStart {
			continue
		}
		colStart := utf8.RuneCountInString(p.text[span.Start:segStart])
		colEnd := colStart + utf8.RuneCountInString(p.text[segStart:segEnd])
		quads = append(quads, layout.QuadForLine(i, colStart, colEnd))
	}
	return quads
}

// CompilePattern builds the regular expression for one locate call.
func CompilePattern(text string, opts MatchOptions) (*regexp.Regexp, error) {
	var pat string
	switch {
	case opts.Regex:
		pat = text
	case opts.Wildcard:
		pat = wildcardToRegexp(text)
	default:
		pat = regexp.QuoteMeta(text)
	}

	if opts.WholeWord {
		lead, trail := boundaryGuards(text, opts)
		pat = lead + pat + trail
	}
	if !opts.CaseSensitive {
		pat = "(?i)" + pat
	}

	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", text, err)
	}
	return re, nil
}

// boundaryGuards returns the \b anchors for whole-word matching. A guard
// is only emitted next to a word character: anchoring \b against
// punctuation such as "(555)" can never match.
func boundaryGuards(text string, opts MatchOptions) (lead, trail string) {
	if opts.Regex || opts.Wildcard {
		return `\b`, `\b`
	}
	first, _ := utf8.DecodeRuneInString(text)
	last, _ := utf8.DecodeLastRuneInString(text)
	if isWordRune(first) {
		lead = `\b`
	}
	if isWordRune(last) {
		trail = `\b`
	}
	return lead, trail
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wildcardToRegexp translates a glob-style pattern: * is any run of
// non-space characters, ? exactly one. Everything else matches literally.
func wildcardToRegexp(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`\S*`)
		case '?':
			b.WriteString(`\S`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// Package viewer models the document view the reconciliation engine works
// against: annotations placed on pages, and a locator that resolves entity
// text to page regions.
package viewer

import (
	"fmt"
	"math"
)

// Kind discriminates the annotation variants.
type Kind string

const (
	// KindHighlight marks a persistent entity highlight.
	KindHighlight Kind = "highlight"
	// KindTempHighlight marks a preview highlight that is cleared as a
	// group rather than per entity.
	KindTempHighlight Kind = "temp_highlight"
	// KindRedaction marks a redaction region.
	KindRedaction Kind = "redaction"
)

// AnnotationID identifies an annotation within its store.
type AnnotationID uint64

// Quad is one rectangular text region as four corner points, eight values
// in x,y pairs: lower-left, lower-right, upper-right, upper-left. Page
// coordinates are in points with the origin at the top-left corner and y
// growing downward.
type Quad [8]float64

// Bounds returns the axis-aligned rectangle of the quad as its top-left
// corner plus width and height.
func (q Quad) Bounds() (x, y, w, h float64) {
	minX, minY := q[0], q[1]
	maxX, maxY := q[0], q[1]
	for i := 2; i < 8; i += 2 {
		minX = math.Min(minX, q[i])
		maxX = math.Max(maxX, q[i])
		minY = math.Min(minY, q[i+1])
		maxY = math.Max(maxY, q[i+1])
	}
	return minX, minY, maxX - minX, maxY - minY
}

// RGB is an 8-bit color.
type RGB struct {
	R, G, B uint8
}

// Hex returns the color as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseHexColor parses "#rrggbb" into an RGB.
func ParseHexColor(s string) (RGB, error) {
	var c RGB
	if len(s) != 7 || s[0] != '#' {
		return c, fmt.Errorf("invalid hex color %q", s)
	}
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return c, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return c, nil
}

// Common carries the fields shared by every annotation variant. EntityID
// ties the annotation back to the managed entity it was created for; it is
// empty for annotations that did not originate from an entity.
type Common struct {
	ID       AnnotationID
	Page     int
	Quads    []Quad
	EntityID string
}

// Meta returns the shared annotation fields.
func (c Common) Meta() Common { return c }

// Annotation is a tagged variant: exactly Highlight, TempHighlight or
// Redaction. The unexported method keeps the set closed.
type Annotation interface {
	Kind() Kind
	Meta() Common
	withID(id AnnotationID) Annotation
}

// Highlight is a persistent highlight over every located occurrence of an
// entity.
type Highlight struct {
	Common
	Color RGB
}

// Kind implements Annotation.
func (Highlight) Kind() Kind { return KindHighlight }

func (h Highlight) withID(id AnnotationID) Annotation {
	h.ID = id
	return h
}

// TempHighlight is a transient preview highlight.
type TempHighlight struct {
	Common
	Color RGB
}

// Kind implements Annotation.
func (TempHighlight) Kind() Kind { return KindTempHighlight }

func (t TempHighlight) withID(id AnnotationID) Annotation {
	t.ID = id
	return t
}

// Redaction is a redaction region with its flattening appearance.
type Redaction struct {
	Common
	FillColor     RGB
	OverlayText   string
	RepeatOverlay bool
}

// Kind implements Annotation.
func (Redaction) Kind() Kind { return KindRedaction }

func (r Redaction) withID(id AnnotationID) Annotation {
	r.ID = id
	return r
}

// Occurrence is one located instance of an entity's text. An occurrence
// that wraps across display lines carries one quad per line segment.
type Occurrence struct {
	PageNumber int
	Quads      []Quad
}

// MatchOptions selects how entity text is matched against page text.
type MatchOptions struct {
	// CaseSensitive requires exact case. Off by default: detection
	// services report entities with normalized casing that may not match
	// the page.
	CaseSensitive bool
	// WholeWord anchors the match on word boundaries.
	WholeWord bool
	// Wildcard interprets * as any run of non-space characters and ? as
	// exactly one.
	Wildcard bool
	// Regex interprets the text as a regular expression. Takes precedence
	// over Wildcard.
	Regex bool
}

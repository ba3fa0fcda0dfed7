// Package pii talks to the external PII detection service. Detection
// results are consumed as-is: categories and confidence scores are never
// computed or adjusted locally.
package pii

import (
	"context"
	"fmt"
)

// Entity is one detected PII instance. Offset and Length are rune counts
// into the analyzed text, as reported by the detection service.
type Entity struct {
	Text            string  `json:"text"`
	Category        string  `json:"category"`
	ConfidenceScore float64 `json:"confidence_score"`
	Offset          int     `json:"offset"`
	Length          int     `json:"length"`
}

// ConfidenceSummary buckets entities by confidence tier.
type ConfidenceSummary struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Result is a completed analysis.
type Result struct {
	Entities      []Entity          `json:"entities"`
	RedactedText  string            `json:"redacted_text,omitempty"`
	TotalEntities int               `json:"total_entities"`
	TotalPages    int               `json:"total_pages,omitempty"`
	Summary       ConfidenceSummary `json:"confidence_summary"`
}

// Detector analyzes text for PII entities.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Entity, error)
}

// DetectionError reports a non-success response from the detection
// service.
type DetectionError struct {
	StatusCode int
	Message    string
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection service returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth retrying.
func (e *DetectionError) Retryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// SummarizeConfidence buckets entities into tiers: high is a score of at
// least 0.8, medium at least 0.6, low everything below.
func SummarizeConfidence(entities []Entity) ConfidenceSummary {
	var s ConfidenceSummary
	for _, e := range entities {
		switch {
		case e.ConfidenceScore >= 0.8:
			s.High++
		case e.ConfidenceScore >= 0.6:
			s.Medium++
		default:
			s.Low++
		}
	}
	return s
}

// FilterByConfidence drops entities scoring below min. With min 0 the
// input is returned unchanged.
func FilterByConfidence(entities []Entity, min float64) []Entity {
	if min <= 0 {
		return entities
	}
	out := entities[:0:0]
	for _, e := range entities {
		if e.ConfidenceScore >= min {
			out = append(out, e)
		}
	}
	return out
}

// ResultCache caches analysis results keyed by the analyzed text.
type ResultCache interface {
	Get(ctx context.Context, text string) (*Result, bool)
	Set(ctx context.Context, text string, r *Result)
}

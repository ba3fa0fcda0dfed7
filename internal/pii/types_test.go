package pii

import "testing"

// TestSummarizeConfidence tests tier bucketing
func TestSummarizeConfidence(t *testing.T) {
	entities := []Entity{
		{ConfidenceScore: 0.95},
		{ConfidenceScore: 0.8},
		{ConfidenceScore: 0.79},
		{ConfidenceScore: 0.6},
		{ConfidenceScore: 0.2},
	}

	s := SummarizeConfidence(entities)
	if s.High != 2 {
		t.Errorf("High = %d, want 2", s.High)
	}
	if s.Medium != 2 {
		t.Errorf("Medium = %d, want 2", s.Medium)
	}
	if s.Low != 1 {
		t.Errorf("Low = %d, want 1", s.Low)
	}

	empty := SummarizeConfidence(nil)
	if empty.High != 0 || empty.Medium != 0 || empty.Low != 0 {
		t.Errorf("Empty input should produce zero summary: %+v", empty)
	}
}

// TestFilterByConfidence tests threshold filtering
func TestFilterByConfidence(t *testing.T) {
	entities := []Entity{
		{Text: "a", ConfidenceScore: 0.9},
		{Text: "b", ConfidenceScore: 0.7},
		{Text: "c", ConfidenceScore: 0.3},
	}

	t.Run("ZeroMinKeepsAll", func(t *testing.T) {
		got := FilterByConfidence(entities, 0)
		if len(got) != 3 {
			t.Errorf("Expected all 3 entities, got %d", len(got))
		}
	})

	t.Run("DropsBelowThreshold", func(t *testing.T) {
		got := FilterByConfidence(entities, 0.7)
		if len(got) != 2 {
			t.Fatalf("Expected 2 entities, got %d", len(got))
		}
		if got[0].Text != "a" || got[1].Text != "b" {
			t.Errorf("Unexpected survivors: %+v", got)
		}
	})

	t.Run("DoesNotMutateInput", func(t *testing.T) {
		FilterByConfidence(entities, 0.99)
		if entities[0].Text != "a" || entities[1].Text != "b" || entities[2].Text != "c" {
			t.Errorf("Input slice was mutated: %+v", entities)
		}
	})
}

// TestDetectionErrorRetryable tests the retry classification
func TestDetectionErrorRetryable(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		e := &DetectionError{StatusCode: code}
		if !e.Retryable() {
			t.Errorf("Status %d should be retryable", code)
		}
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		e := &DetectionError{StatusCode: code}
		if e.Retryable() {
			t.Errorf("Status %d should not be retryable", code)
		}
	}
}

package server

import (
	"time"

	"github.com/raaihank/doc-sentinel/internal/pii"
	"github.com/raaihank/doc-sentinel/internal/registry"
	"github.com/raaihank/doc-sentinel/internal/session"
	"github.com/raaihank/doc-sentinel/internal/viewer"
)

// textRequest is the body of POST /api/v1/documents/text.
type textRequest struct {
	Text          string  `json:"text"`
	DocumentName  string  `json:"document_name,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

// jobCreatedResponse acknowledges an accepted document.
type jobCreatedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// entityResponse mirrors a managed entity on the wire.
type entityResponse struct {
	ID              string  `json:"id"`
	Text            string  `json:"text"`
	Category        string  `json:"category"`
	CategoryGroup   string  `json:"category_group"`
	ConfidenceScore float64 `json:"confidence_score"`
	Offset          int     `json:"offset"`
	Length          int     `json:"length"`
	PageNumber      int     `json:"page_number,omitempty"`
	Selected        bool    `json:"selected"`
	Highlighted     bool    `json:"highlighted"`
	HasRedaction    bool    `json:"has_redaction"`
}

func toEntityResponse(e registry.ManagedEntity) entityResponse {
	return entityResponse{
		ID:              e.ID,
		Text:            e.Text,
		Category:        e.Category,
		CategoryGroup:   e.CategoryGroup(),
		ConfidenceScore: e.ConfidenceScore,
		Offset:          e.Offset,
		Length:          e.Length,
		PageNumber:      e.PageNumber,
		Selected:        e.Selected,
		Highlighted:     e.Highlighted,
		HasRedaction:    e.HasRedaction,
	}
}

// jobResponse is the job state returned by the jobs endpoints. Entities
// and the confidence summary are present once the job has completed.
type jobResponse struct {
	JobID          string                 `json:"job_id"`
	Status         string                 `json:"status"`
	DocumentName   string                 `json:"document_name"`
	Source         string                 `json:"source"`
	CreatedAt      time.Time              `json:"created_at"`
	TotalPages     int                    `json:"total_pages,omitempty"`
	TotalEntities  int                    `json:"total_entities"`
	Entities       []entityResponse       `json:"entities,omitempty"`
	Summary        *pii.ConfidenceSummary `json:"confidence_summary,omitempty"`
	RedactedText   string                 `json:"redacted_text,omitempty"`
	ProcessingTime float64                `json:"processing_time,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

func toJobResponse(job *session.Job, includeEntities bool) jobResponse {
	resp := jobResponse{
		JobID:        job.ID,
		Status:       string(job.Status()),
		DocumentName: job.DocumentName,
		Source:       job.Source,
		CreatedAt:    job.CreatedAt,
		Error:        job.Failure(),
	}
	if result := job.Result(); result != nil {
		resp.TotalPages = result.TotalPages
		resp.TotalEntities = result.TotalEntities
		resp.RedactedText = result.RedactedText
		resp.ProcessingTime = job.ProcessingTime()
		summary := result.Summary
		resp.Summary = &summary
	}
	if includeEntities {
		entities := job.Engine().Registry().List()
		resp.Entities = make([]entityResponse, 0, len(entities))
		for _, e := range entities {
			resp.Entities = append(resp.Entities, toEntityResponse(e))
		}
	}
	return resp
}

// jobListResponse wraps GET /api/v1/jobs.
type jobListResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// toggleRequest is the body of the entity and category toggle endpoints.
// Selected is a pointer so an absent field is rejected rather than
// silently treated as false.
type toggleRequest struct {
	Selected *bool `json:"selected"`
}

// previewRequest is the body of the preview endpoint.
type previewRequest struct {
	AllInstances bool `json:"all_instances"`
}

// opResponse reports the outcome of a queued reconciliation operation.
type opResponse struct {
	JobID       string          `json:"job_id"`
	EntityID    string          `json:"entity_id,omitempty"`
	Category    string          `json:"category,omitempty"`
	Annotations int             `json:"annotations"`
	Entity      *entityResponse `json:"entity,omitempty"`
}

// annotationResponse is one store entry on the wire, tagged by kind.
type annotationResponse struct {
	ID            uint64        `json:"id"`
	Kind          string        `json:"kind"`
	Page          int           `json:"page"`
	EntityID      string        `json:"entity_id,omitempty"`
	Quads         []viewer.Quad `json:"quads"`
	Color         string        `json:"color,omitempty"`
	FillColor     string        `json:"fill_color,omitempty"`
	OverlayText   string        `json:"overlay_text,omitempty"`
	RepeatOverlay bool          `json:"repeat_overlay,omitempty"`
}

func toAnnotationResponse(a viewer.Annotation) annotationResponse {
	meta := a.Meta()
	resp := annotationResponse{
		ID:       uint64(meta.ID),
		Kind:     string(a.Kind()),
		Page:     meta.Page,
		EntityID: meta.EntityID,
		Quads:    meta.Quads,
	}
	switch v := a.(type) {
	case viewer.Highlight:
		resp.Color = v.Color.Hex()
	case viewer.TempHighlight:
		resp.Color = v.Color.Hex()
	case viewer.Redaction:
		resp.FillColor = v.FillColor.Hex()
		resp.OverlayText = v.OverlayText
		resp.RepeatOverlay = v.RepeatOverlay
	}
	return resp
}

// annotationListResponse wraps GET /api/v1/jobs/{id}/annotations.
type annotationListResponse struct {
	JobID       string               `json:"job_id"`
	Revision    uint64               `json:"revision"`
	Annotations []annotationResponse `json:"annotations"`
}

// categoryListResponse wraps GET /api/v1/jobs/{id}/categories.
type categoryListResponse struct {
	JobID      string                     `json:"job_id"`
	Categories []registry.CategorySummary `json:"categories"`
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

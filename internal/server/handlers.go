package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/doc-sentinel/internal/audit"
	"github.com/raaihank/doc-sentinel/internal/event"
	"github.com/raaihank/doc-sentinel/internal/export"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/queue"
	"github.com/raaihank/doc-sentinel/internal/registry"
	"github.com/raaihank/doc-sentinel/internal/session"
)

// handleAnalyzeText accepts raw text for detection and redaction.
func (s *Server) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.MinConfidence < 0 || req.MinConfidence > 1 {
		writeError(w, http.StatusBadRequest, "min_confidence must be between 0 and 1")
		return
	}
	name := req.DocumentName
	if name == "" {
		name = "text-input"
	}

	job, err := s.jobs.CreateTextJob(name, req.Text, session.CreateOptions{
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		s.writeJobCreateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{
		JobID:  job.ID,
		Status: string(job.Status()),
	})
}

// handleUploadDocument accepts a PDF upload for detection and redaction.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.config.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "only PDF files are supported")
		return
	}

	var minConfidence float64
	if v := r.FormValue("min_confidence"); v != "" {
		minConfidence, err = strconv.ParseFloat(v, 64)
		if err != nil || minConfidence < 0 || minConfidence > 1 {
			writeError(w, http.StatusBadRequest, "min_confidence must be between 0 and 1")
			return
		}
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload failed")
		return
	}

	job, err := s.jobs.CreatePDFJob(filepath.Base(header.Filename), content, session.CreateOptions{
		MinConfidence: minConfidence,
	})
	if err != nil {
		s.writeJobCreateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{
		JobID:  job.ID,
		Status: string(job.Status()),
	})
}

func (s *Server) writeJobCreateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrTooManyJobs):
		writeError(w, http.StatusServiceUnavailable, "too many live jobs, retry later")
	case errors.Is(err, session.ErrNoText):
		writeError(w, http.StatusBadRequest, "document contains no extractable text")
	default:
		s.requestLogger(r).Error("Job creation failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// handleListJobs returns every live job, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	resp := jobListResponse{
		Jobs:  make([]jobResponse, 0, len(jobs)),
		Total: len(jobs),
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetJob returns one job with its entities.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, true))
}

// handleDeleteJob discards a job and its annotations.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Remove(mux.Vars(r)["job_id"]); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCategories returns the category summaries of a job.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, categoryListResponse{
		JobID:      job.ID,
		Categories: job.Engine().Registry().Categories(),
	})
}

// handleToggleEntity flips one entity's redaction through the queue.
func (s *Server) handleToggleEntity(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}
	entityID := mux.Vars(r)["entity_id"]

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Selected == nil {
		writeError(w, http.StatusBadRequest, "selected is required")
		return
	}

	n, err := job.Engine().ToggleEntity(context.Background(), entityID, *req.Selected).Wait(r.Context())
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}

	ent, err := job.Engine().Registry().Get(entityID)
	if err == nil {
		action, eventAction := audit.ActionRemove, "removed"
		if *req.Selected {
			action, eventAction = audit.ActionApply, "applied"
		}
		s.recordAudit(job, ent.ID, ent.Category, action, n)
		s.broadcastEntity(job, ent, n)
		s.broadcastRedaction(job, ent.ID, eventAction, n)
	}

	resp := opResponse{JobID: job.ID, EntityID: entityID, Annotations: n}
	if err == nil {
		er := toEntityResponse(ent)
		resp.Entity = &er
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleToggleCategory flips every entity of a category through the queue.
func (s *Server) handleToggleCategory(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["category"]

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Selected == nil {
		writeError(w, http.StatusBadRequest, "selected is required")
		return
	}

	n, err := job.Engine().ToggleCategory(context.Background(), name, *req.Selected).Wait(r.Context())
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}

	action, eventAction := audit.ActionRemove, "removed"
	if *req.Selected {
		action, eventAction = audit.ActionApply, "applied"
	}
	s.recordAudit(job, "", name, action, n)
	s.broadcastRedaction(job, "", eventAction, n)

	writeJSON(w, http.StatusOK, opResponse{JobID: job.ID, Category: name, Annotations: n})
}

// handlePreviewEntity highlights one entity's occurrences temporarily.
func (s *Server) handlePreviewEntity(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}
	entityID := mux.Vars(r)["entity_id"]

	var req previewRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	n, err := job.Engine().PreviewEntity(context.Background(), entityID, req.AllInstances).Wait(r.Context())
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}

	if ent, err := job.Engine().Registry().Get(entityID); err == nil {
		s.broadcastEntity(job, ent, n)
	}
	writeJSON(w, http.StatusOK, opResponse{JobID: job.ID, EntityID: entityID, Annotations: n})
}

// handleClearPreview removes all temporary highlights.
func (s *Server) handleClearPreview(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}

	n, err := job.Engine().ClearTemporaryHighlights(context.Background()).Wait(r.Context())
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opResponse{JobID: job.ID, Annotations: n})
}

// handleClearRedactions removes every redaction and reselects all entities.
func (s *Server) handleClearRedactions(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}

	n, err := job.Engine().ClearAllRedactions(context.Background()).Wait(r.Context())
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}

	s.recordAudit(job, "", "", audit.ActionClear, n)
	s.broadcastRedaction(job, "", "cleared", n)
	writeJSON(w, http.StatusOK, opResponse{JobID: job.ID, Annotations: n})
}

// handleAnnotations lists the job's annotation store.
func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}

	anns := job.Store().List()
	resp := annotationListResponse{
		JobID:       job.ID,
		Revision:    job.Store().Revision(),
		Annotations: make([]annotationResponse, 0, len(anns)),
	}
	for _, a := range anns {
		resp.Annotations = append(resp.Annotations, toAnnotationResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExport renders the flattened redacted PDF.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}
	if job.Status() != session.StatusCompleted {
		writeError(w, http.StatusConflict, "job is not completed")
		return
	}

	driver := export.NewPDFDriver(job.Layout(), s.logger)
	var buf bytes.Buffer
	if err := driver.Render(r.Context(), job.Document(), job.Store().List(), &buf); err != nil {
		s.requestLogger(r).Error("Export failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	s.recordAudit(job, "", "", audit.ActionExport, job.Store().Len())

	w.Header().Set("Content-Type", driver.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", exportFilename(job.DocumentName)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func exportFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		base = "document"
	}
	return "redacted_" + base + ".pdf"
}

// getJob resolves the job_id route variable, writing a 404 on miss.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) (*session.Job, bool) {
	job, err := s.jobs.Get(mux.Vars(r)["job_id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

// writeOpError maps queued-operation failures to HTTP statuses.
func (s *Server) writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrOpTimeout):
		writeError(w, http.StatusGatewayTimeout, "operation timed out")
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusConflict, "job is closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The client stopped waiting; the queued operation still runs to
		// completion.
		writeError(w, http.StatusRequestTimeout, "request cancelled while waiting")
	default:
		s.requestLogger(r).Error("Operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

func (s *Server) requestLogger(r *http.Request) *logger.Logger {
	return s.logger.WithRequestID(getRequestID(r.Context()))
}

func (s *Server) recordAudit(job *session.Job, entityID, category, action string, n int) {
	if s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.audit.Record(ctx, audit.Event{
		JobID:           job.ID,
		DocumentName:    job.DocumentName,
		EntityID:        entityID,
		Category:        category,
		Action:          action,
		AnnotationCount: n,
	})
	if err != nil {
		s.logger.Warn("Audit record failed",
			zap.String("job_id", job.ID),
			zap.String("action", action),
			zap.Error(err))
	}
}

func (s *Server) broadcastEntity(job *session.Job, ent registry.ManagedEntity, n int) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(event.Event{
		Type:  event.EventTypeEntityUpdated,
		JobID: job.ID,
		Data: event.EntityEvent{
			JobID:        job.ID,
			EntityID:     ent.ID,
			Category:     ent.Category,
			Selected:     ent.Selected,
			Highlighted:  ent.Highlighted,
			HasRedaction: ent.HasRedaction,
			Annotations:  n,
		},
	})
}

func (s *Server) broadcastRedaction(job *session.Job, entityID, action string, n int) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(event.Event{
		Type:  event.EventTypeRedaction,
		JobID: job.ID,
		Data: event.RedactionEvent{
			JobID:       job.ID,
			EntityID:    entityID,
			Action:      action,
			Annotations: n,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/pii"
	"github.com/raaihank/doc-sentinel/internal/session"
)

type fakeAnalyzer struct {
	result *pii.Result
	gate   chan struct{}
}

func (f *fakeAnalyzer) analyze() (*pii.Result, error) {
	if f.gate != nil {
		<-f.gate
	}
	r := *f.result
	r.Entities = append([]pii.Entity(nil), f.result.Entities...)
	return &r, nil
}

func (f *fakeAnalyzer) AnalyzeText(context.Context, string) (*pii.Result, error) {
	return f.analyze()
}

func (f *fakeAnalyzer) AnalyzePDF(context.Context, string, io.Reader) (*pii.Result, error) {
	return f.analyze()
}

func emailAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{result: &pii.Result{
		Entities: []pii.Entity{
			{Text: "john@example.com", Category: "Email", ConfidenceScore: 0.95, Offset: 8, Length: 16},
		},
		TotalEntities: 1,
		Summary:       pii.ConfidenceSummary{High: 1},
		RedactedText:  "contact [EMAIL] today",
	}}
}

func newTestServer(t *testing.T, analyzer session.Analyzer) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Detection.Endpoint = "http://localhost:0"
	mgr, err := session.NewManager(cfg, analyzer, nil, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Close)
	return New(cfg, mgr, nil, nil, nil, logger.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// createCompletedJob posts text and waits for the background processing to
// finish.
func createCompletedJob(t *testing.T, h http.Handler, req textRequest) jobResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/documents/text", req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Create returned %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[jobCreatedResponse](t, rec)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/jobs/"+created.JobID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET job returned %d: %s", rec.Code, rec.Body.String())
		}
		job := decode[jobResponse](t, rec)
		switch job.Status {
		case string(session.StatusCompleted):
			return job
		case string(session.StatusFailed):
			t.Fatalf("Job failed: %s", job.Error)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Job never completed")
	return jobResponse{}
}

// TestAnalyzeTextEndpoint tests document submission validation and flow
func TestAnalyzeTextEndpoint(t *testing.T) {
	srv := newTestServer(t, emailAnalyzer())
	h := srv.Router()

	t.Run("AcceptsText", func(t *testing.T) {
		job := createCompletedJob(t, h, textRequest{Text: "contact john@example.com today"})
		if job.Source != "text" || job.DocumentName != "text-input" {
			t.Errorf("Job: source=%q name=%q", job.Source, job.DocumentName)
		}
		if job.TotalEntities != 1 || job.TotalPages != 1 {
			t.Errorf("Job: entities=%d pages=%d", job.TotalEntities, job.TotalPages)
		}
		if len(job.Entities) != 1 {
			t.Fatalf("Expected 1 entity, got %d", len(job.Entities))
		}
		ent := job.Entities[0]
		if ent.Category != "Email" || !ent.Selected || ent.HasRedaction {
			t.Errorf("Entity state: %+v", ent)
		}
		if job.RedactedText != "contact [EMAIL] today" {
			t.Errorf("RedactedText = %q", job.RedactedText)
		}
		if job.Summary == nil || job.Summary.High != 1 {
			t.Errorf("Summary = %+v", job.Summary)
		}
	})

	t.Run("RejectsInvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/text", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("RejectsEmptyText", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/documents/text", textRequest{Text: "   "})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("RejectsBadConfidence", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/documents/text", textRequest{Text: "x", MinConfidence: 1.5})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})
}

// TestUploadEndpointValidation tests multipart upload validation
func TestUploadEndpointValidation(t *testing.T) {
	srv := newTestServer(t, emailAnalyzer())
	h := srv.Router()

	upload := func(t *testing.T, field, filename string, content []byte) *httptest.ResponseRecorder {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("Write: %v", err)
		}
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("MissingFile", func(t *testing.T) {
		rec := upload(t, "attachment", "doc.pdf", []byte("x"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("WrongExtension", func(t *testing.T) {
		rec := upload(t, "file", "doc.docx", []byte("x"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("CorruptPDF", func(t *testing.T) {
		rec := upload(t, "file", "doc.pdf", []byte("not a pdf at all"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})
}

// TestJobEndpoints tests listing, fetching and deleting jobs
func TestJobEndpoints(t *testing.T) {
	srv := newTestServer(t, emailAnalyzer())
	h := srv.Router()
	job := createCompletedJob(t, h, textRequest{Text: "contact john@example.com today"})

	t.Run("List", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/jobs", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		list := decode[jobListResponse](t, rec)
		if list.Total != 1 || len(list.Jobs) != 1 {
			t.Fatalf("List: %+v", list)
		}
		if len(list.Jobs[0].Entities) != 0 {
			t.Error("Listing should not inline entities")
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/jobs/missing", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("Categories", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/jobs/"+job.JobID+"/categories", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		cats := decode[categoryListResponse](t, rec)
		if len(cats.Categories) != 1 || cats.Categories[0].Name != "Email" {
			t.Errorf("Categories: %+v", cats.Categories)
		}
		if cats.Categories[0].SelectedCount != 1 {
			t.Errorf("SelectedCount = %d", cats.Categories[0].SelectedCount)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodDelete, "/api/v1/jobs/"+job.JobID, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("Status = %d", rec.Code)
		}
		rec = doJSON(t, h, http.MethodGet, "/api/v1/jobs/"+job.JobID, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Deleted job still resolves: %d", rec.Code)
		}
		rec = doJSON(t, h, http.MethodDelete, "/api/v1/jobs/"+job.JobID, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Second delete: %d", rec.Code)
		}
	})
}

// TestToggleEntityEndpoint tests per-entity redaction toggling
func TestToggleEntityEndpoint(t *testing.T) {
	srv := newTestServer(t, emailAnalyzer())
	h := srv.Router()
	job := createCompletedJob(t, h, textRequest{Text: "contact john@example.com today"})
	entityID := job.Entities[0].ID

	togglePath := "/api/v1/jobs/" + job.JobID + "/entities/" + entityID + "/toggle"
	selected := func(v bool) toggleRequest { return toggleRequest{Selected: &v} }

	t.Run("SelectAppliesRedaction", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, togglePath, selected(true))
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[opResponse](t, rec)
		if resp.Annotations != 1 {
			t.Errorf("Annotations = %d", resp.Annotations)
		}
		if resp.Entity == nil || !resp.Entity.HasRedaction || !resp.Entity.Selected {
			t.Errorf("Entity = %+v", resp.Entity)
		}
	})

	t.Run("AnnotationsListRedaction", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/jobs/"+job.JobID+"/annotations", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		list := decode[annotationListResponse](t, rec)

		var redactions []annotationResponse
		for _, a := range list.Annotations {
			if a.Kind == "redaction" {
				redactions = append(redactions, a)
			}
		}
		if len(redactions) != 1 {
			t.Fatalf("Expected 1 redaction, got %d", len(redactions))
		}
		red := redactions[0]
		if red.EntityID != entityID || red.FillColor != "#000000" || red.OverlayText != "Email" {
			t.Errorf("Redaction: %+v", red)
		}
		if len(red.Quads) == 0 {
			t.Error("Redaction should carry quads")
		}
	})

	t.Run("DeselectRemovesRedaction", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, togglePath, selected(false))
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		resp := decode[opResponse](t, rec)
		if resp.Annotations != 1 {
			t.Errorf("Annotations = %d", resp.Annotations)
		}
		if resp.Entity == nil || resp.Entity.HasRedaction || resp.Entity.Selected {
			t.Errorf("Entity = %+v", resp.Entity)
		}
	})

	t.Run("MissingSelectedField", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, togglePath, map[string]any{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost,
			"/api/v1/jobs/"+job.JobID+"/entities/ent-404/toggle", selected(true))
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d", rec.Code)
		}
	})
}

// TestToggleCategoryEndpoint tests category-wide toggling
func TestToggleCategoryEndpoint(t *testing.T) {
	srv := newTestServer(t, emailAnalyzer())
	h := srv.Router()
	job := createCompletedJob(t, h, textRequest{Text: "contact john@example.com today"})
	selected := func(v bool) toggleRequest { return toggleRequest{Selected: &v} }

	t.Run("TogglesMembers", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost,
			"/api/v1/jobs/"+job.JobID+"/categories/Email/toggle", selected(true))
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[opResponse](t, rec)
		if resp.Category != "Email" || resp.Annotations != 1 {
			t.Errorf("Response: %+v", resp)
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost,
			"/api/v1/jobs/"+job.JobID+"/categories/Passport/toggle", selected(true))
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d", rec.Code)
		}
	})
}

// TestPreviewEndpoints tests temporary highlighting
func TestPreviewEndpoints(t *testing.T) {
	srv := newTestServer(t, emailAnalyzer())
	h := srv.Router()
	job := createCompletedJob(t, h, textRequest{Text: "john@example.com and john@example.com"})
	entityID := job.Entities[0].ID
	previewPath := "/api/v1/jobs/" + job.JobID + "/entities/" + entityID + "/preview"

	t.Run("DefaultsToFirstInstance", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, previewPath, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[opResponse](t, rec)
		if resp.Annotations != 1 {
			t.Errorf("Annotations = %d", resp.Annotations)
		}
	})

	t.Run("AllInstances", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, previewPath, previewRequest{AllInstances: true})
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		resp := decode[opResponse](t, rec)
		if resp.Annotations != 2 {
			t.Errorf("Annotations = %d", resp.Annotations)
		}
	})

	t.Run("ClearPreview", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodDelete, "/api/v1/jobs/"+job.JobID+"/preview", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		resp := decode[opResponse](t, rec)
		if resp.Annotations != 2 {
			t.Errorf("Expected the 2 active temp highlights removed, got %d", resp.Annotations)
		}
	})
}

// TestClearRedactionsEndpoint tests the store-wide redaction sweep
func TestClearRedactionsEndpoint(t *testing.T) {
	srv := newTestServer(t, emailAnalyzer())
	h := srv.Router()
	job := createCompletedJob(t, h, textRequest{Text: "contact john@example.com today"})
	v := true

	rec := doJSON(t, h, http.MethodPost,
		"/api/v1/jobs/"+job.JobID+"/categories/Email/toggle", toggleRequest{Selected: &v})
	if rec.Code != http.StatusOK {
		t.Fatalf("Toggle: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/jobs/"+job.JobID+"/redactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}
	resp := decode[opResponse](t, rec)
	if resp.Annotations != 1 {
		t.Errorf("Annotations = %d", resp.Annotations)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/jobs/"+job.JobID+"/annotations", nil)
	list := decode[annotationListResponse](t, rec)
	for _, a := range list.Annotations {
		if a.Kind == "redaction" {
			t.Errorf("Redaction %d survived the sweep", a.ID)
		}
	}
}

// TestExportEndpoint tests redacted PDF rendering
func TestExportEndpoint(t *testing.T) {
	t.Run("RendersPDF", func(t *testing.T) {
		srv := newTestServer(t, emailAnalyzer())
		h := srv.Router()
		job := createCompletedJob(t, h, textRequest{
			Text:         "contact john@example.com today",
			DocumentName: "notes.txt",
		})
		v := true
		doJSON(t, h, http.MethodPost,
			"/api/v1/jobs/"+job.JobID+"/entities/"+job.Entities[0].ID+"/toggle", toggleRequest{Selected: &v})

		rec := doJSON(t, h, http.MethodPost, "/api/v1/jobs/"+job.JobID+"/export", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "redacted_notes.pdf") {
			t.Errorf("Content-Disposition = %q", cd)
		}
		if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
			t.Error("Body should be a PDF document")
		}
	})

	t.Run("RejectsUnfinishedJob", func(t *testing.T) {
		analyzer := emailAnalyzer()
		analyzer.gate = make(chan struct{})
		defer close(analyzer.gate)

		srv := newTestServer(t, analyzer)
		h := srv.Router()

		rec := doJSON(t, h, http.MethodPost, "/api/v1/documents/text", textRequest{Text: "pending text"})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("Create: %d", rec.Code)
		}
		created := decode[jobCreatedResponse](t, rec)

		rec = doJSON(t, h, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/export", nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("Status = %d", rec.Code)
		}
	})
}

// TestServiceEndpoints tests health and info
func TestServiceEndpoints(t *testing.T) {
	srv := newTestServer(t, emailAnalyzer())
	h := srv.Router()

	t.Run("Health", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "healthy") {
			t.Errorf("Body = %q", rec.Body.String())
		}
	})

	t.Run("Info", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/info", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		info := decode[map[string]any](t, rec)
		if info["name"] != "doc-sentinel" {
			t.Errorf("Info = %+v", info)
		}
	})

	t.Run("WebSocketDisabledWithoutHub", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/ws", nil)
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("Status = %d", rec.Code)
		}
	})
}

// TestExportFilename tests download name derivation
func TestExportFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"notes.txt", "redacted_notes.pdf"},
		{"report.pdf", "redacted_report.pdf"},
		{"archive/report.pdf", "redacted_report.pdf"},
		{"", "redacted_document.pdf"},
		{".", "redacted_document.pdf"},
	}
	for _, tc := range cases {
		if got := exportFilename(tc.in); got != tc.want {
			t.Errorf("exportFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

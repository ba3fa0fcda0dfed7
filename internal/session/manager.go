package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/event"
	"github.com/raaihank/doc-sentinel/internal/extract"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/metrics"
	"github.com/raaihank/doc-sentinel/internal/pii"
	"github.com/raaihank/doc-sentinel/internal/queue"
	"github.com/raaihank/doc-sentinel/internal/reconcile"
	"github.com/raaihank/doc-sentinel/internal/registry"
	"github.com/raaihank/doc-sentinel/internal/viewer"
	"go.uber.org/zap"
)

var (
	// ErrJobNotFound is returned when a job ID is unknown or expired.
	ErrJobNotFound = errors.New("session: job not found")
	// ErrTooManyJobs is returned when the live-job cap is reached.
	ErrTooManyJobs = errors.New("session: too many live jobs")
	// ErrNoText is returned when a document yields no extractable text.
	ErrNoText = errors.New("session: document contains no extractable text")
)

// Analyzer detects PII entities in text or PDF content.
type Analyzer interface {
	AnalyzeText(ctx context.Context, text string) (*pii.Result, error)
	AnalyzePDF(ctx context.Context, filename string, file io.Reader) (*pii.Result, error)
}

// CreateOptions carries per-job overrides from the API.
type CreateOptions struct {
	// MinConfidence drops detected entities scoring below it when > 0;
	// zero keeps the detection config's threshold.
	MinConfidence float64
}

// Manager owns the live jobs. Jobs are created from text or PDF input,
// processed in the background, and evicted after sitting idle past the
// configured TTL. A nil hub disables event broadcasting.
type Manager struct {
	analyze Analyzer
	hub     *event.Hub
	metrics *metrics.Metrics
	log     *logger.Logger

	mu         sync.RWMutex
	jobs       map[string]*Job
	cfg        *config.Config
	layout     viewer.PageLayout
	engineOpts reconcile.Options

	baseCtx context.Context
	stop    chan struct{}
}

// NewManager creates a job manager. Call Start to launch the eviction
// janitor before serving traffic.
func NewManager(cfg *config.Config, analyzer Analyzer, hub *event.Hub, met *metrics.Metrics, log *logger.Logger) (*Manager, error) {
	m := &Manager{
		analyze: analyzer,
		hub:     hub,
		metrics: met,
		log:     log.WithComponent("session"),
		jobs:    make(map[string]*Job),
		baseCtx: context.Background(),
		stop:    make(chan struct{}),
	}
	if err := m.ApplyConfig(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyConfig installs cfg for jobs created from now on. Jobs already
// live keep the options they were built with.
func (m *Manager) ApplyConfig(cfg *config.Config) error {
	opts, err := engineOptions(cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.layout = viewer.LayoutFromConfig(cfg.Layout)
	m.engineOpts = opts
	m.mu.Unlock()
	return nil
}

func engineOptions(cfg *config.Config) (reconcile.Options, error) {
	fill, err := viewer.ParseHexColor(cfg.Redaction.FillColor)
	if err != nil {
		return reconcile.Options{}, fmt.Errorf("redaction.fill_color: %w", err)
	}
	highlight, err := viewer.ParseHexColor(cfg.Redaction.HighlightColor)
	if err != nil {
		return reconcile.Options{}, fmt.Errorf("redaction.highlight_color: %w", err)
	}
	return reconcile.Options{
		DefaultMatch:   matchOptions(cfg.Match.Default),
		PreviewMatch:   matchOptions(cfg.Match.Preview),
		RedactionFill:  fill,
		HighlightColor: highlight,
		Overlay:        cfg.Redaction.Overlay,
		RepeatOverlay:  cfg.Redaction.RepeatOverlay,
	}, nil
}

func matchOptions(rule config.MatchRule) viewer.MatchOptions {
	return viewer.MatchOptions{
		CaseSensitive: rule.CaseSensitive,
		WholeWord:     rule.WholeWord,
	}
}

// Start launches the eviction janitor. Job processing inherits ctx, so
// cancelling it aborts in-flight detection on shutdown.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx = ctx
	go m.janitor(ctx)
}

func (m *Manager) janitor(ctx context.Context) {
	m.mu.RLock()
	interval := m.cfg.Session.CleanupInterval
	m.mu.RUnlock()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictIdle()
			m.updateGauges()
		}
	}
}

func (m *Manager) evictIdle() {
	m.mu.RLock()
	ttl := m.cfg.Session.TTL
	m.mu.RUnlock()
	if ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var expired []*Job
	for id, job := range m.jobs {
		if job.lastAccessed().Before(cutoff) {
			expired = append(expired, job)
			delete(m.jobs, id)
		}
	}
	m.mu.Unlock()

	for _, job := range expired {
		job.queue.Close()
		m.log.Info("Evicted idle job",
			zap.String("job_id", job.ID),
			zap.String("document", job.DocumentName))
	}
}

func (m *Manager) updateGauges() {
	m.mu.RLock()
	live := len(m.jobs)
	depth := 0
	for _, job := range m.jobs {
		depth += job.queue.Len()
	}
	m.mu.RUnlock()

	m.metrics.SetJobsLive(live)
	m.metrics.SetQueueDepth(depth)
}

// CreateTextJob registers a job for raw text and starts detection in the
// background. The returned job is in status pending.
func (m *Manager) CreateTextJob(name, text string, opts CreateOptions) (*Job, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	m.mu.RLock()
	layout := m.layout
	m.mu.RUnlock()

	doc := extract.Document{
		Name:  name,
		Pages: paginate(text, layout),
	}
	if !doc.HasText() {
		return nil, ErrNoText
	}

	job, err := m.register(doc, "text")
	if err != nil {
		return nil, err
	}
	go m.process(job, opts, func(ctx context.Context) (*pii.Result, error) {
		return m.analyze.AnalyzeText(ctx, text)
	})
	return job, nil
}

// CreatePDFJob extracts text from the uploaded PDF synchronously, then
// starts detection in the background. Extraction failures surface here so
// the caller can reject the upload outright.
func (m *Manager) CreatePDFJob(filename string, content []byte, opts CreateOptions) (*Job, error) {
	doc, err := extract.Read(filename, bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", filename, err)
	}
	if !doc.HasText() {
		return nil, ErrNoText
	}

	job, err := m.register(doc, "pdf")
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	sendFile := m.cfg.Detection.SendFile
	m.mu.RUnlock()

	go m.process(job, opts, func(ctx context.Context) (*pii.Result, error) {
		if sendFile {
			return m.analyze.AnalyzePDF(ctx, filename, bytes.NewReader(content))
		}
		return m.analyze.AnalyzeText(ctx, doc.FullText())
	})
	return job, nil
}

func (m *Manager) register(doc extract.Document, source string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if max := m.cfg.Session.MaxJobs; max > 0 && len(m.jobs) >= max {
		return nil, ErrTooManyJobs
	}

	pages := make([]viewer.Page, len(doc.Pages))
	for i, text := range doc.Pages {
		pages[i] = viewer.Page{Number: i + 1, Text: text}
	}

	reg := registry.New()
	store := viewer.NewMemStore()
	q := queue.New(queue.Options{OpTimeout: m.cfg.Queue.OpTimeout}, m.log)
	locator := viewer.NewTextLocator(pages, m.layout)
	engine := reconcile.New(reg, locator, store, q, m.engineOpts, m.metrics, m.log)

	job := &Job{
		ID:           uuid.NewString(),
		DocumentName: doc.Name,
		Source:       source,
		CreatedAt:    time.Now(),
		engine:       engine,
		store:        store,
		queue:        q,
		layout:       m.layout,
		status:       StatusPending,
		doc:          doc,
		lastAccess:   time.Now(),
	}
	m.jobs[job.ID] = job

	m.metrics.RecordJobCreated(source)
	m.metrics.SetJobsLive(len(m.jobs))
	return job, nil
}

// process runs detection and loads the findings into the job's engine.
func (m *Manager) process(job *Job, opts CreateOptions, detect func(context.Context) (*pii.Result, error)) {
	start := time.Now()
	job.setProcessing()
	m.broadcastJob(job, "")

	log := m.log.WithJobID(job.ID)
	result, err := detect(m.baseCtx)
	if err != nil {
		log.Error("Detection failed", zap.Error(err))
		job.fail(err.Error())
		m.broadcastJob(job, err.Error())
		return
	}
	if opts.MinConfidence > 0 {
		result.Entities = pii.FilterByConfidence(result.Entities, opts.MinConfidence)
		result.TotalEntities = len(result.Entities)
		result.Summary = pii.SummarizeConfidence(result.Entities)
	}
	result.TotalPages = len(job.Document().Pages)

	inputs := make([]registry.EntityInput, 0, len(result.Entities))
	for _, ent := range result.Entities {
		inputs = append(inputs, registry.EntityInput{
			Text:            ent.Text,
			Category:        ent.Category,
			ConfidenceScore: ent.ConfidenceScore,
			Offset:          ent.Offset,
			Length:          ent.Length,
		})
	}

	if _, err := job.engine.LoadEntities(m.baseCtx, inputs).Wait(m.baseCtx); err != nil {
		log.Error("Loading entities failed", zap.Error(err))
		job.fail(err.Error())
		m.broadcastJob(job, err.Error())
		return
	}
	if _, err := job.engine.RefreshHighlights(m.baseCtx).Wait(m.baseCtx); err != nil {
		log.Error("Highlighting entities failed", zap.Error(err))
	}

	job.complete(result, time.Since(start).Seconds())
	log.Info("Job completed",
		zap.String("document", job.DocumentName),
		zap.Int("entities", len(result.Entities)),
		zap.Float64("seconds", job.ProcessingTime()))

	m.broadcastJob(job, "")
	if m.hub != nil {
		m.hub.Broadcast(event.Event{
			Type:  event.EventTypeEntitiesLoaded,
			JobID: job.ID,
			Data: event.JobEvent{
				JobID:      job.ID,
				Status:     string(job.Status()),
				TotalPages: result.TotalPages,
				Entities:   len(result.Entities),
			},
		})
	}
}

func (m *Manager) broadcastJob(job *Job, message string) {
	if m.hub == nil {
		return
	}
	m.hub.Broadcast(event.Event{
		Type:  event.EventTypeJobUpdate,
		JobID: job.ID,
		Data: event.JobEvent{
			JobID:        job.ID,
			Status:       string(job.Status()),
			DocumentName: job.DocumentName,
			Message:      message,
		},
	})
}

// Get returns a live job and refreshes its eviction clock.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	job.Touch()
	return job, nil
}

// List returns all live jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Remove deletes a job and closes its queue.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		delete(m.jobs, id)
	}
	live := len(m.jobs)
	m.mu.Unlock()

	if !ok {
		return ErrJobNotFound
	}
	job.queue.Close()
	m.metrics.SetJobsLive(live)
	return nil
}

// Len returns the number of live jobs.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// Close stops the janitor and closes every job queue.
func (m *Manager) Close() {
	close(m.stop)

	m.mu.Lock()
	jobs := m.jobs
	m.jobs = make(map[string]*Job)
	m.mu.Unlock()

	for _, job := range jobs {
		job.queue.Close()
	}
}

// paginate splits text into pages holding as many wrapped lines as the
// layout fits vertically. Page boundaries land on line boundaries, so
// locating over one page reproduces the same wrapping.
func paginate(text string, layout viewer.PageLayout) []string {
	lines := viewer.WrapText(text, layout.Columns())
	if len(lines) == 0 {
		return nil
	}
	perPage := layout.LinesPerPage()

	var pages []string
	for start := 0; start < len(lines); start += perPage {
		end := start + perPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, text[lines[start].Start:lines[end-1].End])
	}
	return pages
}

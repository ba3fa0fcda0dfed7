package session

import (
	"sync"
	"time"

	"github.com/raaihank/doc-sentinel/internal/extract"
	"github.com/raaihank/doc-sentinel/internal/pii"
	"github.com/raaihank/doc-sentinel/internal/queue"
	"github.com/raaihank/doc-sentinel/internal/reconcile"
	"github.com/raaihank/doc-sentinel/internal/viewer"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job owns one document's reconciliation state: its registry, annotation
// store, locator and operation queue live and die with the job. Jobs are
// held in memory only and vanish on restart.
type Job struct {
	ID           string
	DocumentName string
	Source       string // "text" or "pdf"
	CreatedAt    time.Time

	engine *reconcile.Engine
	store  *viewer.MemStore
	queue  *queue.Queue
	layout viewer.PageLayout

	mu             sync.RWMutex
	status         Status
	failure        string
	doc            extract.Document
	result         *pii.Result
	processingTime float64
	lastAccess     time.Time
}

// Engine returns the job's reconciliation engine.
func (j *Job) Engine() *reconcile.Engine { return j.engine }

// Store returns the job's annotation store.
func (j *Job) Store() *viewer.MemStore { return j.store }

// Queue returns the job's operation queue.
func (j *Job) Queue() *queue.Queue { return j.queue }

// Layout returns the page model the job's annotations were located under.
func (j *Job) Layout() viewer.PageLayout { return j.layout }

// Status returns the lifecycle state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Failure returns the failure message for failed jobs.
func (j *Job) Failure() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.failure
}

// Document returns the extracted document.
func (j *Job) Document() extract.Document {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.doc
}

// Result returns the detection result, nil until the job completes.
func (j *Job) Result() *pii.Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// ProcessingTime returns the detection-and-load duration in seconds.
func (j *Job) ProcessingTime() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.processingTime
}

// Touch refreshes the idle-eviction clock.
func (j *Job) Touch() {
	j.mu.Lock()
	j.lastAccess = time.Now()
	j.mu.Unlock()
}

func (j *Job) lastAccessed() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastAccess
}

func (j *Job) setProcessing() {
	j.mu.Lock()
	j.status = StatusProcessing
	j.mu.Unlock()
}

func (j *Job) complete(result *pii.Result, seconds float64) {
	j.mu.Lock()
	j.status = StatusCompleted
	j.result = result
	j.processingTime = seconds
	j.mu.Unlock()
}

func (j *Job) fail(msg string) {
	j.mu.Lock()
	j.status = StatusFailed
	j.failure = msg
	j.mu.Unlock()
}

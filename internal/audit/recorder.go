// Package audit persists redaction activity to Postgres. The trail is
// operational evidence of what was redacted when; it is not a job store
// and holds no document content.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/logger"
)

// Event actions.
const (
	ActionApply  = "apply"
	ActionRemove = "remove"
	ActionClear  = "clear"
	ActionExport = "export"
)

// Event is one recorded redaction action.
type Event struct {
	ID              int64     `db:"id" json:"id" csv:"id" parquet:"id"`
	JobID           string    `db:"job_id" json:"job_id" csv:"job_id" parquet:"job_id"`
	DocumentName    string    `db:"document_name" json:"document_name" csv:"document_name" parquet:"document_name"`
	EntityID        string    `db:"entity_id" json:"entity_id" csv:"entity_id" parquet:"entity_id"`
	Category        string    `db:"category" json:"category" csv:"category" parquet:"category"`
	Action          string    `db:"action" json:"action" csv:"action" parquet:"action"`
	AnnotationCount int       `db:"annotation_count" json:"annotation_count" csv:"annotation_count" parquet:"annotation_count"`
	CreatedAt       time.Time `db:"created_at" json:"created_at" csv:"created_at" parquet:"created_at,timestamp"`
}

// Stats summarizes the recorded trail.
type Stats struct {
	TotalEvents int64            `json:"total_events"`
	ByAction    map[string]int64 `json:"by_action"`
	FirstEvent  *time.Time       `json:"first_event,omitempty"`
	LastEvent   *time.Time       `json:"last_event,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS redaction_events (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	document_name TEXT NOT NULL DEFAULT '',
	entity_id TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	annotation_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_redaction_events_created_at ON redaction_events (created_at);
CREATE INDEX IF NOT EXISTS idx_redaction_events_job_id ON redaction_events (job_id);
`

// Recorder writes and reads the redaction event trail.
type Recorder struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewRecorder connects to the database and ensures the schema exists.
func NewRecorder(cfg config.AuditConfig, log *logger.Logger) (*Recorder, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	r := &Recorder{
		db:  db,
		log: log.WithComponent("audit"),
	}

	if err := r.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	r.log.Info("Audit trail initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return r, nil
}

func (r *Recorder) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema setup failed: %w", err)
	}
	return nil
}

// Record inserts one event. Callers treat failures as warnings: the audit
// trail must never block redaction work.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	query := `
		INSERT INTO redaction_events (job_id, document_name, entity_id, category, action, annotation_count)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.ExecContext(ctx, query,
		e.JobID, e.DocumentName, e.EntityID, e.Category, e.Action, e.AnnotationCount); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	r.log.Debug("Event recorded",
		zap.String("job_id", e.JobID),
		zap.String("action", e.Action),
		zap.Int("annotation_count", e.AnnotationCount))
	return nil
}

// Recent returns the newest events, most recent first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var events []Event
	query := `SELECT * FROM redaction_events ORDER BY created_at DESC, id DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

// EventsSince returns events recorded at or after since, oldest first.
func (r *Recorder) EventsSince(ctx context.Context, since time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 10000
	}

	var events []Event
	query := `SELECT * FROM redaction_events WHERE created_at >= $1 ORDER BY created_at ASC, id ASC LIMIT $2`
	if err := r.db.SelectContext(ctx, &events, query, since, limit); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

// GetStats summarizes the trail.
func (r *Recorder) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByAction: make(map[string]int64)}

	rows, err := r.db.QueryxContext(ctx, `SELECT action, COUNT(*) FROM redaction_events GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.ByAction[action] = count
		stats.TotalEvents += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stats rows: %w", err)
	}

	if stats.TotalEvents > 0 {
		var first, last time.Time
		if err := r.db.QueryRowxContext(ctx,
			`SELECT MIN(created_at), MAX(created_at) FROM redaction_events`).Scan(&first, &last); err != nil {
			return nil, fmt.Errorf("failed to query event range: %w", err)
		}
		stats.FirstEvent = &first
		stats.LastEvent = &last
	}

	return stats, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// maskDatabaseURL hides credentials in connection strings for logging.
func maskDatabaseURL(url string) string {
	if at := strings.LastIndex(url, "@"); at >= 0 {
		if scheme := strings.Index(url, "://"); scheme >= 0 {
			return url[:scheme+3] + "***:***" + url[at:]
		}
	}
	return url
}

// Package report exports the audit trail to analyst-friendly files.
// The output format follows the file extension: parquet, csv, or
// line-delimited JSON.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/doc-sentinel/internal/audit"
	"github.com/raaihank/doc-sentinel/internal/logger"
)

// Format represents supported output formats
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// DetectFormat detects the output format from the file extension.
func DetectFormat(filename string) Format {
	switch {
	case len(filename) >= 8 && filename[len(filename)-8:] == ".parquet":
		return FormatParquet
	case len(filename) >= 5 && filename[len(filename)-5:] == ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// Options selects what to export and where.
type Options struct {
	// Output is the destination path; its extension picks the format.
	Output string
	// Since keeps only events recorded at or after it. Zero exports all.
	Since time.Time
	// Limit caps the number of exported events. Zero means no cap.
	Limit int
}

// Summary describes a completed export.
type Summary struct {
	Output   string        `json:"output"`
	Format   Format        `json:"format"`
	Events   int           `json:"events"`
	Duration time.Duration `json:"duration"`
}

// Writer pulls events from the audit trail and writes report files.
type Writer struct {
	recorder *audit.Recorder
	log      *logger.Logger
}

// NewWriter creates a report writer.
func NewWriter(rec *audit.Recorder, log *logger.Logger) *Writer {
	return &Writer{
		recorder: rec,
		log:      log.WithComponent("report"),
	}
}

// Write exports the selected events. The destination file is created or
// truncated.
func (w *Writer) Write(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()

	events, err := w.recorder.EventsSince(ctx, opts.Since, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("loading audit events: %w", err)
	}

	format := DetectFormat(opts.Output)
	w.log.Info("Writing report",
		zap.String("output", opts.Output),
		zap.String("format", string(format)),
		zap.Int("events", len(events)))

	file, err := os.Create(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", opts.Output, err)
	}
	defer file.Close()

	switch format {
	case FormatParquet:
		err = writeParquet(file, events)
	case FormatCSV:
		err = writeCSV(file, events)
	case FormatJSON:
		err = writeJSON(file, events)
	}
	if err != nil {
		return nil, fmt.Errorf("writing %s report: %w", format, err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("closing %s: %w", opts.Output, err)
	}

	return &Summary{
		Output:   opts.Output,
		Format:   format,
		Events:   len(events),
		Duration: time.Since(start),
	}, nil
}

// Stats summarizes the trail without exporting it.
func (w *Writer) Stats(ctx context.Context) (*audit.Stats, error) {
	return w.recorder.GetStats(ctx)
}

func writeParquet(f *os.File, events []audit.Event) error {
	writer := parquet.NewWriter(f, parquet.SchemaOf(new(audit.Event)))
	for i := range events {
		if err := writer.Write(&events[i]); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return writer.Close()
}

func writeCSV(f *os.File, events []audit.Event) error {
	writer := csv.NewWriter(f)
	header := []string{"id", "job_id", "document_name", "entity_id", "category", "action", "annotation_count", "created_at"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for i, e := range events {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.JobID,
			e.DocumentName,
			e.EntityID,
			e.Category,
			e.Action,
			strconv.Itoa(e.AnnotationCount),
			e.CreatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeJSON writes one JSON object per line.
func writeJSON(f *os.File, events []audit.Event) error {
	enc := json.NewEncoder(f)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

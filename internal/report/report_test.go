package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raaihank/doc-sentinel/internal/audit"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		filename string
		want     Format
	}{
		{"events.parquet", FormatParquet},
		{"events.json", FormatJSON},
		{"events.csv", FormatCSV},
		{"events.txt", FormatCSV},
		{"events", FormatCSV},
		{".parquet", FormatParquet},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.filename); got != tc.want {
			t.Errorf("DetectFormat(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func sampleEvents() []audit.Event {
	created := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	return []audit.Event{
		{
			ID:              1,
			JobID:           "job-a",
			DocumentName:    "report.pdf",
			EntityID:        "ent-1",
			Category:        "Email",
			Action:          audit.ActionApply,
			AnnotationCount: 2,
			CreatedAt:       created,
		},
		{
			ID:              2,
			JobID:           "job-a",
			Action:          audit.ActionClear,
			AnnotationCount: 3,
			CreatedAt:       created.Add(time.Minute),
		},
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := writeCSV(f, sampleEvents()); err != nil {
		t.Fatalf("writeCSV: %v", err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "id" || rows[0][5] != "action" {
		t.Errorf("Header = %v", rows[0])
	}
	if rows[1][1] != "job-a" || rows[1][4] != "Email" || rows[1][6] != "2" {
		t.Errorf("Row 1 = %v", rows[1])
	}
	if rows[2][5] != "clear" {
		t.Errorf("Row 2 action = %q", rows[2][5])
	}
	if rows[1][7] != "2025-06-01T10:30:00Z" {
		t.Errorf("Row 1 created_at = %q", rows[1][7])
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := writeJSON(f, sampleEvents()); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var decoded []audit.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e audit.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Line %d: %v", len(decoded)+1, err)
		}
		decoded = append(decoded, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(decoded) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(decoded))
	}
	if decoded[0].Category != "Email" || decoded[0].AnnotationCount != 2 {
		t.Errorf("Event 1 = %+v", decoded[0])
	}
	if decoded[1].Action != audit.ActionClear {
		t.Errorf("Event 2 action = %q", decoded[1].Action)
	}
}

func TestWriteParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := writeParquet(f, sampleEvents()); err != nil {
		t.Fatalf("writeParquet: %v", err)
	}
	f.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("Parquet file is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content[:4]) != "PAR1" {
		t.Errorf("Magic = %q", content[:4])
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/doc-sentinel/internal/audit"
	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/report"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		output     = flag.String("output", "", "Output file (.parquet, .csv, or .json)")
		since      = flag.Duration("since", 0, "Export only events newer than this age (e.g. 24h), 0 exports all")
		limit      = flag.Int("limit", 0, "Maximum number of events to export, 0 means all")
		showStats  = flag.Bool("stats", false, "Show audit trail statistics and exit")
	)
	flag.Parse()

	if *output == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output events.parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output events.csv --since 24h\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --output events.json --limit 1000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Audit.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "audit.database_url is not configured; nothing to report on")
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling...")
		cancel()
	}()

	recorder, err := audit.NewRecorder(cfg.Audit, log)
	if err != nil {
		log.Fatal("Failed to connect to audit database", zap.Error(err))
	}
	defer recorder.Close()

	writer := report.NewWriter(recorder, log)

	if *showStats {
		if err := showTrailStats(ctx, writer); err != nil {
			log.Fatal("Failed to get audit stats", zap.Error(err))
		}
		return
	}

	opts := report.Options{
		Output: *output,
		Limit:  *limit,
	}
	if *since > 0 {
		opts.Since = time.Now().Add(-*since)
	}

	summary, err := writer.Write(ctx, opts)
	if err != nil {
		log.Fatal("Report generation failed", zap.Error(err))
	}

	log.Info("Report written",
		zap.String("output", summary.Output),
		zap.String("format", string(summary.Format)),
		zap.Int("events", summary.Events),
		zap.Duration("duration", summary.Duration))
}

// showTrailStats displays audit trail statistics
func showTrailStats(ctx context.Context, writer *report.Writer) error {
	stats, err := writer.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Redaction Audit Trail ===\n")
	fmt.Printf("Total Events:   %d\n", stats.TotalEvents)

	actions := make([]string, 0, len(stats.ByAction))
	for action := range stats.ByAction {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		fmt.Printf("  %-8s      %d\n", action, stats.ByAction[action])
	}

	if stats.FirstEvent != nil {
		fmt.Printf("First Event:    %s\n", stats.FirstEvent.Format(time.RFC3339))
	}
	if stats.LastEvent != nil {
		fmt.Printf("Last Event:     %s\n", stats.LastEvent.Format(time.RFC3339))
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/cache"
	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/etl"
	"github.com/veilware/textveil/internal/langdetect"
	"github.com/veilware/textveil/internal/logger"
	"github.com/veilware/textveil/internal/mapping"
	"github.com/veilware/textveil/internal/model"
	"github.com/veilware/textveil/internal/patterns"
	"github.com/veilware/textveil/internal/pseudonymizer"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		outputFile = flag.String("output", "", "Output file (defaults to <input>.pseudonymized.<ext>)")
		batchSize  = flag.Int("batch-size", 500, "Batch size for processing")
		language   = flag.String("language", "auto", "Language code (de, en, or auto)")
		sessionID  = flag.String("session", "", "Mapping session to reuse (empty starts a fresh one)")
		noFormat   = flag.Bool("collapse-whitespace", false, "Collapse whitespace left behind by replacements")
		skipModel  = flag.Bool("skip-model", false, "Run pattern-only, ignoring the configured model")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input dataset.csv --batch-size 1000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input records.jsonl --language de\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input dataset.parquet --session 8f14e45f\n", os.Args[0])
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

	log.Info("Starting textveil ETL pipeline",
		zap.String("input", *inputFile),
		zap.String("language", *language))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	// Check if file exists
	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", zap.String("file", *inputFile))
	}

	engine, cleanup, err := buildEngine(cfg, *skipModel, log)
	if err != nil {
		log.Fatal("Failed to initialize engine", zap.Error(err))
	}
	defer cleanup()

	etlConfig := etl.DefaultConfig()
	etlConfig.BatchSize = *batchSize
	etlConfig.Language = *language
	etlConfig.SessionID = *sessionID
	etlConfig.PreserveFormatting = !*noFormat
	etlConfig.MaxTextLength = cfg.Engine.MaxTextLength

	output := *outputFile
	if output == "" {
		output = defaultOutputPath(*inputFile)
	}

	pipeline := etl.NewPipeline(engine, etlConfig, log.Logger)
	result, err := pipeline.ProcessFile(ctx, *inputFile, output)
	if err != nil {
		log.Fatal("ETL processing failed", zap.Error(err))
	}

	log.Info("Dataset processing completed",
		zap.String("input", *inputFile),
		zap.String("output", output),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("entities", result.EntityCount),
		zap.String("session_id", result.SessionID),
		zap.Duration("total_duration", result.Duration),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))

	if result.Degraded {
		log.Warn("Model detection was unavailable for part of the run; results are pattern-only",
			zap.Strings("warnings", result.Errors))
	}
}

// buildEngine assembles the detection stack from configuration
func buildEngine(cfg *config.Config, skipModel bool, log *logger.Logger) (*pseudonymizer.Engine, func(), error) {
	detector, err := patterns.New(cfg.Patterns, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure pattern detectors: %w", err)
	}

	var adapter *model.Adapter
	if cfg.Model.Enabled && !skipModel {
		client := model.NewClient(cfg.Model.URL, cfg.Model.Timeout)
		adapter = model.NewAdapter(client, cfg.Model, log)
	}

	cleanup := func() {}
	var detectionCache *cache.DetectionCache
	if cfg.Cache.Enabled {
		detectionCache, err = cache.New(cfg.Cache, log.Logger)
		if err != nil {
			log.Warn("Detection cache unavailable, continuing without it", zap.Error(err))
			detectionCache = nil
		} else {
			cleanup = func() { detectionCache.Close() }
		}
	}

	engine := pseudonymizer.New(
		cfg.Engine,
		detector,
		adapter,
		langdetect.NewStopword(),
		mapping.NewStore(log),
		detectionCache,
		log,
	)
	return engine, cleanup, nil
}

// defaultOutputPath inserts .pseudonymized before the input's extension
func defaultOutputPath(input string) string {
	if idx := strings.LastIndex(input, "."); idx > 0 {
		return input[:idx] + ".pseudonymized" + input[idx:]
	}
	return input + ".pseudonymized"
}

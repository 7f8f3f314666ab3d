package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/etl"
	"github.com/raaihank/phi-guard/internal/logger"
	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/service"
	"github.com/raaihank/phi-guard/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		inputPath  = flag.String("input", "", "Input file (.csv, .parquet, .json, .jsonl)")
		outputPath = flag.String("output", "", "Output file; format follows the extension")
		batchSize  = flag.Int("batch-size", 0, "Records per batch (overrides config)")
		workers    = flag.Int("workers", 0, "Concurrent workers (overrides config)")
		tenant     = flag.String("tenant", "", "Tenant for records without a tenant_id column")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if *inputPath == "" || *outputPath == "" {
		fmt.Println("PHI Guard ETL - batch redaction of clinical text")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  phi-etl -input notes.csv -output sanitized.parquet [-tenant clinic-a]")
		fmt.Println()
		fmt.Println("Input columns: id, tenant_id, session_id, text (only text is required)")
		fmt.Println("Output columns: id, sanitized_text, mapping_id, persisted, match_count")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if *verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	etlConfig := cfg.ETL
	if *batchSize > 0 {
		etlConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		etlConfig.WorkerCount = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tenants, err := config.NewTenantProvider(cfg)
	if err != nil {
		log.Fatal("Invalid tenant configuration", zap.Error(err))
	}

	mappings, err := store.New(cfg.Store, log.WithComponent("store").Logger)
	if err != nil {
		log.Fatal("Failed to open mapping store", zap.Error(err))
	}
	defer mappings.Close()

	if cfg.Store.Driver == "" || cfg.Store.Driver == "memory" {
		log.Warn("Mapping store is in-memory; mappings written by this run are lost when it exits")
	}

	var audit service.AuditSink
	if cfg.Audit.Enabled && cfg.Audit.LogEvents {
		audit = service.NewLogSink(log)
	}

	redactor := privacy.NewRedactor(privacy.NewDetector(privacy.DefaultCatalog(), log.WithComponent("privacy")))
	svc := service.New(redactor, mappings, log, service.Options{
		OpTimeout: cfg.Store.OpTimeout,
		Audit:     audit,
	})

	pipeline := etl.NewPipeline(svc, tenants, etlConfig, log.WithComponent("etl").Logger).
		WithDefaultTenant(*tenant)

	result, err := pipeline.ProcessFile(ctx, *inputPath, *outputPath)
	if err != nil {
		log.Error("ETL processing failed", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("\nETL Processing Complete\n")
	fmt.Printf("  Records:          %d\n", result.TotalRecords)
	fmt.Printf("  Sanitized:        %d\n", result.ProcessedOK)
	fmt.Printf("  Invalid:          %d\n", result.Invalid)
	fmt.Printf("  Persist failures: %d\n", result.PersistFailures)
	fmt.Printf("  Redactions:       %d\n", result.Redactions)
	fmt.Printf("  Duration:         %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nFirst errors:\n")
		for i, e := range result.Errors {
			if i == 10 {
				fmt.Printf("  ... %d more\n", len(result.Errors)-10)
				break
			}
			fmt.Printf("  %s\n", e)
		}
	}

	if result.PersistFailures > 0 {
		os.Exit(2)
	}
}

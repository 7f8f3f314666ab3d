package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/service"
)

// Pipeline sanitizes datasets record by record through the service
type Pipeline struct {
	service       *service.Service
	policies      PolicySource
	config        config.ETLConfig
	defaultTenant string
	logger        *zap.Logger
}

// NewPipeline creates a new ETL pipeline
func NewPipeline(svc *service.Service, policies PolicySource, cfg config.ETLConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &Pipeline{
		service:  svc,
		policies: policies,
		config:   cfg,
		logger:   logger,
	}
}

// WithDefaultTenant sets the tenant used for records that carry none
func (p *Pipeline) WithDefaultTenant(tenantID string) *Pipeline {
	p.defaultTenant = tenantID
	return p
}

// ProcessFile reads inputPath, sanitizes every record, and writes outputPath.
// Formats follow the file extensions.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	inFormat, err := DetectFileFormat(inputPath)
	if err != nil {
		return nil, err
	}
	outFormat, err := DetectFileFormat(outputPath)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Starting ETL pipeline",
		zap.String("input", inputPath),
		zap.String("input_format", string(inFormat)),
		zap.String("output", outputPath),
		zap.String("output_format", string(outFormat)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	reader, err := openReader(inputPath, inFormat)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	writer, err := createWriter(outputPath, outFormat)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &ProcessingResult{}

	runErr := p.run(ctx, reader, writer, result)
	if err := writer.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to finalize output: %w", err)
	}
	result.Duration = time.Since(start)

	if runErr != nil {
		return result, runErr
	}

	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("persist_failures", result.PersistFailures),
		zap.Int64("redactions", result.Redactions),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// run processes batches until the reader is exhausted
func (p *Pipeline) run(ctx context.Context, reader recordReader, writer recordWriter, result *ProcessingResult) error {
	var row int64
	nextReport := int64(p.config.ProgressReport)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := make([]*InputRecord, 0, p.config.BatchSize)
		eof := false
		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read record %d: %w", row+1, err)
			}
			row++
			if record.ID == "" {
				record.ID = strconv.FormatInt(row, 10)
			}
			batch = append(batch, record)
		}

		if len(batch) > 0 {
			outputs := p.processBatch(ctx, batch, result)
			for _, out := range outputs {
				if out == nil {
					continue
				}
				if err := writer.Write(out); err != nil {
					return fmt.Errorf("failed to write record %s: %w", out.ID, err)
				}
			}

			if p.config.ProgressReport > 0 && result.TotalRecords >= nextReport {
				p.reportProgress(result)
				nextReport += int64(p.config.ProgressReport)
			}
		}

		if eof {
			return nil
		}
	}
}

type recordOutcome struct {
	output         *OutputRecord
	invalid        string
	persistFailure bool
}

// processBatch sanitizes a batch on the worker pool. Outputs keep input order;
// invalid records yield nil.
func (p *Pipeline) processBatch(ctx context.Context, batch []*InputRecord, result *ProcessingResult) []*OutputRecord {
	outcomes := make([]recordOutcome, len(batch))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.config.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.processRecord(ctx, batch[i])
			}
		}()
	}
	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	outputs := make([]*OutputRecord, len(batch))
	for i, o := range outcomes {
		result.TotalRecords++
		if o.invalid != "" {
			result.Invalid++
			if len(result.Errors) < maxErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("record %s: %s", batch[i].ID, o.invalid))
			}
			continue
		}
		if o.persistFailure {
			result.PersistFailures++
		}
		result.ProcessedOK++
		result.Redactions += o.output.MatchCount
		outputs[i] = o.output
	}
	return outputs
}

func (p *Pipeline) processRecord(ctx context.Context, record *InputRecord) recordOutcome {
	tenant := record.TenantID
	if tenant == "" {
		tenant = p.defaultTenant
	}
	if tenant == "" {
		return recordOutcome{invalid: "missing tenant_id"}
	}
	if p.config.MaxTextLength > 0 && len(record.Text) > p.config.MaxTextLength {
		return recordOutcome{invalid: fmt.Sprintf("text exceeds %d bytes", p.config.MaxTextLength)}
	}

	owner := privacy.OwnerScope{TenantID: tenant, SessionID: record.SessionID}
	outcome, err := p.service.Sanitize(ctx, owner, record.Text, p.policies.Policy(tenant))

	var persistErr *service.PersistenceError
	if err != nil && !errors.As(err, &persistErr) {
		return recordOutcome{invalid: err.Error()}
	}

	return recordOutcome{
		output: &OutputRecord{
			ID:            record.ID,
			SanitizedText: outcome.Result.SanitizedText,
			MappingID:     outcome.Result.MappingID,
			Persisted:     outcome.Persisted,
			MatchCount:    int64(len(outcome.Result.Matches)),
		},
		persistFailure: persistErr != nil,
	}
}

// reportProgress logs progress information
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.logger.Info("ETL progress",
		zap.Int64("records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("redactions", result.Redactions))
}

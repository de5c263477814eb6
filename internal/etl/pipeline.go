package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/pseudonymizer"
)

// Pipeline pseudonymizes dataset files record by record. All records in one
// run share a single mapping session, so the same name maps to the same
// placeholder across the whole file.
type Pipeline struct {
	engine *pseudonymizer.Engine
	config *Config
	logger *zap.Logger

	sessionID string
}

// NewPipeline creates a new ETL pipeline
func NewPipeline(engine *pseudonymizer.Engine, config *Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		engine: engine,
		config: config,
		logger: logger,
	}
}

// ProcessFile pseudonymizes a dataset file (CSV, Parquet, or JSON lines) and
// writes the result next to it in the same format. The mapping table for the
// run is written to outputPath + ".mappings.json".
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	p.logger.Info("Starting ETL pipeline",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("batch_size", p.config.BatchSize))

	start := time.Now()
	result := &ProcessingResult{SessionID: p.config.SessionID}
	p.sessionID = p.config.SessionID

	format := DetectFileFormat(inputPath)
	p.logger.Info("Detected file format", zap.String("format", string(format)))

	writer, err := newRecordWriter(format, outputPath)
	if err != nil {
		return result, fmt.Errorf("failed to open output: %w", err)
	}
	defer writer.Close()

	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, inputPath, writer, result)
	case FormatParquet:
		err = p.processParquet(ctx, inputPath, writer, result)
	case FormatJSON:
		err = p.processJSON(ctx, inputPath, writer, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return result, err
	}

	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("failed to finalize output: %w", err)
	}

	if err := p.exportMappings(outputPath + ".mappings.json"); err != nil {
		p.logger.Warn("Failed to export mappings", zap.Error(err))
		result.Errors = append(result.Errors, err.Error())
	}

	result.Duration = time.Since(start)
	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("entity_count", result.EntityCount),
		zap.Bool("degraded", result.Degraded),
		zap.String("session_id", result.SessionID),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

// processCSV processes CSV files with an id,text,language header
func (p *Pipeline) processCSV(ctx context.Context, filePath string, writer recordWriter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 3 // id, text, language

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord

		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				result.ProcessedFailed++
				continue
			}
			if len(record) != 3 {
				p.logger.Warn("Invalid CSV record length", zap.Int("length", len(record)))
				result.ProcessedFailed++
				continue
			}

			dataRecord := &DataRecord{
				ID:       strings.TrimSpace(record[0]),
				Text:     record[1],
				Language: strings.ToLower(strings.TrimSpace(record[2])),
			}
			if p.validateRecord(dataRecord) {
				batch = append(batch, dataRecord)
			} else {
				result.ProcessedFailed++
			}
		}

		return batch, nil
	}, writer, result)
}

// processParquet processes Parquet files
func (p *Pipeline) processParquet(ctx context.Context, filePath string, writer recordWriter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord

		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read Parquet record", zap.Error(err))
				result.ProcessedFailed++
				continue
			}

			if p.validateRecord(&record) {
				batch = append(batch, &record)
			} else {
				result.ProcessedFailed++
			}
		}

		return batch, nil
	}, writer, result)
}

// processJSON processes JSON files (one JSON object per line)
func (p *Pipeline) processJSON(ctx context.Context, filePath string, writer recordWriter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord

		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read JSON record", zap.Error(err))
				result.ProcessedFailed++
				continue
			}

			if p.validateRecord(&record) {
				batch = append(batch, &record)
			} else {
				result.ProcessedFailed++
			}
		}

		return batch, nil
	}, writer, result)
}

// processBatches drains the reader function batch by batch
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DataRecord, error), writer recordWriter, result *ProcessingResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if err := p.processBatch(ctx, batch, writer, result); err != nil {
			return err
		}

		if p.config.ProgressReport > 0 && result.TotalRecords%int64(p.config.ProgressReport) < int64(p.config.BatchSize) {
			p.reportProgress(result)
		}
	}

	return nil
}

// processBatch pseudonymizes one batch and writes the rewritten records
func (p *Pipeline) processBatch(ctx context.Context, batch []*DataRecord, writer recordWriter, result *ProcessingResult) error {
	texts := make([]string, len(batch))
	for i, record := range batch {
		texts[i] = record.Text
	}

	language := p.config.Language
	if language == "" {
		language = "auto"
	}

	detectStart := time.Now()
	res, err := p.engine.Pseudonymize(ctx, texts, pseudonymizer.Options{
		Language:           language,
		PreserveFormatting: p.config.PreserveFormatting,
		SessionID:          p.sessionID,
	})
	if err != nil {
		return fmt.Errorf("batch pseudonymization failed: %w", err)
	}
	result.DetectionTime += time.Since(detectStart)

	// Later batches reuse the session the first batch created.
	p.sessionID = res.SessionID
	result.SessionID = res.SessionID

	result.EntityCount += int64(res.EntityCount)
	if result.EntityCounts == nil {
		result.EntityCounts = make(map[string]int)
	}
	for entityType, count := range res.EntityCounts {
		result.EntityCounts[entityType] += count
	}
	if res.Degraded {
		result.Degraded = true
		for _, warning := range res.Warnings {
			if !contains(result.Errors, warning) {
				result.Errors = append(result.Errors, warning)
			}
		}
	}

	writeStart := time.Now()
	for i, record := range batch {
		out := &DataRecord{
			ID:       record.ID,
			Text:     res.Texts[i],
			Language: res.DetectedLanguage,
		}
		if err := writer.Write(out); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	result.WriteTime += time.Since(writeStart)

	result.TotalRecords += int64(len(batch))
	result.ProcessedOK += int64(len(batch))
	return nil
}

// exportMappings writes the session's mapping table as a JSON sidecar
func (p *Pipeline) exportMappings(path string) error {
	if p.sessionID == "" {
		return nil
	}

	payload := p.engine.ExportMappings(p.sessionID)
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize mappings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write mappings file: %w", err)
	}

	p.logger.Info("Mapping table exported",
		zap.String("file", path),
		zap.Int("mappings", len(payload.Mappings)))
	return nil
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(record *DataRecord) bool {
	if !p.config.ValidateData {
		return true
	}

	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text", zap.String("id", record.ID))
		return false
	}
	if p.config.MaxTextLength > 0 && len(record.Text) > p.config.MaxTextLength {
		p.logger.Debug("Invalid record: text too long",
			zap.String("id", record.ID),
			zap.Int("length", len(record.Text)))
		return false
	}

	return true
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("entities", result.EntityCount))
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// recordWriter writes rewritten records in the output format
type recordWriter interface {
	Write(record *DataRecord) error
	Close() error
}

func newRecordWriter(format FileFormat, path string) (recordWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		w := csv.NewWriter(file)
		if err := w.Write([]string{"id", "text", "language"}); err != nil {
			file.Close()
			return nil, err
		}
		return &csvRecordWriter{file: file, writer: w}, nil
	case FormatParquet:
		return &parquetRecordWriter{file: file, writer: parquet.NewWriter(file)}, nil
	case FormatJSON:
		return &jsonRecordWriter{file: file, encoder: json.NewEncoder(file)}, nil
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

type csvRecordWriter struct {
	file   *os.File
	writer *csv.Writer
	closed bool
}

func (w *csvRecordWriter) Write(record *DataRecord) error {
	return w.writer.Write([]string{record.ID, record.Text, record.Language})
}

func (w *csvRecordWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type parquetRecordWriter struct {
	file   *os.File
	writer *parquet.Writer
	closed bool
}

func (w *parquetRecordWriter) Write(record *DataRecord) error {
	return w.writer.Write(record)
}

func (w *parquetRecordWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type jsonRecordWriter struct {
	file    *os.File
	encoder *json.Encoder
	closed  bool
}

func (w *jsonRecordWriter) Write(record *DataRecord) error {
	return w.encoder.Encode(record)
}

func (w *jsonRecordWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

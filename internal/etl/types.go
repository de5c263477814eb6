package etl

import (
	"time"
)

// DataRecord represents a single record from the input dataset
type DataRecord struct {
	ID       string `csv:"id" parquet:"id" json:"id"`
	Text     string `csv:"text" parquet:"text" json:"text"`
	Language string `csv:"language" parquet:"language" json:"language"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64          `json:"total_records"`
	ProcessedOK     int64          `json:"processed_ok"`
	ProcessedFailed int64          `json:"processed_failed"`
	EntityCount     int64          `json:"entity_count"`
	EntityCounts    map[string]int `json:"entity_counts,omitempty"`
	Degraded        bool           `json:"degraded"`
	SessionID       string         `json:"session_id"`
	Duration        time.Duration  `json:"duration"`
	DetectionTime   time.Duration  `json:"detection_time"`
	WriteTime       time.Duration  `json:"write_time"`
	Errors          []string       `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize          int    `yaml:"batch_size" mapstructure:"batch_size"`                   // 500
	Language           string `yaml:"language" mapstructure:"language"`                       // auto
	SessionID          string `yaml:"session_id" mapstructure:"session_id"`                   // empty = fresh
	PreserveFormatting bool   `yaml:"preserve_formatting" mapstructure:"preserve_formatting"` // true
	ValidateData       bool   `yaml:"validate_data" mapstructure:"validate_data"`             // true
	ProgressReport     int    `yaml:"progress_report" mapstructure:"progress_report"`         // 1000
	MaxTextLength      int    `yaml:"max_text_length" mapstructure:"max_text_length"`         // 100000
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:          500,
		Language:           "auto",
		PreserveFormatting: true,
		ValidateData:       true,
		ProgressReport:     1000,
		MaxTextLength:      100_000,
	}
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch {
	case len(filename) >= 4 && filename[len(filename)-4:] == ".csv":
		return FormatCSV
	case len(filename) >= 8 && filename[len(filename)-8:] == ".parquet":
		return FormatParquet
	case len(filename) >= 6 && filename[len(filename)-6:] == ".jsonl":
		return FormatJSON
	case len(filename) >= 5 && filename[len(filename)-5:] == ".json":
		return FormatJSON
	default:
		return FormatCSV // Default to CSV
	}
}

package etl

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/phi-guard/internal/privacy"
)

// InputRecord is one row of text to sanitize
type InputRecord struct {
	ID        string `parquet:"id" json:"id"`
	TenantID  string `parquet:"tenant_id" json:"tenant_id"`
	SessionID string `parquet:"session_id" json:"session_id"`
	Text      string `parquet:"text" json:"text"`
}

// OutputRecord is the sanitized form of an InputRecord. It never contains original values.
type OutputRecord struct {
	ID            string `parquet:"id" json:"id"`
	SanitizedText string `parquet:"sanitized_text" json:"sanitized_text"`
	MappingID     string `parquet:"mapping_id" json:"mapping_id"`
	Persisted     bool   `parquet:"persisted" json:"persisted"`
	MatchCount    int64  `parquet:"match_count" json:"match_count"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	Invalid         int64         `json:"invalid"`
	PersistFailures int64         `json:"persist_failures"`
	Redactions      int64         `json:"redactions"`
	Duration        time.Duration `json:"duration"`
	Errors          []string      `json:"errors,omitempty"`
}

// PolicySource resolves the policy for a tenant
type PolicySource interface {
	Policy(tenantID string) privacy.Policy
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", filepath.Ext(filename))
	}
}

// maxErrors bounds ProcessingResult.Errors
const maxErrors = 100

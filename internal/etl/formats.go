package etl

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
)

type recordReader interface {
	// Read returns io.EOF after the last record
	Read() (*InputRecord, error)
	Close() error
}

type recordWriter interface {
	Write(record *OutputRecord) error
	Close() error
}

func openReader(path string, format FileFormat) (recordReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	switch format {
	case FormatCSV:
		r, err := newCSVReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return r, nil
	case FormatParquet:
		return &parquetReader{file: file, reader: parquet.NewReader(file)}, nil
	case FormatJSON:
		return &jsonReader{file: file, decoder: json.NewDecoder(bufio.NewReader(file))}, nil
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

func createWriter(path string, format FileFormat) (recordWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}

	switch format {
	case FormatCSV:
		w := csv.NewWriter(file)
		if err := w.Write([]string{"id", "sanitized_text", "mapping_id", "persisted", "match_count"}); err != nil {
			file.Close()
			return nil, err
		}
		return &csvWriter{file: file, writer: w}, nil
	case FormatParquet:
		return &parquetWriter{file: file, writer: parquet.NewWriter(file, parquet.SchemaOf(new(OutputRecord)))}, nil
	case FormatJSON:
		buf := bufio.NewWriter(file)
		return &jsonWriter{file: file, buf: buf, encoder: json.NewEncoder(buf)}, nil
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

// --- CSV ----------------------------------------------------------------

type csvReader struct {
	file    *os.File
	reader  *csv.Reader
	columns map[string]int
}

func newCSVReader(file *os.File) (*csvReader, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := columns["text"]; !ok {
		return nil, fmt.Errorf("CSV header has no text column")
	}

	return &csvReader{file: file, reader: reader, columns: columns}, nil
}

func (r *csvReader) Read() (*InputRecord, error) {
	row, err := r.reader.Read()
	if err != nil {
		return nil, err
	}

	field := func(name string) string {
		i, ok := r.columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	return &InputRecord{
		ID:        strings.TrimSpace(field("id")),
		TenantID:  strings.TrimSpace(field("tenant_id")),
		SessionID: strings.TrimSpace(field("session_id")),
		Text:      field("text"),
	}, nil
}

func (r *csvReader) Close() error { return r.file.Close() }

type csvWriter struct {
	file   *os.File
	writer *csv.Writer
}

func (w *csvWriter) Write(record *OutputRecord) error {
	return w.writer.Write([]string{
		record.ID,
		record.SanitizedText,
		record.MappingID,
		strconv.FormatBool(record.Persisted),
		strconv.FormatInt(record.MatchCount, 10),
	})
}

func (w *csvWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// --- Parquet ------------------------------------------------------------

type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
}

func (r *parquetReader) Read() (*InputRecord, error) {
	var record InputRecord
	if err := r.reader.Read(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *parquetReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}

type parquetWriter struct {
	file   *os.File
	writer *parquet.Writer
}

func (w *parquetWriter) Write(record *OutputRecord) error {
	return w.writer.Write(record)
}

func (w *parquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// --- JSON lines -----------------------------------------------------------

type jsonReader struct {
	file    *os.File
	decoder *json.Decoder
}

func (r *jsonReader) Read() (*InputRecord, error) {
	var record InputRecord
	if err := r.decoder.Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *jsonReader) Close() error { return r.file.Close() }

type jsonWriter struct {
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
}

func (w *jsonWriter) Write(record *OutputRecord) error {
	return w.encoder.Encode(record)
}

func (w *jsonWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

var (
	_ recordWriter = (*csvWriter)(nil)
	_ recordWriter = (*parquetWriter)(nil)
	_ recordWriter = (*jsonWriter)(nil)
)

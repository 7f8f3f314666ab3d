package etl

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/logger"
	"github.com/raaihank/phi-guard/internal/service"
	"github.com/raaihank/phi-guard/internal/store"
)

func newTestPipeline(t *testing.T, cfg config.ETLConfig) (*Pipeline, *store.MemoryStore) {
	t.Helper()

	defaults := config.GetDefaults()
	tenants, err := config.NewTenantProvider(defaults)
	require.NoError(t, err)

	mem := store.NewMemoryStore(nil)
	svc := service.New(nil, mem, logger.NewNop(), service.Options{})
	return NewPipeline(svc, tenants, cfg, zap.NewNop()), mem
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func readJSONLines(t *testing.T, path string) []OutputRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []OutputRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec OutputRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestProcessCSVToJSON(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "notes.csv")
	out := filepath.Join(dir, "notes.jsonl")

	writeFile(t, in, strings.Join([]string{
		"id,tenant_id,session_id,text",
		`1,clinic-a,s1,"Patient John Smith, DOB: 01/02/1990, SSN: 123-45-6789"`,
		"2,clinic-a,s1,no sensitive data here",
		`3,,s1,"SSN: 123-45-6789"`,
		`4,clinic-b,s2,"Call 555-234-5678 or email jane.doe@hospital.org"`,
	}, "\n")+"\n")

	p, mem := newTestPipeline(t, config.ETLConfig{BatchSize: 2, WorkerCount: 3, ProgressReport: 1})
	result, err := p.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, int64(4), result.TotalRecords)
	assert.Equal(t, int64(3), result.ProcessedOK)
	assert.Equal(t, int64(1), result.Invalid)
	assert.Equal(t, int64(0), result.PersistFailures)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "missing tenant_id")

	records := readJSONLines(t, out)
	require.Len(t, records, 3)

	// Input order is preserved across workers and batches
	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, "2", records[1].ID)
	assert.Equal(t, "4", records[2].ID)

	assert.NotContains(t, records[0].SanitizedText, "123-45-6789")
	assert.True(t, records[0].Persisted)
	assert.NotEmpty(t, records[0].MappingID)
	assert.Equal(t, int64(3), records[0].MatchCount)

	assert.Equal(t, "no sensitive data here", records[1].SanitizedText)
	assert.Empty(t, records[1].MappingID)
	assert.Equal(t, int64(0), records[1].MatchCount)

	assert.NotContains(t, records[2].SanitizedText, "555-234-5678")
	assert.NotContains(t, records[2].SanitizedText, "jane.doe@hospital.org")

	assert.Equal(t, 2, mem.Len())
}

func TestProcessJSONToParquet(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "notes.jsonl")
	out := filepath.Join(dir, "notes.parquet")

	writeFile(t, in,
		`{"id":"a","tenant_id":"clinic-a","session_id":"s","text":"SSN: 123-45-6789"}`+"\n"+
			`{"id":"b","tenant_id":"clinic-a","session_id":"s","text":"nothing to see"}`+"\n")

	p, _ := newTestPipeline(t, config.ETLConfig{BatchSize: 10, WorkerCount: 2})
	result, err := p.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.ProcessedOK)
	assert.Equal(t, int64(1), result.Redactions)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	reader := parquet.NewReader(f)
	defer reader.Close()

	var rows []OutputRecord
	for {
		var row OutputRecord
		err := reader.Read(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}

	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "SSN: [PHI_SSN_1]", rows[0].SanitizedText)
	assert.True(t, rows[0].Persisted)
	assert.Equal(t, "nothing to see", rows[1].SanitizedText)
}

func TestProcessParquetToCSV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.parquet")
	out := filepath.Join(dir, "output.csv")

	f, err := os.Create(in)
	require.NoError(t, err)
	w := parquet.NewWriter(f, parquet.SchemaOf(new(InputRecord)))
	require.NoError(t, w.Write(&InputRecord{ID: "x", TenantID: "clinic-a", Text: "Email: jane.doe@hospital.org"}))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	p, _ := newTestPipeline(t, config.ETLConfig{BatchSize: 10, WorkerCount: 1})
	_, err = p.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)

	csvFile, err := os.Open(out)
	require.NoError(t, err)
	defer csvFile.Close()

	rows, err := csv.NewReader(csvFile).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"id", "sanitized_text", "mapping_id", "persisted", "match_count"}, rows[0])
	assert.Equal(t, "x", rows[1][0])
	assert.Equal(t, "Email: [PHI_EMAIL_1]", rows[1][1])
	assert.Equal(t, "true", rows[1][3])
	assert.Equal(t, "1", rows[1][4])
}

func TestDefaultTenantAndLimits(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")

	writeFile(t, in, "text\nSSN: 123-45-6789\n"+strings.Repeat("x", 64)+"\n")

	p, _ := newTestPipeline(t, config.ETLConfig{BatchSize: 10, WorkerCount: 2, MaxTextLength: 32})
	p.WithDefaultTenant("clinic-a")

	result, err := p.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ProcessedOK)
	assert.Equal(t, int64(1), result.Invalid)
	assert.Contains(t, result.Errors[0], "record 2")
}

func TestDetectFileFormat(t *testing.T) {
	cases := map[string]FileFormat{
		"a.csv":        FormatCSV,
		"A.CSV":        FormatCSV,
		"b.parquet":    FormatParquet,
		"c.json":       FormatJSON,
		"d.jsonl":      FormatJSON,
		"dir/e.ndjson": FormatJSON,
	}
	for name, want := range cases {
		got, err := DetectFileFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := DetectFileFormat("notes.txt")
	assert.Error(t, err)
}

func TestCSVWithoutTextColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	writeFile(t, in, "id,body\n1,hello\n")

	p, _ := newTestPipeline(t, config.ETLConfig{})
	_, err := p.ProcessFile(context.Background(), in, filepath.Join(dir, "out.jsonl"))
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testConfig = `
store:
  driver: memory
logging:
  level: error
tenants:
  Clinic-A:
    mode: auto
    categories:
      ssn: true
      email: true
    reidentification:
      allowed: true
      mapping_ttl_hours: 1
  archive:
    reidentification:
      allowed: false
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSanitizeCommand(t *testing.T) {
	cfg := writeConfig(t)

	t.Run("JSONRoundtrip", func(t *testing.T) {
		out, err := run(t, "", "--config", cfg, "sanitize", "--tenant", "clinic-a", "--output", "json", "--roundtrip",
			"SSN: 123-45-6789, email jane.doe@hospital.org")
		require.NoError(t, err)

		var report sanitizeReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, "SSN: [PHI_SSN_1], email [PHI_EMAIL_1]", report.SanitizedText)
		assert.True(t, report.Persisted)
		assert.NotEmpty(t, report.MappingID)
		assert.Equal(t, "SSN: 123-45-6789, email jane.doe@hospital.org", report.Restored)
	})

	t.Run("Stdin", func(t *testing.T) {
		out, err := run(t, "SSN: 123-45-6789\n", "--config", cfg, "--no-color", "sanitize", "--tenant", "clinic-a")
		require.NoError(t, err)
		assert.Contains(t, out, "SSN: [PHI_SSN_1]")
		assert.NotContains(t, out, "123-45-6789")
	})

	t.Run("YAMLNotPersisted", func(t *testing.T) {
		out, err := run(t, "", "--config", cfg, "sanitize", "--tenant", "archive", "--output", "yaml", "SSN: 123-45-6789")
		require.NoError(t, err)

		var report sanitizeReport
		require.NoError(t, yaml.Unmarshal([]byte(out), &report))
		assert.Equal(t, "SSN: [PHI_SSN_1]", report.SanitizedText)
		assert.Empty(t, report.MappingID)
		assert.False(t, report.Persisted)
		assert.Equal(t, "reidentification_not_allowed", report.Reason)
		assert.Equal(t, 1, report.Counts["SSN"])
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		_, err := run(t, "", "--config", cfg, "sanitize", "--output", "xml", "hello")
		assert.Error(t, err)
	})
}

func TestReidentifyCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "", "--config", cfg, "reidentify", "--tenant", "clinic-a", "--mapping-id", "missing", "[PHI_SSN_1]")
	require.NoError(t, err)
	assert.Equal(t, "[PHI_SSN_1]\n", out)

	_, err = run(t, "", "--config", cfg, "reidentify", "[PHI_SSN_1]")
	assert.Error(t, err, "mapping-id is required")
}

func TestConfigCheckCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "", "--config", cfg, "config-check")
	require.NoError(t, err)

	var report configReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, "memory", report.Store)
	assert.Equal(t, "auto", report.Default.Mode)
	assert.NotContains(t, report.Default.Enabled, "DIAGNOSIS")

	tenant, ok := report.Tenants["clinic-a"]
	require.True(t, ok)
	assert.Equal(t, []string{"EMAIL", "SSN"}, tenant.Enabled)
	assert.Equal(t, 1.0, tenant.Reidentification.MappingTTLHours)
}

func TestCatalogCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "", "--config", cfg, "--no-color", "catalog", "--tenant", "clinic-a")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 11)
	assert.Contains(t, lines[1], "SSN")
	assert.Contains(t, lines[1], "yes")
	assert.Contains(t, lines[len(lines)-1], "TREATMENT")
	assert.Contains(t, lines[len(lines)-1], "no")
}

package load

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idfm-analytics/transport-ingest/pkg/errors"
	"github.com/idfm-analytics/transport-ingest/pkg/jsonx"
)

func writeArtifact(t *testing.T, dir, name string, records []map[string]interface{}) string {
	t.Helper()
	data, err := jsonx.MarshalIndent(records, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNDJSONFromArtifact(t *testing.T) {
	records := []map[string]interface{}{
		{"stop_name": "CHATELET", "validation_count": 1000},
		{"stop_name": "GARE DU NORD", "validation_count": 1500},
		{"stop_name": "NATION", "validation_count": 720},
	}
	path := writeArtifact(t, t.TempDir(), "validations_2024-01-01_2024-01-02.json", records)

	ndjson, err := ndjsonFromArtifact(path)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimRight(ndjson, "\n"), []byte("\n"))
	require.Len(t, lines, 3)

	for i, line := range lines {
		var rec map[string]interface{}
		require.NoError(t, jsonx.Unmarshal(line, &rec))
		assert.Equal(t, records[i]["stop_name"], rec["stop_name"])

		count, ok := rec["validation_count"].(jsonx.Number)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprint(records[i]["validation_count"]), count.String())
	}
}

func TestNDJSONFromArtifactPreservesNumericNotation(t *testing.T) {
	// A rate like 95.5 must not come back as 95.500000
	path := filepath.Join(t.TempDir(), "punctuality_2024-01_2024-01.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"punctuality_rate": 95.5, "trains_planned": 12000}]`), 0o644))

	ndjson, err := ndjsonFromArtifact(path)
	require.NoError(t, err)

	assert.Contains(t, string(ndjson), "95.5")
	assert.NotContains(t, string(ndjson), "95.500000")
	assert.Contains(t, string(ndjson), "12000")
}

func TestNDJSONFromArtifactRejectsNonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"total_count": 1}`), 0o644))

	_, err := ndjsonFromArtifact(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMalformed))
}

func TestNDJSONFromArtifactMissingFile(t *testing.T) {
	_, err := ndjsonFromArtifact(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestPlanDispositions(t *testing.T) {
	assert.Equal(t,
		[]bigquery.TableWriteDisposition{bigquery.WriteAppend, bigquery.WriteAppend, bigquery.WriteAppend},
		planDispositions(3, false))

	assert.Equal(t,
		[]bigquery.TableWriteDisposition{bigquery.WriteTruncate, bigquery.WriteAppend, bigquery.WriteAppend},
		planDispositions(3, true))

	assert.Equal(t,
		[]bigquery.TableWriteDisposition{bigquery.WriteTruncate},
		planDispositions(1, true))

	assert.Empty(t, planDispositions(0, true))
}

func TestLatestArtifact(t *testing.T) {
	files := []string{
		"data/referentials/ref_lines_20260110.json",
		"data/referentials/ref_lines_20260226.json",
		"data/referentials/ref_lines_20251231.json",
	}

	assert.Equal(t, "data/referentials/ref_lines_20260226.json", latestArtifact(files))
}

func TestListArtifactsSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "validations_2024-01-03_2024-01-04.json", []map[string]interface{}{{"a": 1}})
	writeArtifact(t, dir, "validations_2024-01-01_2024-01-02.json", []map[string]interface{}{{"a": 1}})
	writeArtifact(t, dir, "punctuality_2024-01_2024-01.json", []map[string]interface{}{{"a": 1}})

	files, err := listArtifacts(dir, "validations")
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "validations_2024-01-01_2024-01-02.json"), files[0])
	assert.Equal(t, filepath.Join(dir, "validations_2024-01-03_2024-01-04.json"), files[1])
}

func TestListArtifactsMissingDirectory(t *testing.T) {
	files, err := listArtifacts(filepath.Join(t.TempDir(), "absent"), "validations")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestClassifyJobError(t *testing.T) {
	schemaErr := fmt.Errorf("Provided Schema does not match Table project.dataset.raw_validations")
	err := classifyJobError(schemaErr, bigquery.WriteAppend)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))

	err = classifyJobError(schemaErr, bigquery.WriteTruncate)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	err = classifyJobError(fmt.Errorf("quota exceeded"), bigquery.WriteAppend)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestRawTableSchemasCoverMetadataColumns(t *testing.T) {
	for table, schema := range rawTableSchemas {
		names := make(map[string]bool, len(schema))
		for _, field := range schema {
			names[field.Name] = true
		}
		assert.True(t, names["ingestion_ts"], "table %s missing ingestion_ts", table)
		assert.True(t, names["source"], "table %s missing source", table)
	}
}

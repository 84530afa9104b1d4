package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripKeepsNumericNotation(t *testing.T) {
	input := []byte(`[{"punctuality_rate": 95.5, "trains_planned": 12000, "stop_id": "401"}]`)

	var records []map[string]interface{}
	require.NoError(t, Unmarshal(input, &records))
	require.Len(t, records, 1)

	rate, ok := records[0]["punctuality_rate"].(Number)
	require.True(t, ok)
	assert.Equal(t, "95.5", rate.String())

	out, err := Marshal(records)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"punctuality_rate":95.5`)
	assert.Contains(t, string(out), `"trains_planned":12000`)
}

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	out, err := Marshal(map[string]string{"name": "CHATELET <LES HALLES> & CIE"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<LES HALLES> &")
}

func TestMarshalTrimsTrailingNewline(t *testing.T) {
	out, err := Marshal(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "\n")
}

func TestMarshalIndent(t *testing.T) {
	out, err := MarshalIndent([]map[string]string{{"stop": "NATION"}}, "", "  ")
	require.NoError(t, err)
	assert.Contains(t, string(out), "\n  {")
}

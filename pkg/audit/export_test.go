package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportJSON(t *testing.T) {
	data, err := exportJSON(sampleRecords())
	require.NoError(t, err)

	var parsed []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed, 2)
	assert.Equal(t, "users", parsed[0]["table_name"])
	assert.Equal(t, "admin-1", parsed[0]["user_id"])
}

func TestExportJSON_Empty(t *testing.T) {
	data, err := exportJSON([]*Record{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestExportNDJSON(t *testing.T) {
	data, err := exportNDJSON(sampleRecords())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Contains(t, rec, "key_values")
	}
}

func TestExportCSV(t *testing.T) {
	data, err := exportCSV(sampleRecords())
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"ID", "Timestamp", "TableName", "Action", "UserID", "KeyValues", "OldValues", "NewValues"}, rows[0])
	assert.Equal(t, []string{"1", "2024-05-01T10:00:00Z", "users", "Created", "admin-1", `{"id":1}`, "", `{"user_name":"alice"}`}, rows[1])
	assert.Equal(t, "", rows[2][4])
	assert.Equal(t, `{"name":"Ops"}`, rows[2][6])
}

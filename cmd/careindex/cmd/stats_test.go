package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/careindex/internal/telemetry"
)

func TestStatsCmd_Disabled(t *testing.T) {
	dir := newProject(t)

	stdout, _, err := execute(t, "stats", "-C", dir)

	require.NoError(t, err)
	assert.Contains(t, stdout, "Telemetry is disabled")
}

func TestStatsCmd_RecordsQueries(t *testing.T) {
	// Given: telemetry enabled and a built index
	dir := newProject(t)
	writeFile(t, dir, ".careindex.yaml", "telemetry:\n  enabled: true\n")
	_, _, err := execute(t, "query", "-C", dir, "chutes")
	require.Error(t, err)
	_, _, err = execute(t, "run", "-C", dir)
	require.NoError(t, err)

	// When: two questions are asked
	_, _, err = execute(t, "query", "-C", dir, "tapis", "barres", "d'appui")
	require.NoError(t, err)
	_, _, err = execute(t, "query", "-C", dir, "volets", "canicule")
	require.NoError(t, err)

	// Then
	stdout, _, err := execute(t, "stats", "-C", dir, "--json", "--days", "1")
	require.NoError(t, err)
	var snap telemetry.Snapshot
	require.NoError(t, json.Unmarshal([]byte(stdout), &snap))
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.Outcomes[telemetry.OutcomeNotReady])
	assert.Equal(t, int64(2), snap.Outcomes[telemetry.OutcomeAnswered])
	assert.NotEmpty(t, snap.TopTerms)

	stdout, _, err = execute(t, "stats", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 queries since")
	assert.Contains(t, stdout, "Frequent terms:")
}

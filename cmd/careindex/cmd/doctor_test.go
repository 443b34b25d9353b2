package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/careindex/internal/preflight"
)

func TestDoctorCmd_Ready(t *testing.T) {
	// Given: two fiches, one trusted site, the offline embedder
	dir := newProject(t)
	writeFile(t, dir, "config/trusted_sites.yaml",
		"sites:\n  - name: Ameli\n    domain: ameli.fr\n    urls: [https://www.ameli.fr/aidants]\n")

	// When
	stdout, _, err := execute(t, "doctor", "-C", dir, "-v")

	// Then
	require.NoError(t, err)
	assert.Contains(t, stdout, "2 fiches")
	assert.Contains(t, stdout, "1 sites, 1 pages")
	assert.Contains(t, stdout, "provider static")
}

func TestDoctorCmd_JSON(t *testing.T) {
	dir := newProject(t)

	stdout, _, err := execute(t, "doctor", "-C", dir, "--json")
	require.NoError(t, err)

	var got struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "ready_with_warnings", got.Status)
	require.Len(t, got.Checks, 5)
	assert.Equal(t, "trusted_sites", got.Checks[2].Name)
	assert.Equal(t, string(preflight.StatusWarn), got.Checks[2].Status)
}

func TestDoctorCmd_Failures(t *testing.T) {
	t.Run("invalid sites file", func(t *testing.T) {
		dir := newProject(t)
		writeFile(t, dir, "config/trusted_sites.yaml", "sites: [unclosed")

		stdout, _, err := execute(t, "doctor", "-C", dir)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "project check failed")
		assert.Contains(t, stdout, "Some required checks failed")
	})

	t.Run("invalid config", func(t *testing.T) {
		dir := newProject(t)
		writeFile(t, dir, ".careindex.yaml", "retrieval:\n  top_k_primary: -1\n")

		stdout, _, err := execute(t, "doctor", "-C", dir)

		require.Error(t, err)
		assert.Contains(t, stdout, "top_k_primary")
	})
}

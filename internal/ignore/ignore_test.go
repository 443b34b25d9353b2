package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPatterns(t *testing.T) {
	m := New()

	tests := []struct {
		path    string
		ignored bool
	}{
		{"fiche_chute.docx", false},
		{"~$fiche_chute.docx", true},
		{".~lock.fiche_chute.docx#", true},
		{"export.tmp", true},
		{"notes/.draft.swp", true},
		{".staging-web", true},
		{"sous-dossier/fiche.docx", false},
		{"ameli/prevenir-chutes.json", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ignored, m.Match(tt.path, false))
		})
	}
}

func TestMatcher_PatternForms(t *testing.T) {
	m := New(
		"archives/",
		"/brouillons",
		"**/old/*.docx",
		"*.bak",
		"!garder.bak",
	)

	// Given/When/Then: directory-only pattern ignores dir and contents
	assert.True(t, m.Match("archives", true))
	assert.True(t, m.Match("archives/2019/fiche.docx", false))
	assert.False(t, m.Match("archives", false))

	// anchored pattern only at root
	assert.True(t, m.Match("brouillons/fiche.docx", false))
	assert.False(t, m.Match("equipe/brouillons", false))

	// double star
	assert.True(t, m.Match("a/b/old/fiche.docx", false))
	assert.False(t, m.Match("a/b/old/fiche.json", false))

	// negation wins when later
	assert.True(t, m.Match("fiche.bak", false))
	assert.False(t, m.Match("garder.bak", false))
}

func TestMatcher_CommentsAndBlankLines(t *testing.T) {
	m := &Matcher{}
	m.Add("")
	m.Add("# comment")
	m.Add("   ")

	assert.Empty(t, m.rules)
	assert.False(t, m.Match("anything", false))
}

func TestLoadDir(t *testing.T) {
	// Given: a directory with an ignore file
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("# drafts\nbrouillon-*\n"), 0o644))

	// When: loading
	m, err := LoadDir(dir)

	// Then: defaults and file patterns both apply
	require.NoError(t, err)
	assert.True(t, m.Match("brouillon-aidant.docx", false))
	assert.True(t, m.Match("~$x.docx", false))
	assert.False(t, m.Match("aidant.docx", false))
}

func TestLoadDir_MissingFile(t *testing.T) {
	m, err := LoadDir(t.TempDir())

	require.NoError(t, err)
	assert.False(t, m.Match("fiche.docx", false))
}

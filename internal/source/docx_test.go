package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

func TestDocxConverter_SplitsSectionsAtHeadings(t *testing.T) {
	// Given: a fiche with a title, an intro and two headed sections
	src, out := t.TempDir(), t.TempDir()
	path := filepath.Join(src, "fiche_chute.docx")
	writeDocx(t, path, "",
		docxPara{Style: "Title", Text: "Prévention des chutes"},
		docxPara{Text: "Fiche à destination des aidants."},
		docxPara{Style: "Heading1", Text: "Aménager le domicile"},
		docxPara{Text: "Retirer les tapis."},
		docxPara{Text: "Éclairer les couloirs."},
		docxPara{Style: "Titre2", Text: "Après une chute"},
		docxPara{Text: "Ne pas relever la personne seul."},
	)
	conv := NewDocxConverter(src, out, nil)

	// When: materializing
	docs, err := conv.MaterializeDocx(context.Background(), []string{path})

	// Then: one document with three sections
	require.NoError(t, err)
	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(t, "fiche_chute", doc.ID)
	assert.Equal(t, KindDocx, doc.Kind)
	assert.Equal(t, "Prévention des chutes", doc.Title)
	require.Len(t, doc.Sections, 3)
	assert.Equal(t, "", doc.Sections[0].Heading)
	assert.Equal(t, "Aménager le domicile", doc.Sections[1].Heading)
	assert.Equal(t, "Retirer les tapis.\nÉclairer les couloirs.", doc.Sections[1].Text)
	assert.Equal(t, "Après une chute", doc.Sections[2].Heading)
	assert.Equal(t, "fiche_chute.docx", doc.Metadata.Path)

	// And: the fiche JSON was written
	assert.FileExists(t, filepath.Join(out, "fiche_chute.json"))
}

func TestDocxConverter_TitleFallbacks(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	withCore := filepath.Join(src, "a.docx")
	writeDocx(t, withCore, "Titre des propriétés", docxPara{Text: "corps"})
	bare := filepath.Join(src, "aide_au_repas.docx")
	writeDocx(t, bare, "", docxPara{Text: "corps"})

	docs, err := NewDocxConverter(src, out, nil).MaterializeDocx(context.Background(), []string{withCore, bare})

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Titre des propriétés", docs[0].Title)
	assert.Equal(t, "aide au repas", docs[1].Title)
}

func TestDocxConverter_IdempotentOutput(t *testing.T) {
	// Given: a converted fiche
	src, out := t.TempDir(), t.TempDir()
	path := filepath.Join(src, "f.docx")
	writeDocx(t, path, "F", docxPara{Style: "Heading1", Text: "H"}, docxPara{Text: "texte"})
	conv := NewDocxConverter(src, out, nil)
	_, err := conv.MaterializeDocx(context.Background(), []string{path})
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(out, "f.json"))
	require.NoError(t, err)

	// When: converting again
	_, err = conv.MaterializeDocx(context.Background(), []string{path})
	require.NoError(t, err)

	// Then: output bytes are unchanged
	second, err := os.ReadFile(filepath.Join(out, "f.json"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDocxConverter_SkipsCorruptFiles(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	good := filepath.Join(src, "good.docx")
	writeDocx(t, good, "Good", docxPara{Text: "ok"})
	bad := filepath.Join(src, "bad.docx")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))

	docs, err := NewDocxConverter(src, out, nil).MaterializeDocx(context.Background(), []string{bad, good})

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "good", docs[0].ID)
}

func TestDocxConverter_PruneRemovesStaleFiches(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	keep := filepath.Join(src, "keep.docx")
	writeDocx(t, keep, "Keep", docxPara{Text: "ok"})
	_, err := WriteDocument(out, &Document{ID: "gone", Kind: KindDocx})
	require.NoError(t, err)

	conv := NewDocxConverter(src, out, nil)
	docs, err := conv.MaterializeDocx(context.Background(), []string{keep})
	require.NoError(t, err)
	require.NoError(t, conv.Prune(docs))

	assert.FileExists(t, filepath.Join(out, "keep.json"))
	assert.NoFileExists(t, filepath.Join(out, "gone.json"))
}

func TestDocxConverter_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDocxConverter(t.TempDir(), t.TempDir(), nil).MaterializeDocx(ctx, []string{"x.docx"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDocxConverter_Fiche(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	path := filepath.Join(src, "sommeil", "nuit.docx")
	writeDocx(t, path, "Nuits calmes", docxPara{Text: "Rituel du coucher"})
	conv := NewDocxConverter(src, out, nil)
	docs, err := conv.MaterializeDocx(context.Background(), []string{path})
	require.NoError(t, err)

	fiche, err := conv.Fiche("sommeil/nuit")

	require.NoError(t, err)
	assert.Equal(t, docs[0], *fiche)

	_, err = conv.Fiche("absente")
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeFileRead))
}

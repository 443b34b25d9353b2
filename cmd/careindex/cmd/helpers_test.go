package cmd

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points HOME and the user config dir at temp dirs so tests never
// read or write the developer's files.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

// execute runs the root command and returns stdout and stderr separately.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// newProject creates a project dir with default layout and two fiches.
func newProject(t *testing.T) string {
	t.Helper()
	isolate(t)
	dir := t.TempDir()
	writeFiche(t, filepath.Join(dir, "data", "docx", "chutes.docx"), "Prévenir les chutes",
		"Fixez les tapis au sol et dégagez les passages. Installez des barres d'appui dans la salle de bain "+
			"et un éclairage la nuit entre la chambre et les toilettes. Des chaussures fermées limitent les glissades.")
	writeFiche(t, filepath.Join(dir, "data", "docx", "canicule.docx"), "Canicule",
		"Faites boire la personne régulièrement même sans soif. Fermez les volets le jour et aérez la nuit. "+
			"Rafraîchissez la peau avec un linge humide et surveillez les signes de déshydratation.")
	return dir
}

// writeFiche builds a minimal .docx with a title and one paragraph.
func writeFiche(t *testing.T, path, title, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`+
		`<w:p><w:r><w:t>%s</w:t></w:r></w:p></w:body></w:document>`, text)
	require.NoError(t, err)
	w, err = zw.Create("docProps/core.xml")
	require.NoError(t, err)
	_, err = fmt.Fprintf(w, `<?xml version="1.0"?><cp:coreProperties `+
		`xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" `+
		`xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>%s</dc:title></cp:coreProperties>`, title)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

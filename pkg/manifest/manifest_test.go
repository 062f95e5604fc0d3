package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadFromBytes_YAML(t *testing.T) {
	data := `
version: "1"
inputs:
  - scans/*.pdf
options:
  formats: [md, docx]
  enable_figure: false
  chunk_size: 5
  file_options:
    scans/a.pdf:
      start: 2
      end: 4
export: s3://archive/ocr/
`
	m, err := LoadFromBytes([]byte(data), "batch.yaml")
	require.NoError(t, err)

	assert.Equal(t, "1", m.Version)
	assert.Equal(t, []string{"scans/*.pdf"}, m.Inputs)
	require.NotNil(t, m.Options)
	assert.Equal(t, []string{"md", "docx"}, m.Options.Formats)
	assert.False(t, m.Options.EnableFigure)
	require.NotNil(t, m.Options.ChunkSize)
	assert.Equal(t, 5, *m.Options.ChunkSize)
	fo, ok := m.Options.ForInput("scans/a.pdf")
	require.True(t, ok)
	assert.Equal(t, 2, *fo.Start)
	assert.Equal(t, "s3://archive/ocr/", m.Export)
}

func TestLoadFromBytes_JSONDefaults(t *testing.T) {
	m, err := LoadFromBytes([]byte(`{"inputs": ["a.pdf"]}`), "batch.json")
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, m.Version)
	require.NotNil(t, m.Options)
	assert.Equal(t, []string{"md"}, m.Options.Formats)
	assert.True(t, m.Options.EnableFigure)
}

func TestLoadFromBytes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		path    string
		wantErr string
	}{
		{"empty", "  \n", "m.yaml", "empty"},
		{"no inputs", "inputs: []\n", "m.yaml", "validation failed"},
		{"blank input", "inputs: [\"\"]\n", "m.yaml", "validation failed"},
		{"bad version", "version: \"2\"\ninputs: [a.pdf]\n", "m.yaml", "validation failed"},
		{"unknown field", "inputs: [a.pdf]\nbogus: 1\n", "m.yaml", "invalid YAML"},
		{"unknown json field", `{"inputs":["a.pdf"],"bogus":1}`, "m.json", "invalid JSON"},
		{"bad options", "inputs: [a.pdf]\noptions:\n  chunk_size: 0\n", "m.yaml", "ChunkSize"},
		{"reversed range", "inputs: [a.pdf]\noptions:\n  file_options:\n    a.pdf: {start: 5, end: 2}\n", "m.yml", "before start page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data), tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromBytes_UnknownExtensionFallsBack(t *testing.T) {
	m, err := LoadFromBytes([]byte(`{"inputs":["a.pdf"]}`), "batch.manifest")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, m.Inputs)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	writeFile(t, path, "inputs: [a.pdf]\n")

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, m.Inputs)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader("inputs: [x.png]\n"), "stdin.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.png"}, m.Inputs)
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scans", "b.pdf"), "b")
	writeFile(t, filepath.Join(dir, "scans", "a.pdf"), "a")
	writeFile(t, filepath.Join(dir, "scans", "deep", "c.pdf"), "c")
	writeFile(t, filepath.Join(dir, "scans", "notes.txt"), "n")
	writeFile(t, filepath.Join(dir, "single.png"), "p")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scans", "dir.pdf"), 0755))

	got, err := ExpandInputs([]string{"scans/**/*.pdf", "single.png", "scans/a.pdf"}, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "scans", "a.pdf"),
		filepath.Join(dir, "scans", "b.pdf"),
		filepath.Join(dir, "scans", "deep", "c.pdf"),
		filepath.Join(dir, "single.png"),
	}, got)
}

func TestExpandInputs_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.pdf"), "a")

	tests := []struct {
		name    string
		entries []string
		wantErr string
	}{
		{"missing literal", []string{"nope.pdf"}, "input not found"},
		{"no matches", []string{"*.docx"}, "matched no files"},
		{"directory literal", []string{"."}, "not a regular file"},
		{"bad pattern", []string{"[a.pdf"}, "invalid input pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExpandInputs(tt.entries, dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManifest_ResolveRekeysFileOptions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scans", "a.pdf"), "a")

	m, err := LoadFromBytes([]byte(`
inputs: [scans/a.pdf]
options:
  formats: [md]
  file_options:
    scans/a.pdf: {start: 1, end: 3}
`), "batch.yaml")
	require.NoError(t, err)

	inputs, opts, err := m.Resolve(dir)
	require.NoError(t, err)
	want := filepath.Join(dir, "scans", "a.pdf")
	assert.Equal(t, []string{want}, inputs)

	fo, ok := opts.ForInput(want)
	require.True(t, ok)
	assert.Equal(t, 3, *fo.End)
}

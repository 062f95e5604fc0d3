package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRenderMarkdownHTML(t *testing.T) {
	out, err := RenderMarkdownHTML([]byte("# 請求書\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "<h1>請求書</h1>")
	assert.Contains(t, out, "<table>")

	out, err = RenderMarkdownHTML([]byte("<script>alert(1)</script>\n"))
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestMarkdownTitle(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"# Title\n\nbody", "Title"},
		{"intro\n\n## Second level\n", "Second level"},
		{"no headings here", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MarkdownTitle([]byte(tt.src)), tt.src)
	}
}

func TestSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "date"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "2026-01-19"))
	_, err := f.NewSheet("Totals")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Totals", "A1", 42))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	sheets, err := Sheets(path)
	require.NoError(t, err)
	assert.Equal(t, []SheetInfo{{Name: "Sheet1", Rows: 2}, {Name: "Totals", Rows: 1}}, sheets)

	info, err := Describe(path)
	require.NoError(t, err)
	assert.Equal(t, KindSpreadsheet, info.Kind)
	assert.Len(t, info.Sheets, 2)
}

func TestDescribe(t *testing.T) {
	dir := t.TempDir()
	md := filepath.Join(dir, "a_merged.md")
	require.NoError(t, os.WriteFile(md, []byte("# Report\n"), 0o644))

	info, err := Describe(md)
	require.NoError(t, err)
	assert.Equal(t, "a_merged.md", info.Name)
	assert.Equal(t, KindMarkdown, info.Kind)
	assert.Equal(t, "Report", info.Title)
	assert.EqualValues(t, 9, info.Size)

	bogus := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(bogus, []byte("not a pdf"), 0o644))
	info, err = Describe(bogus)
	require.NoError(t, err)
	assert.Nil(t, info.PageCount)

	_, err = PDFPageCount(bogus)
	assert.Error(t, err)

	_, err = Describe(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindWord, KindOf("x.DOCX"))
	assert.Equal(t, KindCSV, KindOf("table_1.csv"))
	assert.Equal(t, KindOther, KindOf("x.json"))
}

package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies an artifact by extension.
type Kind string

const (
	KindMarkdown    Kind = "markdown"
	KindWord        Kind = "docx"
	KindSpreadsheet Kind = "xlsx"
	KindCSV         Kind = "csv"
	KindPDF         Kind = "pdf"
	KindOther       Kind = "other"
)

// KindOf returns the artifact kind for path.
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return KindMarkdown
	case ".docx":
		return KindWord
	case ".xlsx":
		return KindSpreadsheet
	case ".csv":
		return KindCSV
	case ".pdf":
		return KindPDF
	default:
		return KindOther
	}
}

// Info is what DescribeOutput reports about one artifact.
type Info struct {
	Name       string      `json:"name"`
	Path       string      `json:"path"`
	Kind       Kind        `json:"kind"`
	Size       int64       `json:"size"`
	ModifiedAt time.Time   `json:"modifiedAt"`
	Title      string      `json:"title,omitempty"`
	PageCount  *int        `json:"pageCount,omitempty"`
	Sheets     []SheetInfo `json:"sheets,omitempty"`
}

// Describe stats path and adds kind-specific metadata. Metadata that cannot
// be read is omitted; only a failed stat is an error.
func Describe(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat artifact: %w", err)
	}

	info := Info{
		Name:       filepath.Base(path),
		Path:       path,
		Kind:       KindOf(path),
		Size:       st.Size(),
		ModifiedAt: st.ModTime().UTC(),
	}

	switch info.Kind {
	case KindMarkdown:
		if b, err := os.ReadFile(path); err == nil {
			info.Title = MarkdownTitle(b)
		}
	case KindSpreadsheet:
		if sheets, err := Sheets(path); err == nil {
			info.Sheets = sheets
		}
	case KindPDF:
		if n, err := PDFPageCount(path); err == nil {
			info.PageCount = &n
		}
	}
	return info, nil
}

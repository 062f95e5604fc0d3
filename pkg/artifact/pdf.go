package artifact

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFPageCount reads the page count of a PDF file.
func PDFPageCount(path string) (int, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context: %w", err)
	}
	return ctx.PageCount, nil
}

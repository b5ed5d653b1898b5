package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mandolyte/mdtopdf"
)

// ConvertMarkdownToPDF renders a written report as an A4 PDF beside it and
// returns the absolute PDF path.
func ConvertMarkdownToPDF(reportPath string) (string, error) {
	ext := filepath.Ext(reportPath)
	if ext != ".md" {
		return "", fmt.Errorf("input file must have .md extension: %s", reportPath)
	}

	markdown, err := os.ReadFile(reportPath)
	if err != nil {
		return "", fmt.Errorf("os.ReadFile(%s) > %w", reportPath, err)
	}

	pdfPath, err := filepath.Abs(reportPath[:len(reportPath)-len(ext)] + ".pdf")
	if err != nil {
		return "", fmt.Errorf("filepath.Abs(%s) > %w", reportPath, err)
	}
	if err := mdtopdf.NewPdfRenderer("P", "A4", pdfPath, "", nil, mdtopdf.LIGHT).Process(markdown); err != nil {
		return "", fmt.Errorf("mdtopdf.Process(%s) > %w", pdfPath, err)
	}
	return pdfPath, nil
}

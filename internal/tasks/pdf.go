package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-pdf/fpdf"
)

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// Document is the payload of a generate_pdf job.
type Document struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// renderPDF writes doc to path as a single A4 document.
func renderPDF(path string, doc Document) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.Title, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, doc.Title, "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	for _, line := range doc.Lines {
		pdf.MultiCell(0, 6, line, "", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("tasks: render pdf: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tasks: create pdf dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("tasks: write pdf: %w", err)
	}
	return nil
}

// pdfFilename derives a file name from the job id, falling back to the title.
func pdfFilename(jobID, title string) string {
	name := jobID
	if name == "" {
		name = strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
	}
	name = unsafeFilename.ReplaceAllString(name, "")
	if name == "" {
		name = "document"
	}
	return name + ".pdf"
}

package extractors

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/dslipak/pdf"

	"knowledge-ingest/internal/models"
)

// PDFParser extracts plain text from PDF documents
type PDFParser struct{}

// CanParse accepts the PDF MIME type, extension, or magic bytes
func (p *PDFParser) CanParse(data []byte, mimeType, filename string) bool {
	if mimeType == "application/pdf" || extOf(filename) == ".pdf" {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// Parse reads the document's plain text layer. Scanned PDFs with no
// text layer come back empty and are rejected upstream as empty content.
func (p *PDFParser) Parse(ctx context.Context, data []byte, hint ParseHint) (*Content, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_pdf", err, "failed to open pdf")
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_pdf", err, "failed to extract pdf text")
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, textReader); err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_pdf", err, "failed to read pdf text")
	}

	return &Content{
		Text:        strings.TrimSpace(buf.String()),
		ContentType: models.ContentTypePDF,
	}, nil
}

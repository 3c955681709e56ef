package extractors

import (
	"context"
	"strings"

	"knowledge-ingest/internal/models"
)

// TextParser handles plain text and markdown. It is the last parser in
// the chain, so it also picks up unknown text-like MIME types.
type TextParser struct{}

// CanParse accepts text MIME types, text extensions, and anything that
// does not look binary when no other parser claimed it.
func (p *TextParser) CanParse(data []byte, mimeType, filename string) bool {
	switch mimeType {
	case "text/plain", "text/markdown", "application/json", "application/xml", "text/xml":
		return true
	}
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch extOf(filename) {
	case ".txt", ".md", ".markdown", ".text", ".log":
		return true
	}
	return mimeType == "" && !looksBinary(data)
}

// Parse decodes the buffer as UTF-8 text
func (p *TextParser) Parse(ctx context.Context, data []byte, hint ParseHint) (*Content, error) {
	data = stripBOM(data)
	if looksBinary(data) {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_text", nil,
			"content appears to be binary")
	}

	contentType := models.ContentTypeText
	if isMarkdown(hint) {
		contentType = models.ContentTypeMarkdown
	}

	return &Content{
		Text:        string(data),
		ContentType: contentType,
	}, nil
}

func isMarkdown(hint ParseHint) bool {
	if hint.MIMEType == "text/markdown" {
		return true
	}
	switch extOf(hint.Filename) {
	case ".md", ".markdown":
		return true
	}
	return false
}

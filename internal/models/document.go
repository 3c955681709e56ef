package models

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// ContentType identifies the format of an ingested document
type ContentType string

const (
	ContentTypeURL      ContentType = "url"
	ContentTypePDF      ContentType = "pdf"
	ContentTypeEPUB     ContentType = "epub"
	ContentTypeDOCX     ContentType = "docx"
	ContentTypeCSV      ContentType = "csv"
	ContentTypeHTML     ContentType = "html"
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
)

// IsValid checks if the content type is recognized
func (t ContentType) IsValid() bool {
	switch t {
	case ContentTypeURL, ContentTypePDF, ContentTypeEPUB, ContentTypeDOCX,
		ContentTypeCSV, ContentTypeHTML, ContentTypeText, ContentTypeMarkdown:
		return true
	default:
		return false
	}
}

// UploadSource identifies where an ingested document came from
type UploadSource string

const (
	UploadSourceUser    UploadSource = "user"
	UploadSourceAPI     UploadSource = "api"
	UploadSourceWebhook UploadSource = "webhook"
	UploadSourceBatch   UploadSource = "batch"
)

// Document is a logical input identified by its canonical URL. A document
// is implied by the existence of at least one chunk with that URL; there
// is no separate document row in the store.
type Document struct {
	URL          string       `json:"url"`
	Title        string       `json:"title"`
	ContentType  ContentType  `json:"content_type"`
	UploadSource UploadSource `json:"upload_source"`
	CreatedAt    time.Time    `json:"created_at"`
}

// SyntheticFileURL derives the canonical file:// URL for uploaded bytes
// from a content hash, so re-uploads of identical content map to the
// same document.
func SyntheticFileURL(data []byte, filename string) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("file://%x/%s", sum[:8], filename)
}

package extractors

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"knowledge-ingest/internal/models"
)

// EPUBParser extracts text from EPUB archives by walking the contained
// XHTML documents in archive order.
type EPUBParser struct{}

// CanParse accepts the EPUB MIME type, extension, or a zip archive with
// the EPUB mimetype entry.
func (p *EPUBParser) CanParse(data []byte, mimeType, filename string) bool {
	if mimeType == "application/epub+zip" || extOf(filename) == ".epub" {
		return true
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		return false
	}
	// The EPUB container stores its mimetype uncompressed at the front
	head := data
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.Contains(head, []byte("application/epub+zip"))
}

// Parse extracts text from every XHTML document in the archive
func (p *EPUBParser) Parse(ctx context.Context, data []byte, hint ParseHint) (*Content, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_epub", err, "failed to open epub archive")
	}

	var docs []*zip.File
	for _, file := range archive.File {
		switch extOf(file.Name) {
		case ".xhtml", ".html", ".htm":
			docs = append(docs, file)
		}
	}
	if len(docs) == 0 {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_epub", nil,
			"epub archive contains no documents")
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })

	var buf strings.Builder
	var title string
	for _, file := range docs {
		text, docTitle, err := readEPUBDocument(file)
		if err != nil {
			return nil, models.NewPipelineError(models.ErrValidation, "parse_epub", err,
				"failed to read "+file.Name)
		}
		if title == "" {
			title = docTitle
		}
		if text != "" {
			buf.WriteString(text)
			buf.WriteString("\n\n")
		}
	}

	return &Content{
		Text:        strings.TrimSpace(buf.String()),
		Title:       title,
		ContentType: models.ContentTypeEPUB,
	}, nil
}

func readEPUBDocument(file *zip.File) (string, string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", "", err
	}

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	var buf strings.Builder
	title := collectHTMLText(doc, &buf)
	return normalizeWhitespace(buf.String()), strings.TrimSpace(title), nil
}

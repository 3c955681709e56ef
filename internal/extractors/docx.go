package extractors

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"knowledge-ingest/internal/models"
)

// DOCXParser extracts text from Word documents by reading the main
// document part of the OOXML package.
type DOCXParser struct{}

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// CanParse accepts the DOCX MIME type or extension
func (p *DOCXParser) CanParse(data []byte, mimeType, filename string) bool {
	if mimeType == docxMIME || extOf(filename) == ".docx" {
		return true
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		return false
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("word/"))
}

// Parse reads word/document.xml and joins the runs of each paragraph
func (p *DOCXParser) Parse(ctx context.Context, data []byte, hint ParseHint) (*Content, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_docx", err, "failed to open docx archive")
	}

	var document *zip.File
	for _, file := range archive.File {
		if file.Name == "word/document.xml" {
			document = file
			break
		}
	}
	if document == nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_docx", nil,
			"archive is missing word/document.xml")
	}

	rc, err := document.Open()
	if err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_docx", err, "failed to open document part")
	}
	defer rc.Close()

	text, err := docxText(rc)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_docx", err, "failed to parse document xml")
	}

	return &Content{
		Text:        text,
		ContentType: models.ContentTypeDOCX,
	}, nil
}

// docxText streams the XML tokens, emitting w:t character data and a
// newline at each paragraph end.
func docxText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var buf strings.Builder
	inText := false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				buf.WriteByte('\t')
			case "br":
				buf.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				buf.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

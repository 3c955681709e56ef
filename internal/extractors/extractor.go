package extractors

import (
	"context"
	"path/filepath"
	"strings"

	"knowledge-ingest/internal/models"
)

// Source is either a URL to fetch or an in-memory buffer with a
// declared MIME type.
type Source struct {
	URL      string
	Data     []byte
	Filename string
	MIMEType string
}

// Content is the decoded output of an adapter
type Content struct {
	Text        string
	Title       string
	ContentType models.ContentType
}

// ParseHint carries provenance into a parser
type ParseHint struct {
	URL      string
	Filename string
	MIMEType string
}

// Parser decodes one document format into plain text. Selection is by
// MIME type first, filename extension second, leading bytes last.
type Parser interface {
	CanParse(data []byte, mimeType, filename string) bool
	Parse(ctx context.Context, data []byte, hint ParseHint) (*Content, error)
}

// Logger is the minimal logging interface used by this package
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// Extractor turns a source into plain text with provenance
type Extractor struct {
	fetcher *URLFetcher
	parsers []Parser
	log     Logger
}

// NewExtractor creates an extractor with the full parser set. Binary
// formats are tried before text ones so a PDF served as
// application/octet-stream still lands on the right parser.
func NewExtractor(fetcher *URLFetcher, log Logger) *Extractor {
	return &Extractor{
		fetcher: fetcher,
		log:     log,
		parsers: []Parser{
			&PDFParser{},
			&EPUBParser{},
			&DOCXParser{},
			&CSVParser{},
			&HTMLParser{},
			&TextParser{},
		},
	}
}

// Fetch resolves the source to bytes and decodes them to text
func (e *Extractor) Fetch(ctx context.Context, source Source) (*Content, error) {
	data := source.Data
	mimeType := source.MIMEType
	filename := source.Filename

	if source.URL != "" {
		fetched, fetchedType, err := e.fetcher.Fetch(ctx, source.URL)
		if err != nil {
			return nil, err
		}
		data = fetched
		if mimeType == "" {
			mimeType = fetchedType
		}
		if filename == "" {
			filename = filepath.Base(source.URL)
		}
	}

	if len(data) == 0 {
		return nil, models.NewPipelineError(models.ErrValidation, "extract", nil, "empty content")
	}

	mimeType = normalizeMIME(mimeType)

	for _, parser := range e.parsers {
		if !parser.CanParse(data, mimeType, filename) {
			continue
		}
		content, err := parser.Parse(ctx, data, ParseHint{
			URL:      source.URL,
			Filename: filename,
			MIMEType: mimeType,
		})
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(content.Text) == "" {
			return nil, models.NewPipelineError(models.ErrValidation, "extract", nil, "empty content")
		}
		if content.Title == "" {
			content.Title = titleFromName(filename, source.URL)
		}
		e.log.Debug("extracted %d characters as %s from %s", len(content.Text), content.ContentType, provenance(source))
		return content, nil
	}

	return nil, models.NewPipelineError(models.ErrUnsupportedType, "extract", nil,
		"unsupported content type: "+mimeType)
}

func normalizeMIME(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func extOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func titleFromName(filename, url string) string {
	if filename != "" && filename != "." && filename != "/" {
		base := strings.TrimSuffix(filename, filepath.Ext(filename))
		if base != "" {
			return base
		}
	}
	return url
}

func provenance(source Source) string {
	if source.URL != "" {
		return source.URL
	}
	if source.Filename != "" {
		return source.Filename
	}
	return "upload"
}

// stripBOM removes a leading UTF-8 byte order mark
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// looksBinary reports whether the buffer contains a NUL byte in its
// first 8 KiB, the cheap signal that this is not text.
func looksBinary(data []byte) bool {
	window := data
	if len(window) > 8*1024 {
		window = window[:8*1024]
	}
	for _, b := range window {
		if b == 0 {
			return true
		}
	}
	return false
}

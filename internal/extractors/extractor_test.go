package extractors

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-ingest/internal/models"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

func newTestExtractor() *Extractor {
	return NewExtractor(NewURLFetcher(URLFetcherConfig{}), nopLogger{})
}

func TestTextParser_StripsBOM(t *testing.T) {
	e := newTestExtractor()

	content, err := e.Fetch(context.Background(), Source{
		Data:     append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello world")...),
		Filename: "note.txt",
		MIMEType: "text/plain",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", content.Text)
	assert.Equal(t, models.ContentTypeText, content.ContentType)
}

func TestTextParser_RejectsBinary(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Fetch(context.Background(), Source{
		Data:     []byte("abc\x00def"),
		Filename: "data.txt",
		MIMEType: "text/plain",
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrValidation, models.KindOf(err))
}

func TestTextParser_MarkdownByExtension(t *testing.T) {
	e := newTestExtractor()

	content, err := e.Fetch(context.Background(), Source{
		Data:     []byte("# Heading\n\nBody text."),
		Filename: "readme.md",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ContentTypeMarkdown, content.ContentType)
	assert.Equal(t, "readme", content.Title)
}

func TestHTMLParser_ExtractsTitleAndText(t *testing.T) {
	e := newTestExtractor()

	page := `<!DOCTYPE html>
<html>
<head><title>Release Notes</title><style>body { color: red }</style></head>
<body>
  <script>console.log("ignored")</script>
  <h1>What changed</h1>
  <p>First paragraph.</p>
  <p>Second paragraph.</p>
</body>
</html>`

	content, err := e.Fetch(context.Background(), Source{
		Data:     []byte(page),
		MIMEType: "text/html",
	})
	require.NoError(t, err)
	assert.Equal(t, "Release Notes", content.Title)
	assert.Equal(t, models.ContentTypeHTML, content.ContentType)
	assert.Contains(t, content.Text, "What changed")
	assert.Contains(t, content.Text, "First paragraph.")
	assert.NotContains(t, content.Text, "console.log")
	assert.NotContains(t, content.Text, "color: red")
}

func TestHTMLParser_SniffsWithoutMIME(t *testing.T) {
	p := &HTMLParser{}
	assert.True(t, p.CanParse([]byte("<!doctype html><html><body>x</body></html>"), "", ""))
	assert.False(t, p.CanParse([]byte("plain words"), "", ""))
}

func TestCSVParser_LabelsColumns(t *testing.T) {
	e := newTestExtractor()

	content, err := e.Fetch(context.Background(), Source{
		Data:     []byte("name,role\nAda,engineer\nGrace,admiral\n"),
		Filename: "people.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ContentTypeCSV, content.ContentType)
	assert.Contains(t, content.Text, "name: Ada")
	assert.Contains(t, content.Text, "role: admiral")
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name string
		data string
		want rune
	}{
		{"comma", "a,b,c\n1,2,3\n", ','},
		{"semicolon", "a;b;c\n1;2;3\n", ';'},
		{"tab", "a\tb\tc\n1\t2\t3\n", '\t'},
		{"pipe", "a|b|c\n1|2|3\n", '|'},
		{"semicolon wins over comma in values", "a;b\nx,y;z,w\n", ';'},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDelimiter(tt.data))
		})
	}
}

func TestDOCXParser_ExtractsParagraphs(t *testing.T) {
	documentXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second</w:t></w:r><w:r><w:t> paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	e := newTestExtractor()
	content, err := e.Fetch(context.Background(), Source{
		Data:     buf.Bytes(),
		Filename: "memo.docx",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ContentTypeDOCX, content.ContentType)
	assert.Contains(t, content.Text, "First paragraph.")
	assert.Contains(t, content.Text, "Second paragraph.")
}

func TestEPUBParser_ExtractsChapters(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"OEBPS/ch01.xhtml": "<html><head><title>The Book</title></head><body><p>Chapter one text.</p></body></html>",
		"OEBPS/ch02.xhtml": "<html><body><p>Chapter two text.</p></body></html>",
	} {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	e := newTestExtractor()
	content, err := e.Fetch(context.Background(), Source{
		Data:     buf.Bytes(),
		Filename: "book.epub",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ContentTypeEPUB, content.ContentType)
	assert.Equal(t, "The Book", content.Title)
	assert.Contains(t, content.Text, "Chapter one text.")
	assert.Contains(t, content.Text, "Chapter two text.")
}

func TestExtractor_UnsupportedType(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Fetch(context.Background(), Source{
		Data:     []byte{0x00, 0x01, 0x02, 0x03},
		Filename: "blob.bin",
		MIMEType: "application/octet-stream",
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrUnsupportedType, models.KindOf(err))
}

func TestExtractor_EmptyContent(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Fetch(context.Background(), Source{
		Data:     []byte("   \n\t  "),
		Filename: "blank.txt",
		MIMEType: "text/plain",
	})
	require.Error(t, err)

	var pe *models.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Message, "empty content")
}

func TestURLFetcher_RejectsNonHTTPSchemes(t *testing.T) {
	f := NewURLFetcher(URLFetcherConfig{})

	for _, raw := range []string{"ftp://example.com/a.txt", "file:///etc/passwd", "gopher://old.net"} {
		_, _, err := f.Fetch(context.Background(), raw)
		require.Error(t, err, raw)
		assert.Equal(t, models.ErrValidation, models.KindOf(err), raw)
	}
}

package extractors

import (
	"bytes"
	"context"
	"strings"

	"golang.org/x/net/html"

	"knowledge-ingest/internal/models"
)

// HTMLParser extracts readable text from HTML documents
type HTMLParser struct{}

// CanParse accepts HTML MIME types, extensions and documents that start
// with an HTML prologue.
func (p *HTMLParser) CanParse(data []byte, mimeType, filename string) bool {
	switch mimeType {
	case "text/html", "application/xhtml+xml":
		return true
	}
	switch extOf(filename) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	head := strings.ToLower(string(stripBOM(data[:min(len(data), 512)])))
	head = strings.TrimSpace(head)
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// Parse tokenizes the document and collects visible text
func (p *HTMLParser) Parse(ctx context.Context, data []byte, hint ParseHint) (*Content, error) {
	doc, err := html.Parse(bytes.NewReader(stripBOM(data)))
	if err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_html", err, "failed to parse html")
	}

	var buf strings.Builder
	title := collectHTMLText(doc, &buf)

	return &Content{
		Text:        normalizeWhitespace(buf.String()),
		Title:       strings.TrimSpace(title),
		ContentType: models.ContentTypeHTML,
	}, nil
}

// collectHTMLText walks the tree gathering text nodes, skipping
// non-content elements, and returns the document title.
func collectHTMLText(n *html.Node, buf *strings.Builder) string {
	var title string
	var walk func(n *html.Node, skip bool)
	walk = func(n *html.Node, skip bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head", "template", "iframe":
				skip = true
			case "title":
				if title == "" {
					title = textOf(n)
				}
				skip = true
			case "p", "br", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6",
				"section", "article", "blockquote", "pre":
				buf.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode && !skip {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skip)
		}
		if n.Type == html.ElementNode && n.Data == "p" {
			buf.WriteByte('\n')
		}
	}
	walk(n, false)
	return title
}

func textOf(n *html.Node) string {
	var buf strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			buf.WriteString(c.Data)
		}
	}
	return buf.String()
}

// normalizeWhitespace collapses runs of blank lines and trims the
// indentation HTML source leaves behind.
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

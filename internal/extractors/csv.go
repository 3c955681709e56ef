package extractors

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"knowledge-ingest/internal/models"
)

// CSVParser renders tabular data as labelled text so downstream analysis
// sees column names next to values instead of bare cells.
type CSVParser struct{}

var csvDelimiters = []rune{',', ';', '\t', '|'}

// CanParse accepts CSV MIME types and extensions
func (p *CSVParser) CanParse(data []byte, mimeType, filename string) bool {
	switch mimeType {
	case "text/csv", "application/csv", "text/tab-separated-values":
		return true
	}
	switch extOf(filename) {
	case ".csv", ".tsv":
		return true
	}
	return false
}

// Parse detects the delimiter, then renders each record as
// "header: value" lines with a blank line between records.
func (p *CSVParser) Parse(ctx context.Context, data []byte, hint ParseHint) (*Content, error) {
	data = stripBOM(data)
	if looksBinary(data) {
		return nil, models.NewPipelineError(models.ErrValidation, "parse_csv", nil,
			"content appears to be binary")
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = detectDelimiter(string(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var header []string
	var buf strings.Builder
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, models.NewPipelineError(models.ErrValidation, "parse_csv", err, "failed to parse csv")
		}
		if header == nil {
			header = record
			continue
		}
		for i, value := range record {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				buf.WriteString(strings.TrimSpace(header[i]))
				buf.WriteString(": ")
			}
			buf.WriteString(value)
			buf.WriteByte('\n')
		}
		buf.WriteByte('\n')
	}

	text := strings.TrimSpace(buf.String())
	if text == "" && len(header) > 0 {
		// Header-only file: the column names are all the content there is
		text = strings.Join(header, ", ")
	}

	return &Content{
		Text:        text,
		ContentType: models.ContentTypeCSV,
	}, nil
}

// detectDelimiter counts candidate delimiters over the first 10 lines
// and picks the one that appears most consistently.
func detectDelimiter(data string) rune {
	lines := strings.Split(data, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}

	best := ','
	bestScore := -1
	for _, delim := range csvDelimiters {
		score := delimiterScore(lines, delim)
		if score > bestScore {
			best = delim
			bestScore = score
		}
	}
	return best
}

// delimiterScore is the minimum per-line count across non-empty lines,
// so a delimiter missing from any line scores zero.
func delimiterScore(lines []string, delim rune) int {
	score := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		count := strings.Count(line, string(delim))
		if score == -1 || count < score {
			score = count
		}
	}
	if score == -1 {
		return 0
	}
	return score
}

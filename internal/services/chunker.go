package services

import (
	"knowledge-ingest/internal/models"
)

// Chunker splits document text into overlapping windows with dense
// zero-based indices. Windows are measured in characters (runes).
type Chunker struct{}

// NewChunker creates a chunker
func NewChunker() *Chunker {
	return &Chunker{}
}

// Chunk produces the ordered chunk drafts for the text. Each window
// prefers to end at the last paragraph break inside it, then the last
// sentence end, then a hard split at the window edge. The next window
// starts overlap characters before the previous one ended.
func (c *Chunker) Chunk(text string, options models.ProcessingOptions) []models.ChunkDraft {
	options.Clamp()
	size := options.ChunkSize
	overlap := options.ChunkOverlap
	if overlap >= size {
		overlap = size / 2
	}

	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return nil
	}

	var drafts []models.ChunkDraft
	start := 0
	index := 0
	for {
		end := start + size
		if end >= total {
			end = total
		} else {
			end = snapToBoundary(runes, start, end)
		}

		drafts = append(drafts, models.ChunkDraft{
			Index: index,
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		index++

		if end == total {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return drafts
}

// snapToBoundary moves the window end back to the last paragraph break,
// then the last sentence end, found in the second half of the window.
// Snapping never shrinks a window below half its size, so progress is
// guaranteed and windows stay near the requested size.
func snapToBoundary(runes []rune, start, end int) int {
	window := runes[start:end]
	floor := len(window) / 2

	if cut := lastParagraphBreak(window); cut >= floor {
		return start + cut
	}
	if cut := lastSentenceEnd(window); cut >= floor {
		return start + cut
	}
	return end
}

// lastParagraphBreak returns the position just past the last blank line
// in the window, or -1.
func lastParagraphBreak(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == '\n' && window[i+1] == '\n' {
			return i + 2
		}
	}
	return -1
}

// lastSentenceEnd returns the position just past the last sentence
// terminator and its trailing whitespace, or -1.
func lastSentenceEnd(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?', '\n':
			if window[i+1] == ' ' || window[i+1] == '\n' || window[i+1] == '\t' {
				return i + 2
			}
		}
	}
	return -1
}

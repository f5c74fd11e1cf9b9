package chunking

import "strings"

// Splitter cuts text into overlapping chunks of at most ChunkSize runes.
// Windows prefer to end at a sentence boundary inside the last quarter of the
// chunk, so retrieval rarely sees a sentence torn in half.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.ChunkSize+1)
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.breakPoint(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// breakPoint walks back from the hard limit looking for a sentence or
// paragraph end; falls back to a whitespace break, then the hard cut.
func (s *Splitter) breakPoint(runes []rune, start, end int) int {
	floor := end - s.ChunkSize/4
	if floor < start+1 {
		floor = start + 1
	}

	wordBreak := -1
	for i := end - 1; i >= floor; i-- {
		switch runes[i] {
		case '\n':
			return i + 1
		case '.', '!', '?':
			if i+1 < len(runes) && isSpace(runes[i+1]) {
				return i + 1
			}
		case ' ', '\t':
			if wordBreak < 0 {
				wordBreak = i + 1
			}
		}
	}
	if wordBreak > 0 {
		return wordBreak
	}
	return end
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

package chunking

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

const DefaultMaxLen = 2000

type Splitter struct {
	MaxLen int
}

func NewSplitter(maxLen int) *Splitter {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Splitter{MaxLen: maxLen}
}

func (s *Splitter) Split(text string) ([]string, error) {
	return Chunk(text, s.MaxLen)
}

// Chunk splits text into contiguous pieces of at most maxLen runes. Cuts land
// on the last paragraph break, line break, sentence end or space inside the
// window, in that order of preference, and fall back to a hard cut at maxLen.
// Whitespace at cut points is dropped, so joining the chunks gives back the
// text without it.
func Chunk(text string, maxLen int) ([]string, error) {
	if maxLen <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk", fmt.Errorf("max_len must be positive, got %d", maxLen))
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk", fmt.Errorf("text is empty"))
	}

	runes := []rune(text)
	out := make([]string, 0, len(runes)/maxLen+1)
	pos := skipSpace(runes, 0)
	for pos < len(runes) {
		end := len(runes)
		if end-pos > maxLen {
			end = cutPoint(runes, pos, pos+maxLen)
		}
		piece := strings.TrimRightFunc(string(runes[pos:end]), unicode.IsSpace)
		if piece != "" {
			out = append(out, piece)
		}
		pos = skipSpace(runes, end)
	}
	return out, nil
}

// cutPoint picks the exclusive end of the chunk starting at start whose hard
// limit is limit. The rune at limit itself may be whitespace, which makes
// limit a clean boundary.
func cutPoint(runes []rune, start, limit int) int {
	if limit < len(runes) && unicode.IsSpace(runes[limit]) {
		if i := lastParagraphBreak(runes, start, limit+1); i > start {
			return i
		}
	}
	if i := lastParagraphBreak(runes, start, limit); i > start {
		return i
	}
	if i := lastIndexFunc(runes, start, limit, func(r rune) bool { return r == '\n' }); i > start {
		return i
	}
	if i := lastSentenceEnd(runes, start, limit); i > start {
		return i
	}
	if i := lastIndexFunc(runes, start, limit+1, unicode.IsSpace); i > start {
		return i
	}
	return limit
}

func lastParagraphBreak(runes []rune, start, limit int) int {
	if limit > len(runes) {
		limit = len(runes)
	}
	for i := limit - 1; i > start; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i - 1
		}
	}
	return -1
}

// lastSentenceEnd returns the index just past a terminator followed by
// whitespace, or -1.
func lastSentenceEnd(runes []rune, start, limit int) int {
	for i := limit; i > start; i-- {
		if !isTerminator(runes[i-1]) {
			continue
		}
		if i < len(runes) && unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

func lastIndexFunc(runes []rune, start, limit int, f func(rune) bool) int {
	if limit > len(runes) {
		limit = len(runes)
	}
	for i := limit - 1; i > start; i-- {
		if f(runes[i]) {
			return i
		}
	}
	return -1
}

func skipSpace(runes []rune, pos int) int {
	for pos < len(runes) && unicode.IsSpace(runes[pos]) {
		pos++
	}
	return pos
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '。', '！', '？':
		return true
	default:
		return false
	}
}

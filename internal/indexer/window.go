package indexer

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"scribe/internal/transcript"
)

// Window is one contiguous slice of transcript text. Offsets are byte
// offsets into the full transcript; EndOffset is exclusive.
type Window struct {
	Index        int
	StartOffset  int
	EndOffset    int
	WordCount    int
	Text         string
	StartSeconds float64
	EndSeconds   float64
}

type span struct{ start, end int }

// words returns the byte spans of maximal non-space runs in text at or after from.
func words(text string, from int) []span {
	var out []span
	start := -1
	for i, r := range text[from:] {
		pos := from + i
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{start, pos})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = pos
		}
	}
	if start >= 0 {
		out = append(out, span{start, len(text)})
	}
	return out
}

// Split cuts text from byte offset from into consecutive windows of size
// words. The last window may be shorter.
func Split(text string, from, size int) []Window {
	if size <= 0 {
		size = 250
	}
	if from < 0 || from > len(text) {
		from = 0
	}
	spans := words(text, from)
	windows := make([]Window, 0, (len(spans)+size-1)/size)
	for i := 0; i < len(spans); i += size {
		j := min(i+size, len(spans))
		start, end := spans[i].start, spans[j-1].end
		windows = append(windows, Window{
			Index:       len(windows),
			StartOffset: start,
			EndOffset:   end,
			WordCount:   j - i,
			Text:        text[start:end],
		})
	}
	return windows
}

// cueSpans locates each cue's normalized text inside text, which must have
// been produced by transcript.JoinCues over the same cues. It returns nil if
// the layout does not line up.
func cueSpans(text string, cues []transcript.Cue) []span {
	if len(cues) == 0 {
		return nil
	}
	spans := make([]span, len(cues))
	pos := 0
	for i, cue := range cues {
		part := strings.Join(strings.Fields(cue.Text), " ")
		if part == "" {
			spans[i] = span{pos, pos}
			continue
		}
		if pos > 0 {
			if pos >= len(text) || text[pos] != ' ' {
				return nil
			}
			pos++
		}
		if !strings.HasPrefix(text[pos:], part) {
			return nil
		}
		spans[i] = span{pos, pos + len(part)}
		pos += len(part)
	}
	if pos != len(text) {
		return nil
	}
	return spans
}

// ContentStartOffset maps a content-start time to a byte offset in text.
// With aligned cues it is the start of the first cue ending after seconds.
// Otherwise the offset is proportional to duration and moved forward to the
// next word start.
func ContentStartOffset(text string, cues []transcript.Cue, seconds, duration float64) int {
	if seconds <= 0 || text == "" {
		return 0
	}
	if spans := cueSpans(text, cues); spans != nil {
		for i, cue := range cues {
			if cue.End > seconds && spans[i].end > spans[i].start {
				return spans[i].start
			}
		}
		return len(text)
	}
	if duration <= 0 || math.IsNaN(duration) {
		return 0
	}
	ratio := seconds / duration
	if ratio >= 1 {
		return len(text)
	}
	return snapToWord(text, int(float64(len(text))*ratio))
}

// snapToWord moves off forward to the start of the next word unless it
// already sits on one.
func snapToWord(text string, off int) int {
	if off <= 0 {
		return 0
	}
	if off >= len(text) {
		return len(text)
	}
	for off < len(text) && !utf8.RuneStart(text[off]) {
		off++
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:off])
	if unicode.IsSpace(prev) {
		for off < len(text) {
			r, size := utf8.DecodeRuneInString(text[off:])
			if !unicode.IsSpace(r) {
				break
			}
			off += size
		}
		return off
	}
	// Inside a word: skip to its end, then past the following spaces.
	for off < len(text) {
		r, size := utf8.DecodeRuneInString(text[off:])
		if unicode.IsSpace(r) {
			break
		}
		off += size
	}
	for off < len(text) {
		r, size := utf8.DecodeRuneInString(text[off:])
		if !unicode.IsSpace(r) {
			break
		}
		off += size
	}
	return off
}

// annotateTimes fills StartSeconds and EndSeconds from the cues that contain
// each window's first and last byte.
func annotateTimes(windows []Window, text string, cues []transcript.Cue) {
	spans := cueSpans(text, cues)
	if spans == nil {
		return
	}
	find := func(off int) int {
		for i, s := range spans {
			if off >= s.start && off < s.end {
				return i
			}
		}
		return -1
	}
	for i := range windows {
		if c := find(windows[i].StartOffset); c >= 0 {
			windows[i].StartSeconds = cues[c].Start
		}
		if c := find(windows[i].EndOffset - 1); c >= 0 {
			windows[i].EndSeconds = cues[c].End
		}
	}
}

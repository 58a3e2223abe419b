package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Cue is one timed piece of transcript text.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// JoinCues concatenates cue text with single spaces.
func JoinCues(cues []Cue) string {
	parts := make([]string, 0, len(cues))
	for _, cue := range cues {
		if text := normalizeSpace(cue.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// EncodeCues serializes cues for storage. Nil or empty cues encode to "".
func EncodeCues(cues []Cue) (string, error) {
	if len(cues) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cues)
	if err != nil {
		return "", fmt.Errorf("encode cues: %w", err)
	}
	return string(data), nil
}

// DecodeCues parses cues stored by EncodeCues.
func DecodeCues(raw string) ([]Cue, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var cues []Cue
	if err := json.Unmarshal([]byte(raw), &cues); err != nil {
		return nil, fmt.Errorf("decode cues: %w", err)
	}
	return cues, nil
}

var vttTag = regexp.MustCompile(`<[^>]*>`)

// ParseVTT reads WebVTT cues. Markup and inline timestamps are stripped.
// Rolling auto-caption cues, where each cue repeats the previous cue's last
// line before adding a new one, are collapsed so every spoken line appears
// once.
func ParseVTT(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		cues     []Cue
		current  *Cue
		lines    []string
		skipping bool
		previous []string
	)
	flush := func() {
		if current == nil {
			return
		}
		kept := dedupeRolling(lines, previous)
		if len(lines) > 0 {
			previous = lines
		}
		if text := normalizeSpace(strings.Join(kept, " ")); text != "" {
			current.Text = text
			cues = append(cues, *current)
		}
		current = nil
		lines = nil
	}

	lineNo := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		lineNo++
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
			if !strings.HasPrefix(line, "WEBVTT") {
				return nil, fmt.Errorf("parse vtt: missing WEBVTT header")
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			skipping = false
			continue
		}
		if skipping {
			continue
		}
		if current == nil {
			if strings.HasPrefix(trimmed, "NOTE") || trimmed == "STYLE" || trimmed == "REGION" {
				skipping = true
				continue
			}
			if !strings.Contains(trimmed, "-->") {
				// Cue identifier or header metadata such as "Kind: captions".
				continue
			}
			start, end, err := parseTiming(trimmed)
			if err != nil {
				return nil, fmt.Errorf("parse vtt line %d: %w", lineNo, err)
			}
			current = &Cue{Start: start, End: end}
			continue
		}
		text := html.UnescapeString(vttTag.ReplaceAllString(trimmed, ""))
		if text = normalizeSpace(text); text != "" {
			lines = append(lines, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse vtt: %w", err)
	}
	flush()
	return cues, nil
}

// dedupeRolling drops the leading lines of a cue that repeat lines already
// shown by the previous cue.
func dedupeRolling(lines, previous []string) []string {
	if len(previous) == 0 {
		return lines
	}
	seen := make(map[string]struct{}, len(previous))
	for _, line := range previous {
		seen[line] = struct{}{}
	}
	i := 0
	for i < len(lines) {
		if _, dup := seen[lines[i]]; !dup {
			break
		}
		i++
	}
	return lines[i:]
}

func parseTiming(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing %q", line)
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	endFields := strings.Fields(parts[1])
	if len(endFields) == 0 {
		return 0, 0, fmt.Errorf("invalid timing %q", line)
	}
	end, err := parseTimestamp(endFields[0])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("cue ends before it starts: %q", line)
	}
	return start, end, nil
}

// parseTimestamp accepts hh:mm:ss.ttt and mm:ss.ttt.
func parseTimestamp(value string) (float64, error) {
	value = strings.Replace(value, ",", ".", 1)
	fields := strings.Split(value, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	var total float64
	for i, field := range fields {
		part, err := strconv.ParseFloat(field, 64)
		if err != nil || part < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		if i < len(fields)-1 {
			total = (total + part) * 60
		} else {
			total += part
		}
	}
	return total, nil
}

func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t for a timestamp column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return FormatTime(*value)
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// ParseTime reads a timestamp column written by FormatTime or by SQLite's
// CURRENT_TIMESTAMP.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseOptionalTime(value string) *time.Time {
	t, err := ParseTime(value)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

type topicsDoc struct {
	Topics   []string `json:"topics,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

func encodeTopics(topics, keywords []string) (any, error) {
	if len(topics) == 0 && len(keywords) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(topicsDoc{Topics: topics, Keywords: keywords})
	if err != nil {
		return nil, fmt.Errorf("encode topics: %w", err)
	}
	return string(data), nil
}

func decodeTopics(raw string) ([]string, []string) {
	if raw == "" {
		return nil, nil
	}
	var doc topicsDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, nil
	}
	return doc.Topics, doc.Keywords
}

// EncodeVector packs a float32 vector as little-endian bytes.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks bytes written by EncodeVector.
func DecodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	parley "github.com/ostramo/parley"
)

// EncodeVector serialises a vector as comma-separated decimal numerals.
// The shortest representation that round-trips float32 is used.
func EncodeVector(v []float32) string {
	if len(v) == 0 {
		return ""
	}
	var b strings.Builder
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	return b.String()
}

// DecodeVector parses a comma-separated vector. An empty string yields
// nil; any malformed numeral rejects the whole vector.
func DecodeVector(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// EncodeMetadata serialises metadata as JSON restricted to string,
// number, and boolean scalar values.
func EncodeMetadata(m parley.Metadata) ([]byte, error) {
	if err := m.ValidateScalars(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMetadata parses a metadata blob. Empty input yields nil.
func DecodeMetadata(blob []byte) (parley.Metadata, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var m parley.Metadata
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeIDs serialises the id registry as a comma-separated list.
func EncodeIDs(ids []string) string {
	return strings.Join(ids, ",")
}

// DecodeIDs parses the id registry. Empty input yields nil.
func DecodeIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

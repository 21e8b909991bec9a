package visits

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

// ErrMalformedVisitorMap is returned when a visitor_home_cbgs cell is not a
// JSON object of string keys to non-negative integer counts.
var ErrMalformedVisitorMap = errors.New("malformed visitor map")

// ParseVisitorMap decodes a visitor_home_cbgs cell, keeping the keys in the
// order they appear. A blank cell is an empty map. A repeated key keeps its
// first position and takes the last count.
func ParseVisitorMap(raw string) ([]census.VisitorCount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVisitorMap, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected an object, got %v", ErrMalformedVisitorMap, tok)
	}

	var out []census.VisitorCount
	positions := make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedVisitorMap, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key %v", ErrMalformedVisitorMap, keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedVisitorMap, err)
		}
		num, ok := valTok.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: count for %q is not a number", ErrMalformedVisitorMap, key)
		}
		count, err := num.Int64()
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: count for %q is not a non-negative integer", ErrMalformedVisitorMap, key)
		}

		if at, dup := positions[key]; dup {
			out[at].Count = count
			continue
		}
		positions[key] = len(out)
		out = append(out, census.VisitorCount{GeoUnitID: key, Count: count})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVisitorMap, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedVisitorMap)
	}
	return out, nil
}

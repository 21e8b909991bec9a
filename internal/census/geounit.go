package census

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultProfilePrefix is prepended to a dissemination area code to form the
// 2016 Census Profile dguid.
const DefaultProfilePrefix = "2016S0512"

const geoUnitSeparator = ":"

// ErrMalformedIdentifier is returned for geo unit ids that carry no usable area code.
var ErrMalformedIdentifier = errors.New("malformed geo unit id")

// ParseGeoUnitID extracts the area code from a "<prefix>:<area-code>" id.
// The area code must be non-empty and numeric.
func ParseGeoUnitID(raw string) (string, error) {
	_, rest, ok := strings.Cut(raw, geoUnitSeparator)
	if !ok {
		return "", fmt.Errorf("%w: %q has no %q separator", ErrMalformedIdentifier, raw, geoUnitSeparator)
	}
	area, _, _ := strings.Cut(rest, geoUnitSeparator)
	if area == "" {
		return "", fmt.Errorf("%w: %q has an empty area code", ErrMalformedIdentifier, raw)
	}
	for _, r := range area {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: area code %q is not numeric", ErrMalformedIdentifier, area)
		}
	}
	return area, nil
}

// ProfileID is the dguid a census profile is requested and cached under.
type ProfileID string

// NewProfileID joins a dguid prefix and an area code.
func NewProfileID(prefix, areaCode string) ProfileID {
	return ProfileID(prefix + areaCode)
}

func (id ProfileID) String() string {
	return string(id)
}

// CacheSet tracks the profile ids already persisted in the cache directory.
type CacheSet map[ProfileID]struct{}

// NewCacheSet builds a set from ids.
func NewCacheSet(ids ...ProfileID) CacheSet {
	s := make(CacheSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Has reports whether id is cached.
func (s CacheSet) Has(id ProfileID) bool {
	_, ok := s[id]
	return ok
}

// Add marks id as cached.
func (s CacheSet) Add(id ProfileID) {
	s[id] = struct{}{}
}

// Len returns the number of cached ids.
func (s CacheSet) Len() int {
	return len(s)
}

// Clone returns an independent copy of the set.
func (s CacheSet) Clone() CacheSet {
	out := make(CacheSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// IDs returns the cached ids in lexical order.
func (s CacheSet) IDs() []ProfileID {
	out := make([]ProfileID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

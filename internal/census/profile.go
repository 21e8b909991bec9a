package census

import (
	"errors"
	"fmt"
)

// Columns every cached profile must carry for indicator extraction.
const (
	ColumnGeoUID     = "GEO_UID"
	ColumnGeoID      = "GEO_ID"
	ColumnTopicTheme = "TOPIC_THEME"
	ColumnHierID     = "HIER_ID"
	ColumnDataValue  = "T_DATA_DONNEE"
)

// RequiredColumns lists the profile columns extraction depends on.
var RequiredColumns = []string{
	ColumnGeoUID,
	ColumnGeoID,
	ColumnTopicTheme,
	ColumnHierID,
	ColumnDataValue,
}

// ErrMalformedProfile is returned when a profile table cannot be used for extraction.
var ErrMalformedProfile = errors.New("malformed profile")

// Profile is one Census Profile API response laid out as a table.
// Columns mirrors the API's COLUMNS header and Rows its DATA entries.
type Profile struct {
	ID      ProfileID
	Columns []string
	Rows    [][]string
}

// profileColumns holds resolved column offsets.
type profileColumns struct {
	geoUID int
	geoID  int
	theme  int
	hierID int
	value  int
}

// ColumnIndex returns the offset of the named column.
func (p *Profile) ColumnIndex(name string) (int, bool) {
	for i, c := range p.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// Validate checks that the profile has the required columns, at least one row,
// and rows as wide as the header.
func (p *Profile) Validate() error {
	if _, err := p.columns(); err != nil {
		return err
	}
	if len(p.Rows) == 0 {
		return fmt.Errorf("%w: %s has no rows", ErrMalformedProfile, p.ID)
	}
	for i, row := range p.Rows {
		if len(row) != len(p.Columns) {
			return fmt.Errorf("%w: %s row %d has %d fields, header has %d",
				ErrMalformedProfile, p.ID, i, len(row), len(p.Columns))
		}
	}
	return nil
}

// Identity returns GEO_UID and GEO_ID from the first row.
func (p *Profile) Identity() (geoUID, geoID string, err error) {
	cols, err := p.columns()
	if err != nil {
		return "", "", err
	}
	if len(p.Rows) == 0 {
		return "", "", fmt.Errorf("%w: %s has no rows", ErrMalformedProfile, p.ID)
	}
	first := p.Rows[0]
	if len(first) != len(p.Columns) {
		return "", "", fmt.Errorf("%w: %s first row is truncated", ErrMalformedProfile, p.ID)
	}
	return first[cols.geoUID], first[cols.geoID], nil
}

func (p *Profile) columns() (profileColumns, error) {
	idx := make([]int, len(RequiredColumns))
	for i, name := range RequiredColumns {
		at, ok := p.ColumnIndex(name)
		if !ok {
			return profileColumns{}, fmt.Errorf("%w: %s is missing column %s", ErrMalformedProfile, p.ID, name)
		}
		idx[i] = at
	}
	return profileColumns{
		geoUID: idx[0],
		geoID:  idx[1],
		theme:  idx[2],
		hierID: idx[3],
		value:  idx[4],
	}, nil
}

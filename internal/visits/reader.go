// Package visits reads SafeGraph weekly-patterns tables into visit records.
package visits

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

// Source columns the crawler reads.
const (
	ColumnVisitorHomeCBGs = "visitor_home_cbgs"
	ColumnPlaceID         = "safegraph_place_id"
)

// Table is a parsed source table. Records excludes rows whose visitor map
// could not be parsed; TotalRows counts every data row.
type Table struct {
	Records       []census.VisitRecord
	TotalRows     int
	MalformedRows int
}

// ReadFile opens path and parses it with Read.
func ReadFile(path string, logger *zap.Logger) (Table, error) {
	// #nosec G304 -- the source path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open source table: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	table, err := Read(f, logger)
	if err != nil {
		return Table{}, fmt.Errorf("read source table %s: %w", path, err)
	}
	return table, nil
}

// Read parses a weekly-patterns CSV stream. Malformed visitor maps are logged
// and skipped; a missing required column is an error.
func Read(r io.Reader, logger *zap.Logger) (Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, fmt.Errorf("source table is empty")
	}
	if err != nil {
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cbgCol, err := columnIndex(header, ColumnVisitorHomeCBGs)
	if err != nil {
		return Table{}, err
	}
	placeCol, err := columnIndex(header, ColumnPlaceID)
	if err != nil {
		return Table{}, err
	}

	var table Table
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read row %d: %w", table.TotalRows, err)
		}
		rowIdx := table.TotalRows
		table.TotalRows++

		if len(fields) <= cbgCol || len(fields) <= placeCol {
			table.MalformedRows++
			logger.Warn("source row is truncated",
				zap.Int("row", rowIdx),
				zap.Int("fields", len(fields)),
			)
			continue
		}

		visitors, err := ParseVisitorMap(fields[cbgCol])
		if err != nil {
			table.MalformedRows++
			logger.Warn("malformed visitor map",
				zap.Int("row", rowIdx),
				zap.String("poi_id", fields[placeCol]),
				zap.Error(err),
			)
			continue
		}
		table.Records = append(table.Records, census.VisitRecord{
			Row:             rowIdx,
			PlaceID:         fields[placeCol],
			VisitorHomeCBGs: visitors,
		})
	}
	return table, nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("source table has no %s column", name)
}

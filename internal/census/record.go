package census

import "time"

// IndicatorRecord is one flattened profile. Values align with the crosswalk
// the record was extracted with.
type IndicatorRecord struct {
	ProfileID ProfileID
	GeoUID    string
	GeoID     string
	Values    []Value
}

// CombinedTable is the aggregated dataset: one record per cached profile.
type CombinedTable struct {
	Fields      []string
	Records     []IndicatorRecord
	GeneratedAt time.Time
}

// Header returns the identity columns followed by the indicator fields.
func (t *CombinedTable) Header() []string {
	out := make([]string, 0, len(t.Fields)+2)
	out = append(out, FieldGeoUID, FieldGeoID)
	return append(out, t.Fields...)
}

// Rows renders every record in header order.
func (t *CombinedTable) Rows() [][]string {
	out := make([][]string, 0, len(t.Records))
	for _, rec := range t.Records {
		row := make([]string, 0, len(rec.Values)+2)
		row = append(row, rec.GeoUID, rec.GeoID)
		for _, v := range rec.Values {
			row = append(row, v.String())
		}
		out = append(out, row)
	}
	return out
}

// ValueMap returns a record's values keyed by field name; missing values map to nil.
func (t *CombinedTable) ValueMap(rec IndicatorRecord) map[string]*float64 {
	out := make(map[string]*float64, len(t.Fields))
	for i, field := range t.Fields {
		if i >= len(rec.Values) || rec.Values[i].Missing {
			out[field] = nil
			continue
		}
		n := rec.Values[i].Number
		out[field] = &n
	}
	return out
}

package census

// VisitorCount is one entry of a place's visitor_home_cbgs map.
type VisitorCount struct {
	GeoUnitID string
	Count     int64
}

// VisitRecord is the part of a SafeGraph weekly-patterns row the crawler needs.
type VisitRecord struct {
	// Row is the zero-based data row index in the source table.
	Row             int
	PlaceID         string
	VisitorHomeCBGs []VisitorCount
}

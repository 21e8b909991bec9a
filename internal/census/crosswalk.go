package census

import "strings"

// Topic themes referenced by the crosswalk.
const (
	ThemePopulation   = "Population"
	ThemeFamilies     = "Families, households and marital status"
	ThemeIncome       = "Income"
	ThemeEthnicOrigin = "Ethnic origin"
	ThemeEducation    = "Education"
	ThemeLabour       = "Labour"
)

// Identity columns of the combined table, copied from a profile's first row.
const (
	FieldGeoUID = "geo_uid"
	FieldGeoID  = "geo_id"
)

// Indicator binds one output field to a topic theme and one or more
// hierarchy codes. Several codes are summed.
type Indicator struct {
	Field string
	Theme string
	Codes []string
}

// crosswalk is the field binding used for every published combined table.
//
// pop_0_14, pop_15_64 and pop_65 all point at 1.2.1.1 (the 0 to 14 band).
// Existing outputs were produced with this binding, so it stays the default;
// CorrectedAgeCrosswalk rebinds the two upper bands.
var crosswalk = []Indicator{
	{Field: "population", Theme: ThemePopulation, Codes: []string{"1.1.1"}},
	{Field: "land_area", Theme: ThemePopulation, Codes: []string{"1.1.7"}},
	{Field: "pop_density", Theme: ThemePopulation, Codes: []string{"1.1.6"}},
	{Field: "pop_0_14", Theme: ThemePopulation, Codes: []string{"1.2.1.1"}},
	{Field: "pop_15_64", Theme: ThemePopulation, Codes: []string{"1.2.1.1"}},
	{Field: "pop_65", Theme: ThemePopulation, Codes: []string{"1.2.1.1"}},
	{Field: "pop_avg_age", Theme: ThemePopulation, Codes: []string{"1.2.3"}},
	{Field: "pop_med_age", Theme: ThemePopulation, Codes: []string{"1.2.4"}},
	{Field: "pop_married", Theme: ThemeFamilies, Codes: []string{"2.2.1.1"}},
	{Field: "pop_not_married", Theme: ThemeFamilies, Codes: []string{"2.2.1.2"}},

	{Field: "income_0_30", Theme: ThemeIncome, Codes: []string{"4.1.5.3.1", "4.1.5.3.2", "4.1.5.3.3"}},
	{Field: "income_30_70", Theme: ThemeIncome, Codes: []string{"4.1.5.3.4", "4.1.5.3.5", "4.1.5.3.6", "4.1.5.3.7"}},
	{Field: "income_70_100", Theme: ThemeIncome, Codes: []string{"4.1.5.3.8", "4.1.5.3.9", "4.1.5.3.10"}},
	{Field: "income_100", Theme: ThemeIncome, Codes: []string{"4.1.5.3.11"}},
	{Field: "income_emp_avg", Theme: ThemeIncome, Codes: []string{"4.1.3.1.2"}},
	{Field: "income_emp_med", Theme: ThemeIncome, Codes: []string{"4.1.3.1.1"}},

	{Field: "orig_north_american", Theme: ThemeEthnicOrigin, Codes: []string{"8.1.1.1", "8.1.1.2"}},
	{Field: "orig_european", Theme: ThemeEthnicOrigin, Codes: []string{"8.1.1.3"}},
	{Field: "orig_caribbean", Theme: ThemeEthnicOrigin, Codes: []string{"8.1.1.4"}},
	{Field: "orig_latin", Theme: ThemeEthnicOrigin, Codes: []string{"8.1.1.5"}},
	{Field: "orig_african", Theme: ThemeEthnicOrigin, Codes: []string{"8.1.1.6"}},
	{Field: "orig_asian", Theme: ThemeEthnicOrigin, Codes: []string{"8.1.1.7"}},
	{Field: "orig_oceania", Theme: ThemeEthnicOrigin, Codes: []string{"8.1.1.8"}},

	{Field: "edu_no_degree", Theme: ThemeEducation, Codes: []string{"10.1.1.1"}},
	{Field: "edu_diploma", Theme: ThemeEducation, Codes: []string{"10.1.1.2"}},
	{Field: "edu_post_secondary", Theme: ThemeEducation, Codes: []string{"10.1.1.3"}},

	{Field: "employment_rate", Theme: ThemeLabour, Codes: []string{"11.1.3"}},
	{Field: "unemployment_rate", Theme: ThemeLabour, Codes: []string{"11.1.4"}},
}

// correctedAgeCodes rebinds the age bands to their own 2016 hierarchy codes.
var correctedAgeCodes = map[string]string{
	"pop_0_14":  "1.2.1.1",
	"pop_15_64": "1.2.1.2",
	"pop_65":    "1.2.1.3",
}

// DefaultCrosswalk returns a copy of the published field binding.
func DefaultCrosswalk() []Indicator {
	out := make([]Indicator, len(crosswalk))
	for i, ind := range crosswalk {
		out[i] = Indicator{
			Field: ind.Field,
			Theme: ind.Theme,
			Codes: append([]string(nil), ind.Codes...),
		}
	}
	return out
}

// CorrectedAgeCrosswalk returns DefaultCrosswalk with distinct codes for the
// 15 to 64 and 65 and over bands.
func CorrectedAgeCrosswalk() []Indicator {
	out := DefaultCrosswalk()
	for i := range out {
		if code, ok := correctedAgeCodes[out[i].Field]; ok {
			out[i].Codes = []string{code}
		}
	}
	return out
}

// Fields returns the output field names in crosswalk order.
func Fields(cw []Indicator) []string {
	out := make([]string, len(cw))
	for i, ind := range cw {
		out[i] = ind.Field
	}
	return out
}

// DuplicateBindings groups fields that resolve to the same theme and codes.
// Groups are returned in crosswalk order.
func DuplicateBindings(cw []Indicator) [][]string {
	groups := make(map[string][]string)
	var order []string
	for _, ind := range cw {
		key := ind.Theme + "|" + strings.Join(ind.Codes, ",")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ind.Field)
	}
	var out [][]string
	for _, key := range order {
		if len(groups[key]) > 1 {
			out = append(out, groups[key])
		}
	}
	return out
}

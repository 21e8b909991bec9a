package census

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Lookup failures.
var (
	ErrIndicatorNotFound  = errors.New("indicator not found")
	ErrAmbiguousIndicator = errors.New("indicator matched more than one row")
	ErrNonNumericValue    = errors.New("indicator value is not numeric")
)

// suppressionMarkers are the Statistics Canada symbols for values that are
// suppressed, unreliable or not available.
var suppressionMarkers = map[string]struct{}{
	"x":   {},
	"X":   {},
	"..":  {},
	"...": {},
	"F":   {},
}

// Value is a numeric indicator value. Missing values propagate through sums.
type Value struct {
	Number  float64
	Missing bool
}

// MissingValue is the blank indicator value.
var MissingValue = Value{Missing: true}

// Add returns v+o, missing if either side is missing.
func (v Value) Add(o Value) Value {
	if v.Missing || o.Missing {
		return MissingValue
	}
	return Value{Number: v.Number + o.Number}
}

// String renders the value for tabular output; missing values are blank.
func (v Value) String() string {
	if v.Missing || math.IsNaN(v.Number) {
		return ""
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// ParseValue parses one T_DATA_DONNEE cell.
func ParseValue(raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return MissingValue, nil
	}
	if _, ok := suppressionMarkers[s]; ok {
		return MissingValue, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) {
		return Value{}, fmt.Errorf("%w: %q", ErrNonNumericValue, raw)
	}
	return Value{Number: n}, nil
}

// Lookup resolves an indicator within one topic theme. With a single code it
// returns the value of the one row carrying that HIER_ID. With several codes
// it sums the value of each code's row; a code with no row adds nothing, but
// at least one code must match.
func Lookup(p *Profile, theme string, codes ...string) (Value, error) {
	if len(codes) == 0 {
		return Value{}, fmt.Errorf("lookup %q: no hierarchy codes given", theme)
	}
	cols, err := p.columns()
	if err != nil {
		return Value{}, err
	}
	rows := p.themeRows(cols, theme)

	if len(codes) == 1 {
		return lookupCode(rows, cols, theme, codes[0])
	}

	sum := Value{}
	matched := 0
	for _, code := range codes {
		v, err := lookupCode(rows, cols, theme, code)
		if errors.Is(err, ErrIndicatorNotFound) {
			continue
		}
		if err != nil {
			return Value{}, err
		}
		matched++
		sum = sum.Add(v)
	}
	if matched == 0 {
		return Value{}, fmt.Errorf("%w: theme %q codes %v", ErrIndicatorNotFound, theme, codes)
	}
	return sum, nil
}

func (p *Profile) themeRows(cols profileColumns, theme string) [][]string {
	var out [][]string
	for _, row := range p.Rows {
		if len(row) <= cols.theme {
			continue
		}
		if strings.TrimSpace(row[cols.theme]) == theme {
			out = append(out, row)
		}
	}
	return out
}

func lookupCode(rows [][]string, cols profileColumns, theme, code string) (Value, error) {
	var hit []string
	for _, row := range rows {
		if len(row) <= cols.hierID || len(row) <= cols.value {
			continue
		}
		if strings.TrimSpace(row[cols.hierID]) != code {
			continue
		}
		if hit != nil {
			return Value{}, fmt.Errorf("%w: theme %q code %s", ErrAmbiguousIndicator, theme, code)
		}
		hit = row
	}
	if hit == nil {
		return Value{}, fmt.Errorf("%w: theme %q code %s", ErrIndicatorNotFound, theme, code)
	}
	v, err := ParseValue(hit[cols.value])
	if err != nil {
		return Value{}, fmt.Errorf("theme %q code %s: %w", theme, code, err)
	}
	return v, nil
}

package statcan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

// ErrUnparsableResponse marks API bodies that are empty or not a profile
// document. The fetcher skips these and retries them on a later run.
var ErrUnparsableResponse = errors.New("unparsable census profile response")

// profileResponse is the CPR2016.json document shape.
type profileResponse struct {
	Columns []string         `json:"COLUMNS"`
	Data    *[][]interface{} `json:"DATA"`
}

// DecodeProfile parses an API body into a profile table. The endpoint may
// prefix its JSON with "//"; that prefix is ignored.
func DecodeProfile(id census.ProfileID, body []byte) (*census.Profile, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	body = bytes.TrimSpace(bytes.TrimPrefix(body, []byte("//")))
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", ErrUnparsableResponse, id)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var resp profileResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnparsableResponse, id, err)
	}
	if len(resp.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s: no COLUMNS", ErrUnparsableResponse, id)
	}
	if resp.Data == nil || len(*resp.Data) == 0 {
		return nil, fmt.Errorf("%w: %s: no DATA", ErrUnparsableResponse, id)
	}

	rows := make([][]string, 0, len(*resp.Data))
	for i, raw := range *resp.Data {
		if len(raw) != len(resp.Columns) {
			return nil, fmt.Errorf("%w: %s: DATA row %d has %d cells, COLUMNS has %d",
				ErrUnparsableResponse, id, i, len(raw), len(resp.Columns))
		}
		row := make([]string, len(raw))
		for j, cell := range raw {
			row[j] = cellString(cell)
		}
		rows = append(rows, row)
	}

	return &census.Profile{
		ID:      id,
		Columns: append([]string(nil), resp.Columns...),
		Rows:    rows,
	}, nil
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

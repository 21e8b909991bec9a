package census

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeoUnitID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "canadian cbg", raw: "CA:59150029", want: "59150029"},
		{name: "plain area code", raw: "1234:56789012", want: "56789012"},
		{name: "extra segment ignored", raw: "CA:35200101:x", want: "35200101"},
		{name: "us cbg without separator", raw: "060750201001", wantErr: true},
		{name: "empty area code", raw: "CA:", wantErr: true},
		{name: "non numeric area code", raw: "CA:12ab", wantErr: true},
		{name: "query injection", raw: "CA:1&topic=1", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseGeoUnitID(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedIdentifier)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewProfileID(t *testing.T) {
	t.Parallel()

	area, err := ParseGeoUnitID("1234:56789012")
	require.NoError(t, err)
	assert.Equal(t, ProfileID("2016S051256789012"), NewProfileID(DefaultProfilePrefix, area))
}

func TestCacheSet(t *testing.T) {
	t.Parallel()

	s := NewCacheSet("2016S0512b", "2016S0512a")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("2016S0512a"))
	assert.False(t, s.Has("2016S0512c"))

	clone := s.Clone()
	clone.Add("2016S0512c")
	assert.False(t, s.Has("2016S0512c"), "clone must not alias the original")
	assert.Equal(t, []ProfileID{"2016S0512a", "2016S0512b", "2016S0512c"}, clone.IDs())
}

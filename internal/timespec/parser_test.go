package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		spec string
		want time.Time
	}{
		{"1h", now.Add(-time.Hour)},
		{"1h30m", now.Add(-90 * time.Minute)},
		{"7d", now.AddDate(0, 0, -7)},
		{"0d", now},
		{"2025-10-29T13:00:00Z", time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)},
		{"2025-10-01", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"  2h ", now.Add(-2 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want.UnixMilli(), got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, spec := range []string{"", "yesterday", "-1h", "xd", "2025-13-40"} {
		t.Run(spec, func(t *testing.T) {
			_, err := Parse(spec, now)
			assert.Error(t, err)
		})
	}
}

func TestParseRange(t *testing.T) {
	since, until, err := ParseRange("2d", "1d", now)
	require.NoError(t, err)
	assert.Less(t, since, until)

	since, until, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)

	_, _, err = ParseRange("1h", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, _, err = ParseRange("nope", "", now)
	assert.ErrorContains(t, err, "invalid --since")

	_, _, err = ParseRange("", "nope", now)
	assert.ErrorContains(t, err, "invalid --until")
}

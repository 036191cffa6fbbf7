package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-01-31",
		" 2024-01-31 ",
		"2024-01-31 00:00:00",
		"2024-01-31 13:45:00",
		"2024-01-31T07:00:00",
		"2024-01-31T07:00:00Z",
	} {
		t.Run(in, func(t *testing.T) {
			got, err := ParseDate(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	for _, in := range []string{"", "31/01/2024", "2024-02-30", "yesterday"} {
		_, err := ParseDate(in)
		assert.Error(t, err, in)
	}
}

func TestZoneColumns(t *testing.T) {
	assert.Equal(t, ColumnLuzonDemand, ZoneLuzon.DemandColumn())
	assert.Equal(t, ColumnLuzonPMIN, ZoneLuzon.PMINColumn())
	assert.Equal(t, Column("lvm_system_demand"), ZoneSystem.DemandColumn())
	assert.Equal(t, Column("lvm_pmin"), ZoneSystem.PMINColumn())

	seen := map[Column]bool{}
	for _, z := range Zones {
		assert.True(t, z.Valid())
		seen[z.DemandColumn()] = true
		seen[z.PMINColumn()] = true
	}
	assert.Len(t, seen, len(Columns), "every column belongs to exactly one zone")
	assert.False(t, Zone("Palawan").Valid())
}

func TestDateRangeIsSet(t *testing.T) {
	d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, DateRange{}.IsSet())
	assert.False(t, DateRange{Start: d}.IsSet())
	assert.False(t, DateRange{End: d}.IsSet())
	assert.True(t, DateRange{Start: d, End: d}.IsSet())
}

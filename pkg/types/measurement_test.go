package types

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeasurement(t *testing.T) {
	tests := []struct {
		in   string
		want Measurement
	}{
		{"100", Some(100)},
		{" 95.5 ", Some(95.5)},
		{"-3", Some(-3)},
		{"", None()},
		{"n/a", None()},
		{"NaN", None()},
		{"Inf", None()},
		{"12abc", None()},
		{"1_000", None()},
		{"0x1p3", None()},
		{"1e3", Some(1000)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMeasurement(tt.in))
		})
	}
}

func TestSome(t *testing.T) {
	assert.False(t, Some(math.NaN()).Valid)
	assert.False(t, Some(math.Inf(-1)).Valid)
	assert.True(t, Some(0).Valid)
}

func TestAtLeast(t *testing.T) {
	assert.True(t, Some(100).AtLeast(Some(90)))
	assert.True(t, Some(90).AtLeast(Some(90)))
	assert.False(t, Some(80).AtLeast(Some(90)))
	assert.False(t, None().AtLeast(Some(90)))
	assert.False(t, Some(100).AtLeast(None()))
	assert.False(t, None().AtLeast(None()))
}

func TestMeasurementJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Measurement{"a": Some(1.5), "b": None()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":null}`, string(b))

	var got map[string]Measurement
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, Some(1.5), got["a"])
	assert.Equal(t, None(), got["b"])
}

func TestZoneColumnMapping(t *testing.T) {
	assert.Equal(t, ColumnSystemDemand, ZoneSystem.DemandColumn())
	assert.Equal(t, ColumnSystemPMIN, ZoneSystem.PMINColumn())
	assert.Equal(t, ColumnVisayasPMIN, ZoneVisayas.PMINColumn())
	assert.True(t, ZoneMindanao.Valid())
	assert.False(t, Zone("Palawan").Valid())
	assert.Len(t, Columns, 2*len(Zones))
}

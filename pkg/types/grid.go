package types

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout used for delivery dates on the wire and in stores.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseDate parses a delivery date as stores return it and drops any time of
// day. The result is midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid delivery date %q", s)
}

// Zone is a regional grid zone that reports demand and PMIN.
type Zone string

const (
	ZoneLuzon    Zone = "Luzon"
	ZoneVisayas  Zone = "Visayas"
	ZoneMindanao Zone = "Mindanao"
	ZoneSystem   Zone = "System"
)

// Zones lists every zone in display order.
var Zones = []Zone{ZoneLuzon, ZoneVisayas, ZoneMindanao, ZoneSystem}

// Column is the name of a measurement column in the grid update table.
type Column string

const (
	ColumnLuzonDemand    Column = "luzon_demand"
	ColumnLuzonPMIN      Column = "luzon_pmin"
	ColumnVisayasDemand  Column = "visayas_demand"
	ColumnVisayasPMIN    Column = "visayas_pmin"
	ColumnMindanaoDemand Column = "mindanao_demand"
	ColumnMindanaoPMIN   Column = "mindanao_pmin"
	ColumnSystemDemand   Column = "lvm_system_demand"
	ColumnSystemPMIN     Column = "lvm_pmin"
)

// Columns lists every measurement column in table order.
var Columns = []Column{
	ColumnLuzonDemand, ColumnLuzonPMIN,
	ColumnVisayasDemand, ColumnVisayasPMIN,
	ColumnMindanaoDemand, ColumnMindanaoPMIN,
	ColumnSystemDemand, ColumnSystemPMIN,
}

var zoneColumns = map[Zone][2]Column{
	ZoneLuzon:    {ColumnLuzonDemand, ColumnLuzonPMIN},
	ZoneVisayas:  {ColumnVisayasDemand, ColumnVisayasPMIN},
	ZoneMindanao: {ColumnMindanaoDemand, ColumnMindanaoPMIN},
	ZoneSystem:   {ColumnSystemDemand, ColumnSystemPMIN},
}

// DemandColumn returns the column holding the zone's demand.
func (z Zone) DemandColumn() Column {
	return zoneColumns[z][0]
}

// PMINColumn returns the column holding the zone's minimum stable load.
func (z Zone) PMINColumn() Column {
	return zoneColumns[z][1]
}

// Valid reports whether z is one of the known zones.
func (z Zone) Valid() bool {
	_, ok := zoneColumns[z]
	return ok
}

// RawRow is a grid update as it comes out of a store. Values are kept as
// strings so that every coercion decision is made in one place. A column
// missing from Values was NULL.
type RawRow struct {
	DeliveryDate string
	DeliveryHour string
	Values       map[Column]string
}

// Reading is a normalized grid update keyed by Timestamp.
type Reading struct {
	Timestamp    time.Time            `json:"timestamp"`
	DeliveryDate time.Time            `json:"deliveryDate"`
	DeliveryHour int                  `json:"deliveryHour"`
	Demand       map[Zone]Measurement `json:"demand"`
	PMIN         map[Zone]Measurement `json:"pmin"`
}

// DateRange is an inclusive range of delivery dates. The zero value means
// no filter.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsSet returns true only when both bounds are present.
func (r DateRange) IsSet() bool {
	return !r.Start.IsZero() && !r.End.IsZero()
}

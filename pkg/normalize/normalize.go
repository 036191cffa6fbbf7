// Package normalize turns raw grid update rows into a clean, uniquely
// timestamped and time ordered sequence of readings.
package normalize

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/smdmonitor/smdmonitor/pkg/types"
)

// Rejection describes a raw row that could not be normalized.
type Rejection struct {
	// Index is the position of the row in the input.
	Index  int    `json:"index"`
	Date   string `json:"date"`
	Hour   string `json:"hour"`
	Reason string `json:"reason"`
}

// Result is the output of Normalize.
type Result struct {
	Readings []types.Reading
	Rejected []Rejection
}

// Normalize coerces, orders, fills and deduplicates rows. Rows with a
// malformed date or an hour outside 1..24 are rejected instead of guessed.
func Normalize(rows []types.RawRow) Result {
	var res Result
	parsed := make([]types.Reading, 0, len(rows))
	for i, row := range rows {
		date, err := types.ParseDate(row.DeliveryDate)
		if err != nil {
			res.Rejected = append(res.Rejected, reject(i, row, err))
			continue
		}
		hour, err := parseHour(row.DeliveryHour)
		if err != nil {
			res.Rejected = append(res.Rejected, reject(i, row, err))
			continue
		}
		// hour 24 is midnight of the following day
		if hour == 24 {
			hour = 0
			date = date.AddDate(0, 0, 1)
		}

		r := types.Reading{
			Timestamp:    date.Add(time.Duration(hour) * time.Hour),
			DeliveryDate: date,
			DeliveryHour: hour,
			Demand:       make(map[types.Zone]types.Measurement, len(types.Zones)),
			PMIN:         make(map[types.Zone]types.Measurement, len(types.Zones)),
		}
		for _, z := range types.Zones {
			r.Demand[z] = measurement(row, z.DemandColumn())
			r.PMIN[z] = measurement(row, z.PMINColumn())
		}
		parsed = append(parsed, r)
	}

	slices.SortStableFunc(parsed, func(a, b types.Reading) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	forwardFillPMIN(parsed)

	res.Readings = make([]types.Reading, 0, len(parsed))
	for _, r := range parsed {
		if !hasDemand(r) {
			continue
		}
		// rows are sorted so a duplicate can only be the previous one
		if n := len(res.Readings); n > 0 && res.Readings[n-1].Timestamp.Equal(r.Timestamp) {
			res.Readings[n-1] = r
			continue
		}
		res.Readings = append(res.Readings, r)
	}
	return res
}

func reject(i int, row types.RawRow, err error) Rejection {
	return Rejection{
		Index:  i,
		Date:   row.DeliveryDate,
		Hour:   row.DeliveryHour,
		Reason: err.Error(),
	}
}

func parseHour(s string) (int, error) {
	s = strings.TrimSpace(s)
	hour, err := strconv.Atoi(s)
	if err != nil {
		// decimal columns come back as "24.0" or "24.00"
		m := types.ParseMeasurement(s)
		if !m.Valid || m.Value != math.Trunc(m.Value) || math.Abs(m.Value) > 1e6 {
			return 0, fmt.Errorf("invalid delivery hour %q", s)
		}
		hour = int(m.Value)
	}
	if hour < 1 || hour > 24 {
		return 0, fmt.Errorf("delivery hour %d out of range 1-24", hour)
	}
	return hour, nil
}

func measurement(row types.RawRow, c types.Column) types.Measurement {
	v, ok := row.Values[c]
	if !ok {
		return types.None()
	}
	return types.ParseMeasurement(v)
}

// forwardFillPMIN carries the last observed PMIN of each zone into later
// readings that are missing one. Demand is never filled.
func forwardFillPMIN(readings []types.Reading) {
	for _, z := range types.Zones {
		var last types.Measurement
		for i := range readings {
			if readings[i].PMIN[z].Valid {
				last = readings[i].PMIN[z]
			} else if last.Valid {
				readings[i].PMIN[z] = last
			}
		}
	}
}

func hasDemand(r types.Reading) bool {
	for _, z := range types.Zones {
		if r.Demand[z].Valid {
			return true
		}
	}
	return false
}

// Package compliance checks zone demand against the minimum stable load.
package compliance

import (
	"math"
	"time"

	"github.com/smdmonitor/smdmonitor/pkg/types"
)

// yAxisHeadroom is the multiplier applied to peak demand for the chart ceiling.
const yAxisHeadroom = 1.1

// Stats summarizes one zone over a set of readings.
type Stats struct {
	Peak           types.Measurement `json:"peak"`
	Mean           types.Measurement `json:"mean"`
	Min            types.Measurement `json:"min"`
	ComplianceRate types.Measurement `json:"complianceRate"`
	ViolationCount int               `json:"violationCount"`
	Intervals      int               `json:"intervals"`
}

// Violation is a reading where demand was below PMIN or either was missing.
type Violation struct {
	Timestamp time.Time         `json:"timestamp"`
	Demand    types.Measurement `json:"demand"`
	PMIN      types.Measurement `json:"pmin"`
}

// ZoneReport is everything the dashboard needs for one zone.
type ZoneReport struct {
	Zone       types.Zone        `json:"zone"`
	Stats      Stats             `json:"stats"`
	YAxisMax   types.Measurement `json:"yAxisMax"`
	Compliance []bool            `json:"compliance"`
	Violations []Violation       `json:"violations"`
}

// Evaluate computes compliance for a zone. Readings are expected in time
// order; the report keeps that order.
func Evaluate(readings []types.Reading, zone types.Zone) ZoneReport {
	rep := ZoneReport{
		Zone:       zone,
		Compliance: make([]bool, len(readings)),
		Violations: []Violation{},
	}

	var (
		sum, peak, low float64
		valid          int
		compliant      int
	)
	peak = math.Inf(-1)
	low = math.Inf(1)
	for i, r := range readings {
		demand := r.Demand[zone]
		pmin := r.PMIN[zone]
		if demand.Valid {
			valid++
			sum += demand.Value
			peak = math.Max(peak, demand.Value)
			low = math.Min(low, demand.Value)
		}
		ok := demand.AtLeast(pmin)
		rep.Compliance[i] = ok
		if ok {
			compliant++
			continue
		}
		rep.Violations = append(rep.Violations, Violation{
			Timestamp: r.Timestamp,
			Demand:    demand,
			PMIN:      pmin,
		})
	}

	rep.Stats.Intervals = len(readings)
	rep.Stats.ViolationCount = len(readings) - compliant
	if valid > 0 {
		rep.Stats.Peak = types.Some(peak)
		rep.Stats.Mean = types.Some(sum / float64(valid))
		rep.Stats.Min = types.Some(low)
		rep.YAxisMax = types.Some(peak * yAxisHeadroom)
	}
	if len(readings) > 0 {
		rep.Stats.ComplianceRate = types.Some(float64(compliant) / float64(len(readings)) * 100)
	}
	return rep
}

// EvaluateAll evaluates every zone in display order.
func EvaluateAll(readings []types.Reading) []ZoneReport {
	reports := make([]ZoneReport, 0, len(types.Zones))
	for _, z := range types.Zones {
		reports = append(reports, Evaluate(readings, z))
	}
	return reports
}

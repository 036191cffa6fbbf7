package main

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/smdmonitor/smdmonitor/pkg/log"
	"github.com/smdmonitor/smdmonitor/pkg/storage"
	"github.com/smdmonitor/smdmonitor/pkg/types"
)

// zoneProfile is the typical load of a zone in MW.
type zoneProfile struct {
	zone   types.Zone
	demand float64
	pmin   float64
}

var profiles = []zoneProfile{
	{types.ZoneLuzon, 9500, 7200},
	{types.ZoneVisayas, 2100, 1600},
	{types.ZoneMindanao, 2300, 1750},
}

const (
	missingPMINChance = 0.04
	dipChance         = 0.03
)

func main() {
	span := lflag.Duration("span", 7*24*time.Hour, "How much history to generate, in whole hours")
	end := lflag.String("end", "", "Last delivery date to generate (YYYY-MM-DD, defaults to today)")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	last := time.Now().UTC()
	if *end != "" {
		var err error
		last, err = types.ParseDate(*end)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid end date", slog.Any("error", err))
			os.Exit(1)
		}
	}
	hours := int(*span / time.Hour)
	if hours <= 0 {
		log.Ctx(ctx).ErrorContext(ctx, "span must be at least one hour", slog.Duration("span", *span))
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rows := generate(rng, last, hours)

	log.Ctx(ctx).InfoContext(ctx, "seeding grid updates", slog.Int("rows", len(rows)), slog.String("first", rows[0].DeliveryDate), slog.String("last", rows[len(rows)-1].DeliveryDate))
	if err := s.InsertGridUpdates(ctx, rows); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed grid updates", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "done seeding")
}

// generate builds the hourly rows that end at hour 24 of the last day. Hours
// are reported 1..24 the way the market reports delivery intervals.
func generate(rng *rand.Rand, last time.Time, hours int) []types.RawRow {
	endOfDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	rows := make([]types.RawRow, 0, hours)
	for i := hours - 1; i >= 0; i-- {
		ts := endOfDay.Add(-time.Duration(i) * time.Hour)
		date, hour := ts, ts.Hour()
		if hour == 0 {
			date, hour = ts.AddDate(0, 0, -1), 24
		}

		// daily curve peaking mid-afternoon
		curve := 0.85 + 0.2*math.Sin(float64(ts.Hour()-8)/24*2*math.Pi)

		values := make(map[types.Column]string, len(types.Columns))
		var systemDemand, systemPMIN float64
		for _, p := range profiles {
			demand := p.demand * curve * (0.97 + rng.Float64()*0.06)
			if rng.Float64() < dipChance {
				demand = p.pmin * (0.85 + rng.Float64()*0.1)
			}
			systemDemand += demand
			systemPMIN += p.pmin

			values[p.zone.DemandColumn()] = format(demand)
			if rng.Float64() >= missingPMINChance {
				values[p.zone.PMINColumn()] = format(p.pmin)
			}
		}
		values[types.ZoneSystem.DemandColumn()] = format(systemDemand)
		if rng.Float64() >= missingPMINChance {
			values[types.ZoneSystem.PMINColumn()] = format(systemPMIN)
		}

		rows = append(rows, types.RawRow{
			DeliveryDate: date.Format(types.DateLayout),
			DeliveryHour: strconv.Itoa(hour),
			Values:       values,
		})
	}
	return rows
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

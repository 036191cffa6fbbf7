package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/smdmonitor/smdmonitor/pkg/compliance"
	"github.com/smdmonitor/smdmonitor/pkg/log"
	"github.com/smdmonitor/smdmonitor/pkg/metrics"
	"github.com/smdmonitor/smdmonitor/pkg/normalize"
	"github.com/smdmonitor/smdmonitor/pkg/types"
)

const (
	stateEmpty  = "empty"
	stateLoaded = "loaded"

	noDataWarning = "No data found for the selected date range."

	// timestampLayout has no zone so the chart draws wall clock hours.
	timestampLayout = "2006-01-02 15:04:05"

	missingDisplay = "n/a"
)

type rangeResponse struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type readingResponse struct {
	Timestamp string                           `json:"timestamp"`
	Demand    map[types.Zone]types.Measurement `json:"demand"`
	PMIN      map[types.Zone]types.Measurement `json:"pmin"`
}

type displayResponse struct {
	Peak           string `json:"peak"`
	Mean           string `json:"mean"`
	Min            string `json:"min"`
	ComplianceRate string `json:"complianceRate"`
	Violations     string `json:"violations"`
}

type axisResponse struct {
	Min float64           `json:"min"`
	Max types.Measurement `json:"max"`
}

type violationResponse struct {
	Timestamp string            `json:"timestamp"`
	Demand    types.Measurement `json:"demand"`
	PMIN      types.Measurement `json:"pmin"`
}

type zoneResponse struct {
	Zone       types.Zone          `json:"zone"`
	Stats      compliance.Stats    `json:"stats"`
	Display    displayResponse     `json:"display"`
	YAxis      axisResponse        `json:"yAxis"`
	Compliance []bool              `json:"compliance"`
	Violations []violationResponse `json:"violations"`
}

type dashboardResponse struct {
	State    string            `json:"state"`
	Warning  string            `json:"warning,omitempty"`
	Range    *rangeResponse    `json:"range,omitempty"`
	Readings []readingResponse `json:"readings,omitempty"`
	Zones    []zoneResponse    `json:"zones,omitempty"`
	Rejected int               `json:"rejected"`
}

// parseDateRange reads start and end from the query. A range is only applied
// when both are given.
func parseDateRange(r *http.Request) (types.DateRange, error) {
	q := r.URL.Query()
	start := strings.TrimSpace(q.Get("start"))
	end := strings.TrimSpace(q.Get("end"))
	if start == "" || end == "" {
		return types.DateRange{}, nil
	}
	s, err := time.Parse(types.DateLayout, start)
	if err != nil {
		return types.DateRange{}, fmt.Errorf("invalid start date %q", start)
	}
	e, err := time.Parse(types.DateLayout, end)
	if err != nil {
		return types.DateRange{}, fmt.Errorf("invalid end date %q", end)
	}
	if e.Before(s) {
		return types.DateRange{}, errors.New("end date is before start date")
	}
	return types.DateRange{Start: s, End: e}, nil
}

func newRangeResponse(r types.DateRange) *rangeResponse {
	if r.IsSet() {
		return &rangeResponse{Start: r.Start.Format(types.DateLayout), End: r.End.Format(types.DateLayout)}
	}
	return nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	started := time.Now()

	dr, err := parseDateRange(r)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid dashboard range", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if dr.IsSet() {
		ctx = log.With(ctx, log.Ctx(ctx).With(
			slog.String("start", dr.Start.Format(types.DateLayout)),
			slog.String("end", dr.End.Format(types.DateLayout)),
		))
	}

	rows, err := s.storage.GetGridUpdates(ctx, dr)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load grid updates", slog.Any("error", err))
		s.metrics.ObserveLoad(metrics.ResultError, time.Since(started))
		writeJSONError(w, "failed to load grid data", http.StatusInternalServerError)
		return
	}

	res := normalize.Normalize(rows)
	if len(res.Rejected) > 0 {
		first := res.Rejected[0]
		log.Ctx(ctx).WarnContext(
			ctx,
			"rejected grid update rows",
			slog.Int("count", len(res.Rejected)),
			slog.String("firstDate", first.Date),
			slog.String("firstHour", first.Hour),
			slog.String("firstReason", first.Reason),
		)
		s.metrics.AddRejected(len(res.Rejected))
	}

	w.Header().Set("Cache-Control", "no-store")

	if len(res.Readings) == 0 {
		s.metrics.ObserveLoad(metrics.ResultEmpty, time.Since(started))
		log.Ctx(ctx).InfoContext(ctx, "no grid updates in range", slog.Int("rows", len(rows)))
		writeJSON(w, dashboardResponse{
			State:    stateEmpty,
			Warning:  noDataWarning,
			Range:    newRangeResponse(dr),
			Rejected: len(res.Rejected),
		})
		return
	}

	reports := compliance.EvaluateAll(res.Readings)
	for _, rep := range reports {
		s.metrics.SetViolations(rep.Zone, rep.Stats.ViolationCount)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishReports(ctx, dr, reports); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish compliance summaries", slog.Any("error", err))
		}
	}

	resp := dashboardResponse{
		State:    stateLoaded,
		Range:    newRangeResponse(dr),
		Readings: make([]readingResponse, len(res.Readings)),
		Zones:    make([]zoneResponse, len(reports)),
		Rejected: len(res.Rejected),
	}
	for i, rd := range res.Readings {
		resp.Readings[i] = readingResponse{
			Timestamp: rd.Timestamp.Format(timestampLayout),
			Demand:    rd.Demand,
			PMIN:      rd.PMIN,
		}
	}
	for i, rep := range reports {
		resp.Zones[i] = newZoneResponse(rep)
	}

	s.metrics.ObserveLoad(metrics.ResultLoaded, time.Since(started))
	log.Ctx(ctx).InfoContext(
		ctx,
		"dashboard loaded",
		slog.Int("readings", len(res.Readings)),
		slog.Int("rejected", len(res.Rejected)),
		slog.Duration("took", time.Since(started)),
	)
	writeJSON(w, resp)
}

func newZoneResponse(rep compliance.ZoneReport) zoneResponse {
	z := zoneResponse{
		Zone:  rep.Zone,
		Stats: rep.Stats,
		Display: displayResponse{
			Peak:           formatMW(rep.Stats.Peak),
			Mean:           formatMW(rep.Stats.Mean),
			Min:            formatMW(rep.Stats.Min),
			ComplianceRate: formatPercent(rep.Stats.ComplianceRate),
			Violations:     humanize.Comma(int64(rep.Stats.ViolationCount)),
		},
		YAxis:      axisResponse{Min: 0, Max: rep.YAxisMax},
		Compliance: rep.Compliance,
		Violations: make([]violationResponse, len(rep.Violations)),
	}
	for i, v := range rep.Violations {
		z.Violations[i] = violationResponse{
			Timestamp: v.Timestamp.Format(timestampLayout),
			Demand:    v.Demand,
			PMIN:      v.PMIN,
		}
	}
	return z
}

// formatMW renders a whole number of megawatts with thousands separators.
func formatMW(m types.Measurement) string {
	if !m.Valid {
		return missingDisplay
	}
	return humanize.Comma(int64(math.RoundToEven(m.Value))) + " MW"
}

func formatPercent(m types.Measurement) string {
	if !m.Valid {
		return missingDisplay
	}
	return strconv.FormatFloat(m.Value, 'f', 1, 64) + "%"
}

type boundsResponse struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

func (s *Server) handleBounds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dr, err := s.storage.GetDateBounds(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get date bounds", slog.Any("error", err))
		writeJSONError(w, "failed to load date bounds", http.StatusInternalServerError)
		return
	}
	var resp boundsResponse
	if dr.IsSet() {
		resp.Start = dr.Start.Format(types.DateLayout)
		resp.End = dr.End.Format(types.DateLayout)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}

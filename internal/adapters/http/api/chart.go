package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/okian/sitwell/internal/domain/model"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// SessionReader reads stored sessions.
type SessionReader interface {
	Session(ctx context.Context, id string) (model.SessionRecord, error)
}

// ChartHandler renders per-session alert charts.
type ChartHandler struct {
	deps SessionReader
}

// NewChartHandler creates a new chart handler.
func NewChartHandler(deps SessionReader) *ChartHandler {
	return &ChartHandler{deps: deps}
}

// ChannelStats aggregates the timeline of one channel.
type ChannelStats struct {
	Channel  model.Channel
	Episodes int
	Seconds  float64
}

// TimelineStats summarizes a record's intervals per timeline channel. Open
// intervals count up to the record's last frame.
func TimelineStats(rec model.SessionRecord) []ChannelStats { //nolint:gocritic // hugeParam
	out := make([]ChannelStats, 0, len(model.TimelineChannels))
	for _, ch := range model.TimelineChannels {
		st := ChannelStats{Channel: ch}
		var frames int
		for _, iv := range rec.Timeline[ch] {
			st.Episodes++
			frames += iv.Len(rec.TotalFrames)
		}
		if rec.FPS > 0 {
			st.Seconds = float64(frames) / rec.FPS
		}
		out = append(out, st)
	}
	return out
}

// HandleChart handles GET /sessions/{id}/chart requests.
func (h *ChartHandler) HandleChart(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, fmt.Errorf("api.chart: %w", err))
		return
	}

	stats := TimelineStats(rec)
	x := make([]string, len(stats))
	seconds := make([]opts.BarData, len(stats))
	episodes := make([]opts.BarData, len(stats))
	for i, st := range stats {
		x[i] = string(st.Channel)
		seconds[i] = opts.BarData{Value: st.Seconds}
		episodes[i] = opts.BarData{Value: st.Episodes}
	}

	duration := time.Duration(0)
	if rec.FPS > 0 {
		duration = time.Duration(float64(rec.TotalFrames) / rec.FPS * float64(time.Second)).Round(time.Second)
	}
	subtitle := fmt.Sprintf("session=%s frames=%d rejected=%d duration=%s", rec.ID, rec.TotalFrames, rec.RejectedFrames, duration)

	alerted := charts.NewBar()
	alerted.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Session alerts", Width: "100%", Height: "480px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Time in alert (s)", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	alerted.SetXAxis(x).
		AddSeries("seconds", seconds,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	counts := charts.NewBar()
	counts.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Alert episodes"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	counts.SetXAxis(x).
		AddSeries("episodes", episodes,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(alerted, counts)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, "render_error", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

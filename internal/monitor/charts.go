package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/blockview/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleBlocksChart renders a bar chart of instances per block batch for
// the displayed root.
func (s *Server) handleBlocksChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	root := s.currentRoot(w)
	if root == nil {
		return
	}
	sum := root.Summarize()
	if len(sum.PerBatch) == 0 {
		httputil.NotFound(w, fmt.Sprintf("displayed %s root has no block batches", root.Kind))
		return
	}

	names := make([]string, 0, len(sum.PerBatch))
	for name := range sum.PerBatch {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := sum.PerBatch[names[i]], sum.PerBatch[names[j]]
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	data := make([]opts.BarData, len(names))
	for i, name := range names {
		data[i] = opts.BarData{Value: sum.PerBatch[name]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Block Palette", Width: "100%", Height: "720px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Blocks per type", Subtitle: fmt.Sprintf("root=%s blocks=%d types=%d", root.ID, sum.Instances, sum.Batches)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 45}}),
	)
	bar.SetXAxis(names).
		AddSeries("blocks", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	s.renderPage(w, bar)
}

// handleStagesChart renders mean and max stage durations from the history
// database.
func (s *Server) handleStagesChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.config.DB == nil {
		httputil.NotFound(w, "no history database")
		return
	}
	timings, err := s.config.DB.StageTimings()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load stage timings: %v", err))
		return
	}
	if len(timings) == 0 {
		httputil.NotFound(w, "no stages recorded yet")
		return
	}

	x := make([]string, len(timings))
	mean := make([]opts.BarData, len(timings))
	maxMs := make([]opts.BarData, len(timings))
	calls := 0
	for i, t := range timings {
		x[i] = fmt.Sprintf("%s (%d/%d)", t.Stage, t.Calls-t.Failures, t.Calls)
		mean[i] = opts.BarData{Value: t.MeanMs}
		maxMs[i] = opts.BarData{Value: t.MaxMs}
		calls += t.Calls
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Stage Timings", Width: "100%", Height: "720px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Stage durations (ms)", Subtitle: fmt.Sprintf("calls=%d, successes only", calls)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("mean", mean).
		AddSeries("max", maxMs)
	s.renderPage(w, bar)
}

func (s *Server) renderPage(w http.ResponseWriter, c components.Charter) {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(c)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

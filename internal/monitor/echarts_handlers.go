package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scenesynth/internal/httputil"
	"github.com/banshee-data/scenesynth/internal/scene"
)

// heatmapPalette runs from still (dark) to moving (bright).
var heatmapPalette = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// gridHeatmap builds a heatmap of one grid metric. metric is "motion" or
// "brightness".
func gridHeatmap(g scene.Grid, metric string) (*charts.HeatMap, error) {
	var value func(scene.Cell) float64
	switch metric {
	case "", "motion":
		metric = "motion"
		value = func(c scene.Cell) float64 { return c.Motion }
	case "brightness":
		value = func(c scene.Cell) float64 { return c.Brightness }
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	cols := make([]string, g.Cols)
	for x := range cols {
		cols[x] = strconv.Itoa(x)
	}
	rows := make([]string, g.Rows)
	for y := range rows {
		// Row 0 is the top of the frame; echarts draws the first category at
		// the bottom, so label rows in reverse.
		rows[y] = strconv.Itoa(g.Rows - 1 - y)
	}

	data := make([]opts.HeatMapData, 0, len(g.Cells))
	for _, c := range g.Cells {
		data = append(data, opts.HeatMapData{Value: [3]interface{}{c.X, g.Rows - 1 - c.Y, value(c)}})
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "scenesynth grid", Theme: "dark", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Analysis grid", Subtitle: fmt.Sprintf("%s, %dx%d cells", metric, g.Cols, g.Rows)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: cols, Name: "column"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: rows, Name: "row"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			InRange:    &opts.VisualMapInRange{Color: heatmapPalette},
		}),
	)
	hm.AddSeries(metric, data)
	return hm, nil
}

// handleGridHeatmap renders the latest grid as an HTML heatmap. The metric
// query parameter selects motion (default) or brightness.
func (ws *WebServer) handleGridHeatmap(w http.ResponseWriter, r *http.Request) {
	g, ok := ws.cfg.Grid.Last()
	if !ok {
		httputil.NotFound(w, "no grid analysed yet")
		return
	}
	hm, err := gridHeatmap(g, r.URL.Query().Get("metric"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

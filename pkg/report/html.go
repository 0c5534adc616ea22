// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"math"
	"os"
	"slices"

	grob "github.com/MetalBlueberry/go-plotly/generated/v2.34.0/graph_objects"
	ptypes "github.com/MetalBlueberry/go-plotly/pkg/types"
	mg "github.com/erkkah/margaid"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/pkg/errors"
)

// HistoryPage is the file name of the HTML training history page, in the report directory.
const HistoryPage = "history.html"

// PlotlyCDN is where the page loads Plotly.js from.
var PlotlyCDN = "https://cdn.plot.ly/plotly-2.34.0.min.js"

// historyFigure is one metric type (loss or accuracy) of the history page.
type historyFigure struct {
	ID         string
	MetricType string
	// JSON of the Plotly figure.
	JSON template.JS
	// SVG is a static rendering, shown if Plotly.js can't be loaded.
	SVG template.HTML
}

var historyTemplate = template.Must(template.New("history").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.PlotlyCDN}}"></script>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Figures}}
<div id="{{.ID}}"><noscript>{{.SVG}}</noscript></div>
<script>
if (typeof Plotly !== "undefined") {
	var fig = {{.JSON}};
	Plotly.newPlot("{{.ID}}", fig.data, fig.layout);
} else {
	document.getElementById("{{.ID}}").innerHTML = {{printf "%s" .SVG}};
}
</script>
{{end}}
</body>
</html>
`))

// WriteHistoryHTML writes an interactive page with one figure per metric type found in points.
func WriteHistoryHTML(points []plots.Point, title, filePath string) error {
	figures, err := historyFigures(points)
	if err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating history page %q", filePath)
	}
	err = historyTemplate.Execute(f, map[string]any{
		"Title":     title,
		"PlotlyCDN": PlotlyCDN,
		"Figures":   figures,
	})
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing history page %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing history page %q", filePath)
}

// metricSeries holds the points of one metric type, grouped by metric name.
type metricSeries struct {
	names      []string
	steps      map[string][]float64
	values     map[string][]float64
	allX, allY []float64
}

func groupByMetricType(points []plots.Point) (types []string, byType map[string]*metricSeries) {
	byType = make(map[string]*metricSeries)
	for _, pt := range points {
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			continue
		}
		s, found := byType[pt.MetricType]
		if !found {
			s = &metricSeries{steps: make(map[string][]float64), values: make(map[string][]float64)}
			byType[pt.MetricType] = s
			types = append(types, pt.MetricType)
		}
		if _, found := s.steps[pt.MetricName]; !found {
			s.names = append(s.names, pt.MetricName)
		}
		s.steps[pt.MetricName] = append(s.steps[pt.MetricName], pt.Step)
		s.values[pt.MetricName] = append(s.values[pt.MetricName], pt.Value)
		s.allX = append(s.allX, pt.Step)
		s.allY = append(s.allY, pt.Value)
	}
	slices.Sort(types)
	for _, s := range byType {
		slices.Sort(s.names)
	}
	return
}

func historyFigures(points []plots.Point) ([]historyFigure, error) {
	types, byType := groupByMetricType(points)
	if len(types) == 0 {
		return nil, errors.New("no history points to plot")
	}
	figures := make([]historyFigure, 0, len(types))
	for ii, metricType := range types {
		s := byType[metricType]
		figJSON, err := json.Marshal(plotlyFigure(metricType, s))
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %q figure", metricType)
		}
		svg, err := svgFigure(metricType, s, 800, 400)
		if err != nil {
			return nil, err
		}
		figures = append(figures, historyFigure{
			ID:         fmt.Sprintf("figure_%d", ii),
			MetricType: metricType,
			JSON:       template.JS(figJSON),
			SVG:        template.HTML(svg),
		})
	}
	return figures, nil
}

func plotlyFigure(metricType string, s *metricSeries) *grob.Fig {
	fig := &grob.Fig{
		Layout: &grob.Layout{
			Title: &grob.LayoutTitle{
				Text: ptypes.S(metricType),
			},
			Xaxis: &grob.LayoutXaxis{
				Showgrid: ptypes.B(true),
				Title:    &grob.LayoutXaxisTitle{Text: ptypes.S("Epoch")},
			},
			Yaxis: &grob.LayoutYaxis{
				Showgrid: ptypes.B(true),
			},
			Legend: &grob.LayoutLegend{},
		},
	}
	for _, name := range s.names {
		fig.Data = append(fig.Data, &grob.Scatter{
			Name: ptypes.S(name),
			Line: &grob.ScatterLine{
				Shape: grob.ScatterLineShapeLinear,
			},
			Mode: "lines+markers",
			X:    ptypes.DataArray(s.steps[name]),
			Y:    ptypes.DataArray(s.values[name]),
		})
	}
	return fig
}

// svgFigure renders the series with margaid.
func svgFigure(metricType string, s *metricSeries, width, height int) (string, error) {
	allPoints := mg.NewSeries()
	allSeries := make([]*mg.Series, 0, len(s.names))
	for _, name := range s.names {
		series := mg.NewSeries(mg.Titled(name))
		for ii, step := range s.steps[name] {
			v := mg.MakeValue(step, s.values[name][ii])
			series.Add(v)
			allPoints.Add(v)
		}
		allSeries = append(allSeries, series)
	}
	diagram := mg.New(width, height,
		axisRange(mg.XAxis, s.allX, allSeries),
		axisRange(mg.YAxis, s.allY, allSeries),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, series := range allSeries {
		diagram.Line(series, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epoch")
	diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, metricType)
	diagram.Frame()
	diagram.Title(fmt.Sprintf("%s metrics", metricType))
	diagram.Legend(mg.BottomLeft)
	buf := bytes.NewBuffer(nil)
	if err := diagram.Render(buf); err != nil {
		return "", errors.Wrapf(err, "failed to render plot for %q", metricType)
	}
	return buf.String(), nil
}

// axisRange autoranges the axis, except when all values are the same (a single epoch), where it
// uses a fixed range around the value.
func axisRange(axis mg.Axis, values []float64, allSeries []*mg.Series) mg.Option {
	lo, hi := slices.Min(values), slices.Max(values)
	if lo == hi {
		return mg.WithRange(axis, lo-1, hi+1)
	}
	return mg.WithAutorange(axis, allSeries...)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"slices"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/gomlx/sicklecell/pkg/cells"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// File names of the figures, in the report directory.
const (
	HistoryFigure      = "history.png"
	CountsFigure       = "prediction_counts.png"
	ConfusionFigure    = "confusion_matrix.png"
	AugmentationFigure = "augmentation_preview.png"
)

// classNames used as axis labels.
var classNames = []string{cells.Control.String(), cells.SCD.String()}

// PlotHistory renders the loss and accuracy curves (one line per metric name, step on the x-axis)
// side by side, and saves them as a PNG image.
func PlotHistory(points []plots.Point, filePath string) error {
	var panels []*plot.Plot
	for _, metricType := range []string{metrics.LossMetricType, metrics.AccuracyMetricType} {
		p, err := metricTypePlot(points, metricType)
		if err != nil {
			return err
		}
		panels = append(panels, p)
	}
	return saveTiled(panels, 12*vg.Inch, 5*vg.Inch, filePath)
}

func metricTypePlot(points []plots.Point, metricType string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s per epoch", metricType)
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = metricType
	p.Legend.Top = metricType == metrics.AccuracyMetricType
	p.Add(plotter.NewGrid())

	var names []string
	lines := make(map[string]plotter.XYs)
	for _, pt := range points {
		if pt.MetricType != metricType {
			continue
		}
		if _, found := lines[pt.MetricName]; !found {
			names = append(names, pt.MetricName)
		}
		lines[pt.MetricName] = append(lines[pt.MetricName], plotter.XY{X: pt.Step, Y: pt.Value})
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no %q points to plot", metricType)
	}
	slices.Sort(names)
	var args []any
	for _, name := range names {
		args = append(args, name, lines[name])
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return nil, errors.Wrapf(err, "plotting %q curves", metricType)
	}
	return p, nil
}

// saveTiled draws the plots in one row and saves the result as PNG.
func saveTiled(panels []*plot.Plot, width, height vg.Length, filePath string) error {
	img := vgimg.New(width, height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      1,
		Cols:      len(panels),
		PadX:      vg.Millimeter * 8,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align([][]*plot.Plot{panels}, tiles, dc)
	for ii, p := range panels {
		p.Draw(canvases[0][ii])
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating figure %q", filePath)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err = png.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing figure %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing figure %q", filePath)
}

// PlotCounts renders a bar chart with the number of predictions of each class.
func PlotCounts(counts [cells.NumClasses]int, filePath string) error {
	p := plot.New()
	p.Title.Text = "Predicted classes"
	p.Y.Label.Text = "Count"
	values := make(plotter.Values, len(counts))
	for ii, c := range counts {
		values[ii] = float64(c)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(60))
	if err != nil {
		return errors.Wrap(err, "creating counts bar chart")
	}
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalX(classNames...)
	return errors.Wrapf(p.Save(5*vg.Inch, 4*vg.Inch, filePath), "saving figure %q", filePath)
}

// confusionGrid implements plotter.GridXYZ: columns are predictions and rows the ground truth.
type confusionGrid ConfusionMatrix

func (g confusionGrid) Dims() (c, r int)   { return cells.NumClasses, cells.NumClasses }
func (g confusionGrid) Z(c, r int) float64 { return float64(g[r][c]) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }

// PlotConfusion renders the confusion matrix as a heat map annotated with the counts.
func PlotConfusion(cm ConfusionMatrix, filePath string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Confusion matrix (%d samples)", cm.Total())
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Ground truth"

	grid := confusionGrid(cm)
	heatMap := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	if heatMap.Max == heatMap.Min {
		heatMap.Max = heatMap.Min + 1
	}
	p.Add(heatMap)

	var xys plotter.XYs
	var texts []string
	for r := range cells.NumClasses {
		for c := range cells.NumClasses {
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(r)})
			texts = append(texts, fmt.Sprintf("%d", cm[r][c]))
		}
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return errors.Wrap(err, "creating confusion matrix labels")
	}
	p.Add(labels)
	p.NominalX(classNames...)
	p.NominalY(classNames...)
	return errors.Wrapf(p.Save(5*vg.Inch, 5*vg.Inch, filePath), "saving figure %q", filePath)
}

// SaveImageGrid pastes the images (which must all have the same size) in a grid with cols columns,
// and saves it to filePath. The format is given by the extension.
func SaveImageGrid(images []image.Image, cols int, filePath string) error {
	if len(images) == 0 {
		return errors.New("no images to save")
	}
	if cols <= 0 {
		cols = len(images)
	}
	cols = min(cols, len(images))
	rows := (len(images) + cols - 1) / cols
	size := images[0].Bounds().Size()
	const margin = 2
	grid := imaging.New(cols*(size.X+margin)+margin, rows*(size.Y+margin)+margin, color.White)
	for ii, img := range images {
		x := margin + (ii%cols)*(size.X+margin)
		y := margin + (ii/cols)*(size.Y+margin)
		grid = imaging.Paste(grid, img, image.Pt(x, y))
	}
	return errors.Wrapf(imaging.Save(grid, filePath), "saving image grid %q", filePath)
}

package reid

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// MaxPlotRank is the number of ranks shown on the x axis of a CMC chart.
var MaxPlotRank = 50

// NewCMCPlot returns a chart with one line per curve giving the match rate in percent against rank.
// Curves are drawn in name order.
func NewCMCPlot(curves map[string][]float64) (*plot.Plot, error) {
	if len(curves) == 0 {
		return nil, errors.New("plot cmc: no curves")
	}
	p := plot.New()
	p.Title.Text = "Cumulative match characteristic"
	p.X.Label.Text = "rank"
	p.Y.Label.Text = "match rate %"
	p.X.Min, p.Y.Min, p.Y.Max = 1, 0, 100
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -vg.Points(10)
	p.Legend.YOffs = -vg.Points(10)
	p.Add(plotter.NewGrid())
	names := make([]string, 0, len(curves))
	for name := range curves {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		cmc := curves[name]
		n := len(cmc)
		if n > MaxPlotRank {
			n = MaxPlotRank
		}
		pts := make(plotter.XYs, n)
		for k := range pts {
			pts[k].X = float64(k + 1)
			pts[k].Y = 100 * cmc[k]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.Wrapf(err, "plot cmc %s", name)
		}
		line.Width = vg.Points(2)
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	return p, nil
}

// PlotCMC saves a chart of the curves to filePath, the format is taken from the file extension
// (svg, png, pdf or eps).
func PlotCMC(filePath string, curves map[string][]float64) error {
	p, err := NewCMCPlot(curves)
	if err != nil {
		return err
	}
	return errors.Wrap(p.Save(6*vg.Inch, 4*vg.Inch, filePath), "plot cmc")
}

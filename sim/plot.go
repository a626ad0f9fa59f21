package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg/draw"
)

// NewEulerPlot creates a plot of Euler angle traces from two data sources:
// truth:  true roll/pitch/yaw of the simulated body
// filter: roll/pitch/yaw estimated by the filter
// Both matrices store one row per step: time in column 0, then roll, pitch
// and yaw in radians.
// It returns error if either matrix is nil or does not have 4 columns.
func NewEulerPlot(truth, filter *mat.Dense) (*plot.Plot, error) {
	if truth == nil || filter == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}

	_, ct := truth.Dims()
	_, cf := filter.Dims()
	if ct != 4 || cf != 4 {
		return nil, fmt.Errorf("invalid data dimensions")
	}

	p := plot.New()

	p.Title.Text = "Attitude"
	p.X.Label.Text = "t [s]"
	p.Y.Label.Text = "angle [rad]"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	names := []string{"roll", "pitch", "yaw"}
	truthColors := []color.RGBA{
		{R: 255, A: 255},
		{G: 180, A: 255},
		{B: 255, A: 255},
	}

	for i, name := range names {
		line, err := plotter.NewLine(makePoints(truth, i+1))
		if err != nil {
			return nil, err
		}
		line.Color = truthColors[i]

		p.Add(line)
		p.Legend.Add(name, line)

		scatter, err := plotter.NewScatter(makePoints(filter, i+1))
		if err != nil {
			return nil, fmt.Errorf("failed to create scatter: %v", err)
		}
		scatter.GlyphStyle.Color = truthColors[i]
		scatter.Shape = draw.CrossGlyph{}

		p.Add(scatter)
		p.Legend.Add(name+" est", scatter)
	}

	return p, nil
}

func makePoints(m *mat.Dense, col int) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, col)
	}

	return pts
}

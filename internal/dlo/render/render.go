// Package render draws tracker snapshots for offline inspection: a PNG of
// the X-Y projection and an interactive 3-D HTML scatter.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

// ErrEmptySnapshot is returned when there is nothing to draw.
var ErrEmptySnapshot = errors.New("snapshot has no nodes and no observations")

// Snapshot is the state of one frame as drawn.
type Snapshot struct {
	Title      string
	Observed   dlo.PointSet
	Nodes      dlo.PointSet
	GuideNodes dlo.PointSet
	// Occluded indexes into Nodes.
	Occluded []int
}

func (s Snapshot) empty() bool {
	return len(s.Observed) == 0 && len(s.Nodes) == 0
}

// split returns the node set partitioned by the occluded indices.
func (s Snapshot) split() (visible, occluded dlo.PointSet) {
	hidden := make(map[int]bool, len(s.Occluded))
	for _, i := range s.Occluded {
		hidden[i] = true
	}
	for i, p := range s.Nodes {
		if hidden[i] {
			occluded = append(occluded, p)
		} else {
			visible = append(visible, p)
		}
	}
	return visible, occluded
}

var (
	observedColor = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	chainColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	occludedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	guideColor    = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

const (
	pngWidth  = 8 * vg.Inch
	pngHeight = 6 * vg.Inch
)

func xys(ps dlo.PointSet) plotter.XYs {
	out := make(plotter.XYs, len(ps))
	for i, p := range ps {
		out[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return out
}

// WriteChainPNG draws the X-Y projection of s as a PNG.
func WriteChainPNG(w io.Writer, s Snapshot) error {
	if s.empty() {
		return ErrEmptySnapshot
	}

	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	if len(s.Observed) > 0 {
		obs, err := plotter.NewScatter(xys(s.Observed))
		if err != nil {
			return fmt.Errorf("observed scatter: %w", err)
		}
		obs.GlyphStyle.Color = observedColor
		obs.GlyphStyle.Radius = vg.Points(1)
		obs.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(obs)
		p.Legend.Add("observed", obs)
	}

	if len(s.GuideNodes) > 0 {
		guide, err := plotter.NewScatter(xys(s.GuideNodes))
		if err != nil {
			return fmt.Errorf("guide scatter: %w", err)
		}
		guide.GlyphStyle.Color = guideColor
		guide.GlyphStyle.Radius = vg.Points(3)
		guide.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(guide)
		p.Legend.Add("guide", guide)
	}

	if len(s.Nodes) > 0 {
		line, pts, err := plotter.NewLinePoints(xys(s.Nodes))
		if err != nil {
			return fmt.Errorf("chain line: %w", err)
		}
		line.Color = chainColor
		line.Width = vg.Points(1)
		pts.GlyphStyle.Color = chainColor
		pts.GlyphStyle.Radius = vg.Points(2.5)
		pts.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(line, pts)
		p.Legend.Add("nodes", line, pts)

		if _, occluded := s.split(); len(occluded) > 0 {
			occ, err := plotter.NewScatter(xys(occluded))
			if err != nil {
				return fmt.Errorf("occluded scatter: %w", err)
			}
			occ.GlyphStyle.Color = occludedColor
			occ.GlyphStyle.Radius = vg.Points(3)
			occ.GlyphStyle.Shape = draw.RingGlyph{}
			p.Add(occ)
			p.Legend.Add("occluded", occ)
		}
	}

	wt, err := p.WriterTo(pngWidth, pngHeight, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

func chart3D(ps dlo.PointSet) []opts.Chart3DData {
	out := make([]opts.Chart3DData, len(ps))
	for i, p := range ps {
		out[i] = opts.Chart3DData{Value: []interface{}{p.X, p.Y, p.Z}}
	}
	return out
}

// WriteChainHTML renders s as a standalone go-echarts 3-D scatter page.
func WriteChainHTML(w io.Writer, s Snapshot) error {
	if s.empty() {
		return ErrEmptySnapshot
	}

	visible, occluded := s.split()
	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DLO Tracker", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: s.Title, Subtitle: fmt.Sprintf("observed=%d nodes=%d occluded=%d", len(s.Observed), len(s.Nodes), len(occluded))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X (m)"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y (m)"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z (m)"}),
	)

	if len(s.Observed) > 0 {
		scatter.AddSeries("observed", chart3D(s.Observed),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#a0a0a0"}))
	}
	if len(visible) > 0 {
		scatter.AddSeries("nodes", chart3D(visible),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#1f77b4"}))
	}
	if len(occluded) > 0 {
		scatter.AddSeries("occluded", chart3D(occluded),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#d62728"}))
	}
	if len(s.GuideNodes) > 0 {
		scatter.AddSeries("guide", chart3D(s.GuideNodes),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#2ca02c"}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

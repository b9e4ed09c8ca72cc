package embedding

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var unrankedColor = color.Gray{Y: 160}

// RenderPlot writes a PNG scatter of points coloured by rank to path.
// Rows without a rank are drawn grey.
func RenderPlot(path string, points [][2]float64, ranks []*int64) error {
	if len(points) != len(ranks) {
		return fmt.Errorf("plot: %d points but %d ranks", len(points), len(ranks))
	}

	p := plot.New()
	p.Title.Text = "UMAP projection of cryptocurrencies"
	p.X.Label.Text = "UMAP dimension 1"
	p.Y.Label.Text = "UMAP dimension 2"

	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i].X, xys[i].Y = pt[0], pt[1]
	}
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}

	cmap := moreland.ExtendedBlackBody()
	lo, hi, ranked := rankRange(ranks)
	if ranked {
		if hi == lo {
			hi = lo + 1
		}
		cmap.SetMin(float64(lo))
		cmap.SetMax(float64(hi))
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		style := draw.GlyphStyle{Shape: draw.CircleGlyph{}, Radius: vg.Points(2.5), Color: unrankedColor}
		if ranks[i] != nil {
			if c, err := cmap.At(float64(*ranks[i])); err == nil {
				style.Color = c
			}
		}
		return style
	}
	p.Add(scatter)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("plot: create dir: %w", err)
	}
	wt, err := p.WriterTo(10*vg.Inch, 7*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("plot: write png: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("plot: %w", err)
	}
	return os.Rename(tmp, path)
}

func rankRange(ranks []*int64) (lo, hi int64, ok bool) {
	for _, r := range ranks {
		if r == nil {
			continue
		}
		if !ok {
			lo, hi, ok = *r, *r, true
			continue
		}
		lo = min(lo, *r)
		hi = max(hi, *r)
	}
	return lo, hi, ok
}

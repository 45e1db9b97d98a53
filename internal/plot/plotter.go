// Package plot renders smoothed strain fields: a PNG of the curvature and
// stretch profiles per time step, a PNG of the centerline shapes, and an
// HTML page of the profiles over time.
package plot

import (
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/fsutil"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
)

// Plotter writes plots into a directory.
type Plotter struct {
	fs       fsutil.FileSystem
	dir      string
	Width    vg.Length
	Height   vg.Length
	Progress bool
}

// NewPlotter returns a plotter writing into dir through fsys (the OS
// filesystem when nil).
func NewPlotter(fsys fsutil.FileSystem, dir string) *Plotter {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Plotter{fs: fsys, dir: dir, Width: 10 * vg.Inch, Height: 8 * vg.Inch}
}

// ProfileFile is the PNG name of a time step's profile.
func ProfileFile(timeIndex int) string {
	return fmt.Sprintf("strain_t%05d.png", timeIndex)
}

// GenerateProfiles writes one profile PNG per field and returns how many
// were written.
func (p *Plotter) GenerateProfiles(fields []*smoothing.StrainField) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	if err := p.fs.MkdirAll(p.dir, 0755); err != nil {
		return 0, errors.Wrapf(err, "creating %s", p.dir)
	}
	bar := monitoring.NewProgress("plot", len(fields), p.Progress)
	defer bar.Finish()

	count := 0
	for _, f := range fields {
		plots, err := profilePlots(f)
		if err != nil {
			return count, errors.Wrapf(err, "t=%d", f.TimeIndex)
		}
		if err := p.savePNG(ProfileFile(f.TimeIndex), plots); err != nil {
			return count, err
		}
		count++
		bar.Increment()
	}
	monitoring.Logf("wrote %d strain profiles to %s", count, p.dir)
	return count, nil
}

// profilePlots stacks the curvature components above the stretch.
func profilePlots(f *smoothing.StrainField) ([][]*plot.Plot, error) {
	pk := plot.New()
	pk.Title.Text = fmt.Sprintf("Curvature (t=%.3f, index %d)", f.Time, f.TimeIndex)
	pk.X.Label.Text = "Rest arc length s"
	pk.Y.Label.Text = "κ (1/length)"

	pn := plot.New()
	pn.Title.Text = "Stretch"
	pn.X.Label.Text = "Rest arc length s"
	pn.Y.Label.Text = "ν"

	names := [3]string{"κ1 (bend d1)", "κ2 (bend d2)", "κ3 (twist)"}
	colors := generateColors(4)
	for c := 0; c < 3; c++ {
		pts := make(plotter.XYs, len(f.Kappa))
		for j, k := range f.Kappa {
			pts[j] = plotter.XY{X: f.S[j+1], Y: component(k, c)}
		}
		if err := addLine(pk, pts, colors[c], names[c]); err != nil {
			return nil, err
		}
	}

	pts := make(plotter.XYs, len(f.Stretch))
	for j, nu := range f.Stretch {
		pts[j] = plotter.XY{X: (f.S[j] + f.S[j+1]) / 2, Y: nu}
	}
	if err := addLine(pn, pts, colors[3], "ν"); err != nil {
		return nil, err
	}

	for _, pl := range []*plot.Plot{pk, pn} {
		pl.Legend.Top = true
		pl.Legend.Left = false
		pl.Legend.XOffs = -10
		pl.Legend.YOffs = -10
	}
	return [][]*plot.Plot{{pk}, {pn}}, nil
}

// GenerateShapes overlays every field's centerline, projected on the x-z
// and y-z planes, in shapes.png.
func (p *Plotter) GenerateShapes(fields []*smoothing.StrainField) error {
	if len(fields) == 0 {
		return nil
	}
	if err := p.fs.MkdirAll(p.dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", p.dir)
	}
	xz, yz := plot.New(), plot.New()
	xz.Title.Text, yz.Title.Text = "Centerline (x-z)", "Centerline (y-z)"
	xz.X.Label.Text, yz.X.Label.Text = "x", "y"
	xz.Y.Label.Text, yz.Y.Label.Text = "z", "z"

	colors := generateColors(len(fields))
	step := max(1, len(fields)/8)
	for i, f := range fields {
		a := make(plotter.XYs, len(f.Position))
		b := make(plotter.XYs, len(f.Position))
		for j, r := range f.Position {
			a[j] = plotter.XY{X: r.X, Y: r.Z}
			b[j] = plotter.XY{X: r.Y, Y: r.Z}
		}
		label := ""
		if i%step == 0 {
			label = fmt.Sprintf("t=%.3f", f.Time)
		}
		if err := addLine(xz, a, colors[i], label); err != nil {
			return err
		}
		if err := addLine(yz, b, colors[i], label); err != nil {
			return err
		}
	}
	xz.Legend.Top, yz.Legend.Top = true, true
	return p.savePNG("shapes.png", [][]*plot.Plot{{xz, yz}})
}

func addLine(pl *plot.Plot, pts plotter.XYs, c color.Color, label string) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1.5)
	pl.Add(line)
	if label != "" {
		pl.Legend.Add(label, line)
	}
	return nil
}

// savePNG draws a grid of aligned plots into one PNG.
func (p *Plotter) savePNG(name string, plots [][]*plot.Plot) error {
	img := vgimg.New(p.Width, p.Height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(plots),
		Cols: len(plots[0]),
		PadX: vg.Millimeter * 4,
		PadY: vg.Millimeter * 4,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		for j := range plots[i] {
			plots[i][j].Draw(canvases[i][j])
		}
	}

	path := filepath.Join(p.dir, name)
	w, err := p.fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		w.Close()
		return errors.Wrapf(err, "encoding %s", path)
	}
	return errors.Wrapf(w.Close(), "closing %s", path)
}

func component(v r3.Vector, c int) float64 {
	switch c {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// generateColors spreads n hues around the colour wheel.
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

package plot

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
)

// maxSeries caps how many time steps one profile chart overlays.
const maxSeries = 12

// HTMLFile is the name of the interactive page.
const HTMLFile = "strain.html"

// GenerateHTML writes the interactive strain page for a problem.
func (p *Plotter) GenerateHTML(problem string, fields []*smoothing.StrainField) error {
	if err := p.fs.MkdirAll(p.dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", p.dir)
	}
	path := filepath.Join(p.dir, HTMLFile)
	w, err := p.fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := RenderHTML(w, problem, fields); err != nil {
		w.Close()
		return errors.Wrapf(err, "rendering %s", path)
	}
	return errors.Wrapf(w.Close(), "closing %s", path)
}

// RenderHTML renders one page with a profile chart per strain component,
// overlaying a subsample of the time steps, followed by the fit quality
// over time.
func RenderHTML(w io.Writer, problem string, fields []*smoothing.StrainField) error {
	shown := subsample(fields, maxSeries)

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Strain - %s", problem)
	for c, name := range []string{"κ1 (bend d1)", "κ2 (bend d2)", "κ3 (twist)"} {
		page.AddCharts(kappaChart(name, c, shown))
	}
	page.AddCharts(stretchChart(shown), qualityChart(fields))
	return page.Render(w)
}

func newLine(title, subtitle, xName, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: xName, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)
	return line
}

func kappaChart(name string, c int, fields []*smoothing.StrainField) *charts.Line {
	line := newLine(name, "interior nodes", "s", "1/length")
	if len(fields) == 0 {
		return line
	}
	line.SetXAxis(axis(fields[0].S[1 : len(fields[0].S)-1]))
	for _, f := range fields {
		data := make([]opts.LineData, len(f.Kappa))
		for j, k := range f.Kappa {
			data[j] = opts.LineData{Value: component(k, c)}
		}
		line.AddSeries(seriesName(f), data)
	}
	return line
}

func stretchChart(fields []*smoothing.StrainField) *charts.Line {
	line := newLine("ν (stretch)", "element midpoints", "s", "ν")
	if len(fields) == 0 {
		return line
	}
	s := fields[0].S
	mid := make([]float64, len(s)-1)
	for j := range mid {
		mid[j] = (s[j] + s[j+1]) / 2
	}
	line.SetXAxis(axis(mid))
	for _, f := range fields {
		data := make([]opts.LineData, len(f.Stretch))
		for j, nu := range f.Stretch {
			data[j] = opts.LineData{Value: nu}
		}
		line.AddSeries(seriesName(f), data)
	}
	return line
}

func qualityChart(fields []*smoothing.StrainField) *charts.Line {
	line := newLine("Fit quality", "per time step", "time", "")
	times := make([]float64, len(fields))
	rms := make([]opts.LineData, len(fields))
	iters := make([]opts.LineData, len(fields))
	for i, f := range fields {
		times[i] = f.Time
		rms[i] = opts.LineData{Value: f.MarkerRMS}
		iters[i] = opts.LineData{Value: f.Iterations}
	}
	line.SetXAxis(axis(times)).
		AddSeries("marker RMS", rms).
		AddSeries("iterations", iters)
	return line
}

// subsample picks at most n evenly spaced fields, always keeping the last.
func subsample(fields []*smoothing.StrainField, n int) []*smoothing.StrainField {
	if len(fields) <= n {
		return fields
	}
	out := make([]*smoothing.StrainField, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fields[i*(len(fields)-1)/(n-1)])
	}
	return out
}

func axis(values []float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return out
}

func seriesName(f *smoothing.StrainField) string {
	return fmt.Sprintf("t=%.3f", f.Time)
}

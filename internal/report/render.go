package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
)

// ResidualStats summarises the residuals observed for one stage.
type ResidualStats struct {
	Count  int
	Mean   float64
	Median float64
	P95    float64
	Max    float64
}

// Residuals returns statistics for the residuals observed in a stage. The
// second return is false when nothing was observed.
func (s *Summary) Residuals(stage Stage) (ResidualStats, bool) {
	s.mu.Lock()
	data := stats.LoadRawData(append([]float64(nil), s.residuals[stage]...))
	s.mu.Unlock()
	if len(data) == 0 {
		return ResidualStats{}, false
	}

	out := ResidualStats{Count: len(data)}
	var err error
	if out.Mean, err = stats.Mean(data); err != nil {
		return ResidualStats{}, false
	}
	if out.Median, err = stats.Median(data); err != nil {
		return ResidualStats{}, false
	}
	if out.P95, err = stats.Percentile(data, 95); err != nil {
		return ResidualStats{}, false
	}
	if out.Max, err = stats.Max(data); err != nil {
		return ResidualStats{}, false
	}
	return out, true
}

// Render writes the completeness table, residual statistics and the failure
// list as text tables.
func (s *Summary) Render(w io.Writer) error {
	var b strings.Builder

	t := table.NewWriter()
	t.SetTitle("Run summary")
	t.AppendHeader(table.Row{"Stage", "Completeness", "Residuals", "Mean", "Median", "P95", "Max"})
	for _, stage := range []Stage{StageCalibration, StageTriangulation, StageSmoothing} {
		frac, tallied := s.Completeness(stage)
		rs, observed := s.Residuals(stage)
		if !tallied && !observed {
			continue
		}
		completeness := "-"
		if tallied {
			completeness = fmt.Sprintf("%.1f%%", 100*frac)
		}
		if !observed {
			t.AppendRow(table.Row{stage, completeness, 0, "-", "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{
			stage, completeness, rs.Count,
			fmt.Sprintf("%.4g", rs.Mean),
			fmt.Sprintf("%.4g", rs.Median),
			fmt.Sprintf("%.4g", rs.P95),
			fmt.Sprintf("%.4g", rs.Max),
		})
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	failures := s.Failures()
	if len(failures) > 0 {
		ft := table.NewWriter()
		ft.SetTitle("Failures and annotations")
		ft.AppendHeader(table.Row{"#", "Stage", "Kind", "Where", "Diagnostic", "Error"})
		for i, f := range failures {
			diag := "-"
			if f.Diagnostic != 0 {
				diag = fmt.Sprintf("%.4g", f.Diagnostic)
			}
			ft.AppendRow(table.Row{i + 1, f.Stage, f.Kind, f.Where.String(), diag, f.Err.Error()})
		}
		b.WriteString(ft.Render())
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

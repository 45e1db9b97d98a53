package dataio

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

var trajectoryHeader = []string{
	"time_index", "time", "label", "x", "y", "z",
	"residual", "views_used", "low_confidence", "interpolated",
}

// FrameTime converts a frame index to seconds. A non-positive fps leaves
// time in frames.
func FrameTime(index int, fps float64) float64 {
	if fps <= 0 {
		return float64(index)
	}
	return float64(index) / fps
}

// WriteTrajectory writes triangulated positions as CSV in the order given.
func WriteTrajectory(w io.Writer, positions []triangulation.Position3D, fps float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(trajectoryHeader); err != nil {
		return err
	}
	for _, p := range positions {
		if err := cw.Write([]string{
			strconv.Itoa(p.TimeIndex),
			formatFloat(FrameTime(p.TimeIndex, fps)),
			p.Label,
			formatFloat(p.Coordinate.X),
			formatFloat(p.Coordinate.Y),
			formatFloat(p.Coordinate.Z),
			formatFloat(p.Residual),
			strconv.Itoa(p.ViewsUsed),
			strconv.FormatBool(p.LowConfidence),
			strconv.FormatBool(p.Interpolated),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTrajectory parses a trajectory CSV written by WriteTrajectory. The
// time column is informational and ignored.
func ReadTrajectory(r io.Reader) ([]triangulation.Position3D, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(trajectoryHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading trajectory header")
	}
	if err := checkHeader(header, trajectoryHeader); err != nil {
		return nil, err
	}

	var out []triangulation.Position3D
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "trajectory line %d", line)
		}
		p, err := parsePosition(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "trajectory line %d", line)
		}
		out = append(out, p)
	}
}

func parsePosition(rec []string) (triangulation.Position3D, error) {
	var (
		p   = triangulation.Position3D{Label: rec[2]}
		err error
	)
	if p.TimeIndex, err = strconv.Atoi(rec[0]); err != nil {
		return p, errors.Wrap(err, "time_index")
	}
	var xyz [3]float64
	for i := range xyz {
		if xyz[i], err = strconv.ParseFloat(rec[3+i], 64); err != nil {
			return p, errors.Wrap(err, trajectoryHeader[3+i])
		}
	}
	p.Coordinate = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	if p.Residual, err = strconv.ParseFloat(rec[6], 64); err != nil {
		return p, errors.Wrap(err, "residual")
	}
	if p.ViewsUsed, err = strconv.Atoi(rec[7]); err != nil {
		return p, errors.Wrap(err, "views_used")
	}
	if p.LowConfidence, err = strconv.ParseBool(rec[8]); err != nil {
		return p, errors.Wrap(err, "low_confidence")
	}
	if p.Interpolated, err = strconv.ParseBool(rec[9]); err != nil {
		return p, errors.Wrap(err, "interpolated")
	}
	return p, nil
}

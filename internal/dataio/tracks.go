// Package dataio reads and writes the pipeline's file artifacts: the
// calibration point store, calibrated camera models, 2D marker tracks,
// triangulated trajectories and the strain result consumed by external
// visualisation.
package dataio

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

// Missing is the pixel coordinate tracking writes for lost frames.
const Missing = -1

var trackHeader = []string{"label", "camera", "frame", "u", "v"}

// Track is one marker's pixel trajectory in one camera. Pixels[i] is the
// observation at frame Start+i; lost frames hold (Missing, Missing).
type Track struct {
	Label    string
	CameraID int
	Start    int
	Pixels   []r2.Point
}

// End returns one past the last frame covered by the track.
func (t *Track) End() int { return t.Start + len(t.Pixels) }

// Trim marks every frame at or beyond frame as lost. With reverse set it
// marks every frame before frame instead. Frames outside the track are
// ignored.
func (t *Track) Trim(frame int, reverse bool) {
	rel := frame - t.Start
	rel = max(0, min(rel, len(t.Pixels)))
	lost := r2.Point{X: Missing, Y: Missing}
	if reverse {
		for i := 0; i < rel; i++ {
			t.Pixels[i] = lost
		}
		return
	}
	for i := rel; i < len(t.Pixels); i++ {
		t.Pixels[i] = lost
	}
}

// TrimTrajectory trims every track of label (in any camera) at frame.
// It returns the number of tracks touched.
func TrimTrajectory(tracks []*Track, label string, frame int, reverse bool) int {
	n := 0
	for _, t := range tracks {
		if t.Label != label || frame < t.Start || frame > t.End() {
			continue
		}
		t.Trim(frame, reverse)
		n++
	}
	return n
}

// ReadTracks parses a track CSV with columns label,camera,frame,u,v. Rows
// may come in any order; frames a track does not list are filled with the
// Missing sentinel. Tracks are returned in first-seen order.
func ReadTracks(r io.Reader) ([]*Track, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(trackHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading track header")
	}
	if err := checkHeader(header, trackHeader); err != nil {
		return nil, err
	}

	type key struct {
		label  string
		camera int
	}
	type sample struct {
		frame int
		px    r2.Point
	}
	var order []key
	samples := make(map[key][]sample)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "track line %d", line)
		}
		camera, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, errors.Wrapf(err, "track line %d: camera", line)
		}
		frame, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, errors.Wrapf(err, "track line %d: frame", line)
		}
		if frame < 0 {
			return nil, errors.Errorf("track line %d: negative frame %d", line, frame)
		}
		u, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "track line %d: u", line)
		}
		v, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "track line %d: v", line)
		}
		k := key{rec[0], camera}
		if _, ok := samples[k]; !ok {
			order = append(order, k)
		}
		samples[k] = append(samples[k], sample{frame, r2.Point{X: u, Y: v}})
	}

	tracks := make([]*Track, 0, len(order))
	for _, k := range order {
		ss := samples[k]
		sort.SliceStable(ss, func(i, j int) bool { return ss[i].frame < ss[j].frame })
		start, end := ss[0].frame, ss[len(ss)-1].frame
		t := &Track{Label: k.label, CameraID: k.camera, Start: start, Pixels: make([]r2.Point, end-start+1)}
		for i := range t.Pixels {
			t.Pixels[i] = r2.Point{X: Missing, Y: Missing}
		}
		for _, s := range ss {
			t.Pixels[s.frame-start] = s.px
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// WriteTracks writes tracks as CSV, one row per frame including lost ones.
func WriteTracks(w io.Writer, tracks []*Track) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(trackHeader); err != nil {
		return err
	}
	for _, t := range tracks {
		for i, px := range t.Pixels {
			if err := cw.Write([]string{
				t.Label,
				strconv.Itoa(t.CameraID),
				strconv.Itoa(t.Start + i),
				formatFloat(px.X),
				formatFloat(px.Y),
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// TrackSet converts tracks into the triangulation input, keyed by frame.
// Lost frames are kept as missing observations so the (label, frame) pair
// is still attempted.
func TrackSet(tracks []*Track) *triangulation.TrackSet {
	ts := triangulation.NewTrackSet()
	for _, t := range tracks {
		for i, px := range t.Pixels {
			ts.Add(t.Label, t.Start+i, triangulation.Observation{CameraID: t.CameraID, Pixel: px})
		}
	}
	return ts
}

func checkHeader(got, want []string) error {
	if len(got) != len(want) {
		return errors.Errorf("header has %d columns, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return errors.Errorf("header column %d is %q, want %q", i+1, got[i], want[i])
		}
	}
	return nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

package dataio

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/fsutil"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

const trackCSV = `label,camera,frame,u,v
m0,1,2,100.5,200
m0,1,0,98,199
m1,2,1,-1,-1
m1,2,3,50,60
m0,2,1,300,310
`

var lost = r2.Point{X: Missing, Y: Missing}

func TestReadTracks(t *testing.T) {
	tracks, err := ReadTracks(strings.NewReader(trackCSV))
	require.NoError(t, err)

	want := []*Track{
		{Label: "m0", CameraID: 1, Start: 0, Pixels: []r2.Point{{X: 98, Y: 199}, lost, {X: 100.5, Y: 200}}},
		{Label: "m1", CameraID: 2, Start: 1, Pixels: []r2.Point{lost, lost, {X: 50, Y: 60}}},
		{Label: "m0", CameraID: 2, Start: 1, Pixels: []r2.Point{{X: 300, Y: 310}}},
	}
	if diff := cmp.Diff(want, tracks); diff != "" {
		t.Errorf("tracks mismatch (-want +got):\n%s", diff)
	}

	ts := TrackSet(tracks)
	assert.Equal(t, []string{"m0", "m1"}, ts.Labels())
	assert.Equal(t, []int{0, 1, 2, 3}, ts.Times())
	obs := ts.Observations("m0", 1)
	require.Len(t, obs, 2)
	assert.True(t, obs[0].Missing(), "padded frame is an occlusion")
	assert.False(t, obs[1].Missing())
	assert.Equal(t, 2, obs[1].CameraID)
}

func TestTracksRoundTrip(t *testing.T) {
	tracks, err := ReadTracks(strings.NewReader(trackCSV))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTracks(&buf, tracks))
	again, err := ReadTracks(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(tracks, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadTracks_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "track header"},
		{"wrong header", "label,cam,frame,u,v\n", `"cam"`},
		{"short row", "label,camera,frame,u,v\nm0,1,0,5\n", "line 2"},
		{"bad camera", "label,camera,frame,u,v\nm0,x,0,5,5\n", "camera"},
		{"negative frame", "label,camera,frame,u,v\nm0,1,-3,5,5\n", "negative frame"},
		{"bad pixel", "label,camera,frame,u,v\nm0,1,0,5,abc\n", "line 2: v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTracks(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTrimTrajectory(t *testing.T) {
	mk := func(camera int) *Track {
		return &Track{Label: "m3", CameraID: camera, Start: 10, Pixels: []r2.Point{{X: 1}, {X: 2}, {X: 3}, {X: 4}}}
	}
	tracks := []*Track{mk(1), mk(2), {Label: "m4", CameraID: 1, Start: 10, Pixels: []r2.Point{{X: 9}}}}

	n := TrimTrajectory(tracks, "m3", 12, false)
	assert.Equal(t, 2, n)
	for _, tr := range tracks[:2] {
		assert.Equal(t, []r2.Point{{X: 1}, {X: 2}, lost, lost}, tr.Pixels)
	}
	assert.Equal(t, []r2.Point{{X: 9}}, tracks[2].Pixels, "other labels untouched")

	rev := mk(1)
	assert.Equal(t, 1, TrimTrajectory([]*Track{rev}, "m3", 11, true))
	assert.Equal(t, []r2.Point{lost, {X: 2}, {X: 3}, {X: 4}}, rev.Pixels)

	outside := mk(1)
	assert.Zero(t, TrimTrajectory([]*Track{outside}, "m3", 30, false))
	assert.Equal(t, mk(1).Pixels, outside.Pixels)
}

func TestTrajectoryRoundTrip(t *testing.T) {
	positions := []triangulation.Position3D{
		{Label: "m0", TimeIndex: 0, Coordinate: r3.Vector{X: 0.1, Y: -2.5, Z: 1e-7}, Residual: 0.25, ViewsUsed: 4},
		{Label: "m1", TimeIndex: 0, Coordinate: r3.Vector{X: 1.0 / 3, Y: 2, Z: 3}, Residual: 41, ViewsUsed: 2, LowConfidence: true},
		{Label: "m1", TimeIndex: 1, Coordinate: r3.Vector{X: 4, Y: 5, Z: 6}, LowConfidence: true, Interpolated: true},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteTrajectory(&buf, positions, 60))
	assert.Contains(t, buf.String(), "1,0.016666666666666666,m1,")

	got, err := ReadTrajectory(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(positions, got); diff != "" {
		t.Errorf("trajectory mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameTime(t *testing.T) {
	assert.Equal(t, 0.5, FrameTime(30, 60))
	assert.Equal(t, 30.0, FrameTime(30, 0))
}

func TestCalibrationStoreRoundTrip(t *testing.T) {
	store := calibration.NewStore()
	lab := r3.Vector{X: 10, Y: 0, Z: 5}
	require.NoError(t, store.Add(calibration.Point{CameraID: 1, FrameID: 0, Label: "a", Pixel: r2.Point{X: 12.5, Y: 40}, Lab: &lab, Locked: true}))
	require.NoError(t, store.Add(calibration.Point{CameraID: 1, FrameID: 0, Label: "b", Pixel: r2.Point{X: 30, Y: 41}}))
	require.NoError(t, store.Add(calibration.Point{CameraID: 2, FrameID: 3, Label: "a", Pixel: r2.Point{X: 7, Y: 8}, Lab: &lab}))

	var buf bytes.Buffer
	require.NoError(t, WriteCalibrationStore(&buf, store))
	got, err := ReadCalibrationStore(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(store.Points(), got.Points()); diff != "" {
		t.Errorf("store mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCalibrationStore_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{"points": [`},
		{"unknown field", `{"points": [], "extra": 1}`},
		{"duplicate label", `{"points": [
			{"camera": 1, "frame": 0, "label": "a", "pixel": [1, 2]},
			{"camera": 1, "frame": 0, "label": "a", "pixel": [3, 4]}]}`},
		{"locked without lab", `{"points": [{"camera": 1, "frame": 0, "label": "a", "pixel": [1, 2], "locked": true}]}`},
		{"zero camera", `{"points": [{"camera": 0, "frame": 0, "label": "a", "pixel": [1, 2]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCalibrationStore(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, calibration.ErrMalformedStore)
		})
	}
}

func TestCameraModelsRoundTrip(t *testing.T) {
	models := []*calibration.CameraModel{
		{CameraID: 1, Params: [11]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, FitResidual: 0.3, PointsUsed: 14, Condition: 2e4, Quality: calibration.QualityExcellent},
		{CameraID: 4, Params: [11]float64{-0.5}, FitResidual: 3.5, PointsUsed: 6, Condition: 1e6, Quality: calibration.QualityPoor},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCameraModels(&buf, models))
	got, err := ReadCameraModels(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(models, got); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}

	_, err = ReadCameraModels(strings.NewReader(`[{"camera_id": 2}, {"camera_id": 2}]`))
	assert.ErrorContains(t, err, "duplicate camera 2")
	_, err = ReadCameraModels(strings.NewReader(`[{"camera_id": -1}]`))
	assert.ErrorContains(t, err, "must be positive")
}

func testField() *smoothing.StrainField {
	rot := smoothing.ExpSO3(r3.Vector{Y: 0.1})
	return &smoothing.StrainField{
		TimeIndex:  12,
		Time:       0.2,
		S:          []float64{0, 50, 100},
		Position:   []r3.Vector{{}, {Z: 50}, {X: 2.5, Z: 99.9}},
		Director:   []smoothing.Mat3{smoothing.Identity(), rot.T()},
		Kappa:      []r3.Vector{{X: 0.002, Y: -0.001, Z: 0.0005}},
		Twist:      []float64{0.0005},
		Stretch:    []float64{1, 1.02},
		Shear:      []r3.Vector{{Z: 1}, {Z: 1.02}},
		Radius:     []float64{6, 5.94},
		Iterations: 9,
		MarkerRMS:  0.04,
	}
}

func TestResultRoundTrip(t *testing.T) {
	markers, length, err := smoothing.MarkersFromSpacing([]string{"m0", "m1", "m2", "m3"}, []float64{30, 40, 30})
	require.NoError(t, err)
	opts := smoothing.DefaultOptions()
	engine, err := smoothing.NewEngine(markers, length, opts, nil)
	require.NoError(t, err)

	field := testField()
	res := NewResult("bend", 60, engine, []*smoothing.StrainField{field})
	assert.Equal(t, 100.0, res.RestLength)
	require.Len(t, res.Markers, 4)
	assert.Equal(t, 70.0, res.Markers[2].S0)

	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, res))
	for _, key := range []string{`"time"`, `"data_index"`, `"radius"`, `"position"`, `"director"`, `"shear"`, `"kappa"`} {
		assert.Contains(t, buf.String(), key)
	}

	got, err := ReadResult(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(res, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	fields := got.Fields()
	require.Len(t, fields, 1)
	field.Markers = 0 // not part of the artifact
	if diff := cmp.Diff(field, fields[0]); diff != "" {
		t.Errorf("field mismatch (-want +got):\n%s", diff)
	}
}

func TestReadResult_Inconsistent(t *testing.T) {
	_, err := ReadResult(strings.NewReader(`{"steps": [{"data_index": 4, "s": [0, 1], "position": [[0,0,0],[0,0,1]], "shear": [[0,0,1]], "radius": [1], "director": []}]}`))
	assert.ErrorContains(t, err, "data_index 4")
}

func TestFiles_MemoryFileSystem(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	files := NewFiles(mfs)
	layout := Layout{Root: "/data", Problem: "bend"}

	path, err := layout.Path(TrajectoryFile, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "bend", TrajectoryFile), path)

	positions := []triangulation.Position3D{{Label: "m0", TimeIndex: 3, Coordinate: r3.Vector{X: 1}, ViewsUsed: 2}}
	require.NoError(t, files.SaveTrajectory(path, positions, 0))
	assert.True(t, mfs.Exists(path))

	got, err := files.LoadTrajectory(path)
	require.NoError(t, err)
	assert.Equal(t, positions, got)

	_, err = files.LoadCameraModels("/data/bend/" + CameraModelsFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), CameraModelsFile)

	override, err := layout.Path(TracksFile, "/elsewhere/t.csv")
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/t.csv", override)
}

func TestFiles_MalformedStoreKeepsSentinel(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	w, err := mfs.Create("points.json")
	require.NoError(t, err)
	w.Write([]byte(`{"points": 3}`))
	require.NoError(t, w.Close())

	_, err = NewFiles(mfs).LoadCalibrationStore("points.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, calibration.ErrMalformedStore))
	assert.Contains(t, err.Error(), "points.json")
}

func TestLayout_SanitizesProblem(t *testing.T) {
	layout := Layout{Root: "/data", Problem: "../../etc"}
	assert.Equal(t, filepath.Join("/data", "etc"), layout.Dir())
}
